package command

import (
	"strings"
	"testing"
)

func TestApp(t *testing.T) {
	app := App()
	if app.Name != "ckptctl" {
		t.Fatalf("Name = %q, want ckptctl", app.Name)
	}

	commands := make(map[string]bool)
	for _, c := range app.Commands {
		commands[c.Name] = true
	}
	for _, want := range []string{"sets", "inspect", "verify", "config"} {
		if !commands[want] {
			t.Errorf("missing command %q", want)
		}
	}

	flags := make(map[string]bool)
	for _, f := range app.Flags {
		for _, n := range f.Names() {
			flags[n] = true
		}
	}
	for _, want := range []string{"config", "c", "agent", "backend", "output", "o", "wide"} {
		if !flags[want] {
			t.Errorf("missing global flag %q", want)
		}
	}
}

func TestOpenBackends_Selection(t *testing.T) {
	f := newFixture(t)

	if _, err := run(t, "--config", f.configPath, "--backend", "nope", "sets"); err == nil || !strings.Contains(err.Error(), `no backend named "nope"`) {
		t.Fatalf("sets --backend nope error = %v, want no backend named", err)
	}
	if _, err := run(t, "--config", f.configPath, "--backend", "file", "sets"); err != nil {
		t.Fatalf("sets --backend file error = %v", err)
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	f := newFixture(t)
	if _, err := run(t, "--config", f.configPath, "-o", "xml", "sets"); err == nil {
		t.Fatal("sets -o xml succeeded, want error")
	}
}
