package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInspect(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--config", f.configPath, "-o", "json", "inspect", "3")
	if err != nil {
		t.Fatalf("inspect error = %v", err)
	}
	var info DeltaInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if info.Delta != 3 || !info.Full || info.Agent != testAgent {
		t.Fatalf("info = %+v, want full delta 3 of %s", info, testAgent)
	}
	if info.Compression != "zstd" || !info.Encrypted || info.Cipher == "" {
		t.Fatalf("info = %+v, want encrypted zstd frame", info)
	}
	if info.Associations == 0 || info.NextID == 0 || info.Payload == 0 {
		t.Fatalf("info = %+v, want objects", info)
	}
	if len(info.ClientData) != 1 || info.ClientData[0] != "planner" {
		t.Fatalf("ClientData = %v, want [planner]", info.ClientData)
	}

	out, err = run(t, "--config", f.configPath, "-o", "json", "inspect", "4")
	if err != nil {
		t.Fatal(err)
	}
	info = DeltaInfo{}
	json.Unmarshal([]byte(out), &info)
	if info.Full {
		t.Fatal("delta 4 reported as full, want incremental")
	}
}

func TestInspect_Table(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--config", f.configPath, "inspect", "0")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "FIELD") || !strings.Contains(out, "client_data") {
		t.Fatalf("table output = %q", out)
	}
}

func TestInspect_HeaderOnly(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--config", f.configPath, "-o", "json", "inspect", "--header-only", "1")
	if err != nil {
		t.Fatalf("inspect --header-only error = %v", err)
	}
	var info DeltaInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatal(err)
	}
	if info.Agent != "" || info.Size == 0 || !info.Encrypted {
		t.Fatalf("info = %+v, want header fields only", info)
	}

	f.corrupt(t, 1)
	_, err = run(t, "--config", f.configPath, "inspect", "--header-only", "1")
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("inspect corrupted error = %v, want checksum mismatch", err)
	}
}

func TestInspect_OtherAgentKey(t *testing.T) {
	f := newFixture(t)

	// Keys are derived per agent, so reading agent-1's deltas as another
	// agent fails to decrypt.
	cfg := strings.Replace(readFile(t, f.configPath), "name: "+testAgent, "name: intruder", 1)
	writeFile(t, f.configPath, cfg)
	if err := os.Rename(f.backend.Dir(), filepath.Join(filepath.Dir(f.backend.Dir()), "intruder")); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "--config", f.configPath, "inspect", "0"); err == nil {
		t.Fatal("inspect with another agent's key succeeded")
	}
}

func TestInspect_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no argument", []string{"inspect"}, "exactly one"},
		{"not a number", []string{"inspect", "x"}, "invalid delta number"},
		{"negative", []string{"inspect", "--", "-1"}, "invalid delta number"},
		{"missing", []string{"inspect", "99"}, "99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"--config", f.configPath}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}
