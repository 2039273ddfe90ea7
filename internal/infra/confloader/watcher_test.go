package confloader

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/config"
)

func startWatcher(t *testing.T, path string) <-chan *config.AgentConfig {
	t.Helper()
	reloaded := make(chan *config.AgentConfig, 16)
	w, err := NewWatcher(path, nil, func(cfg *config.AgentConfig) { reloaded <- cfg },
		WithDebounce(20*time.Millisecond),
		WithWatcherLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return reloaded
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	writeConfig(t, path, "log:\n  level: info\n")
	reloaded := startWatcher(t, path)

	writeConfig(t, path, "log:\n  level: debug\n")

	select {
	case cfg := <-reloaded:
		if cfg.Log.Level != "debug" {
			t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	writeConfig(t, path, "log:\n  level: info\n")
	reloaded := startWatcher(t, path)

	writeConfig(t, path, "log:\n  format: xml\n")

	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid config was reloaded: %+v", cfg.Log)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	writeConfig(t, path, "log:\n  level: info\n")
	reloaded := startWatcher(t, path)

	writeConfig(t, filepath.Join(dir, "other.yaml"), "log:\n  level: debug\n")

	select {
	case <-reloaded:
		t.Fatal("unexpected reload for another file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_NonexistentDir(t *testing.T) {
	_, err := NewWatcher("/nonexistent/dir/agent.yaml", nil, func(*config.AgentConfig) {})
	if err == nil {
		t.Error("NewWatcher() should fail for a missing directory")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	w, err := NewWatcher(path, nil, func(*config.AgentConfig) {})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}
