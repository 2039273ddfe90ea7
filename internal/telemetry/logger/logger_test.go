package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decode(t *testing.T, line []byte) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("json.Unmarshal(%q) error = %v", line, err)
	}
	return entry
}

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
		json    bool
	}{
		{"", false, true},
		{"json", false, true},
		{"JSON", false, true},
		{"text", false, false},
		{"logfmt", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(Config{Format: tt.format, Output: &buf})
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) error = %v, want error %v", tt.format, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			l.Info("epoch committed", "delta", 3)
			out := buf.String()
			if tt.json != strings.HasPrefix(out, "{") {
				t.Fatalf("output = %q, want json %v", out, tt.json)
			}
			if !strings.Contains(out, "delta") {
				t.Fatalf("output = %q, missing attribute", out)
			}
		})
	}
}

func TestNew_Attributes(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.With("agent", "planner").Warn("backend failed", "backend", "kv")

	entry := decode(t, buf.Bytes())
	if entry["level"] != "WARN" || entry["msg"] != "backend failed" {
		t.Fatalf("entry = %v", entry)
	}
	if entry["agent"] != "planner" || entry["backend"] != "kv" {
		t.Fatalf("entry = %v, want agent and backend", entry)
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { SetLevel("info") })

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	if Level() != slog.LevelDebug {
		t.Fatalf("Level() = %v, want DEBUG", Level())
	}
	l.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatal("SetLevel did not reach an existing logger")
	}

	if err := SetLevel("loud"); err == nil {
		t.Fatal("SetLevel(loud) succeeded")
	}
	if Level() != slog.LevelDebug {
		t.Fatal("failed SetLevel changed the level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v (error %v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
