package backends

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codeaudit/cougaar-core-sub004/internal/config"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/storagetest"
)

func TestOpenAll(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PersistenceSection{
		DisableArchive:   true,
		OwnershipTimeout: time.Second,
		Backends: []config.BackendConfig{
			{Name: "local", Type: config.BackendFile, Path: filepath.Join(dir, "file")},
			{Type: config.BackendBuffered, Path: filepath.Join(dir, "buffered")},
			{Name: "db", Type: config.BackendSQL, DSN: filepath.Join(dir, "ckpt.db")},
			{Type: config.BackendKV, Path: filepath.Join(dir, "kv")},
			{Type: config.BackendNull},
		},
	}

	reg := prometheus.NewRegistry()
	bs, err := OpenAll(context.Background(), cfg, storage.Options{Agent: "planner"}, reg)
	if err != nil {
		t.Fatalf("OpenAll() error = %v", err)
	}
	defer func() {
		for _, b := range bs {
			b.Close()
		}
	}()

	want := []string{"local", "buffered", "db", "kv", "null"}
	if len(bs) != len(want) {
		t.Fatalf("len(backends) = %d, want %d", len(bs), len(want))
	}
	for i, b := range bs {
		if b.Name() != want[i] {
			t.Errorf("backends[%d].Name() = %q, want %q", i, b.Name(), want[i])
		}
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(mfs) == 0 {
		t.Error("kv backend registered no metrics")
	}
}

func TestOpen_UnknownType(t *testing.T) {
	_, err := Open(context.Background(), config.BackendConfig{Type: "tape"}, storage.Options{Agent: "a"}, nil)
	if err == nil {
		t.Fatal("Open(tape) should fail")
	}
}

func TestOpenAll_ClosesOnError(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PersistenceSection{
		Backends: []config.BackendConfig{
			{Type: config.BackendFile, Path: filepath.Join(dir, "file")},
			{Type: config.BackendSQL, DSN: filepath.Join(dir, "ckpt.db"), Table: "bad-name"},
		},
	}

	if _, err := OpenAll(context.Background(), cfg, storage.Options{Agent: "a"}, nil); err == nil {
		t.Fatal("OpenAll() should fail on an invalid table name")
	}
}

func TestOpenAll_Archiving(t *testing.T) {
	old := storage.SequenceNumbers{First: 0, Current: 1, Timestamp: 10}
	tests := []struct {
		name         string
		disable      bool
		wantArchived int
	}{
		{"default archives", false, 1},
		{"disabled deletes", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.PersistenceSection{
				DisableArchive: tt.disable,
				Backends:       []config.BackendConfig{{Type: config.BackendFile, Path: t.TempDir()}},
			}
			bs, err := OpenAll(context.Background(), cfg, storagetest.Options("planner"), nil)
			if err != nil {
				t.Fatalf("OpenAll() error = %v", err)
			}
			b := bs[0]
			defer b.Close()

			storagetest.WriteDelta(t, b, old, true, []byte("a"))
			storagetest.WriteDelta(t, b, storage.SequenceNumbers{First: 1, Current: 2, Timestamp: 20}, true, []byte("b"))
			if err := b.Cleanup(context.Background(), old); err != nil {
				t.Fatalf("Cleanup() error = %v", err)
			}
			if got := storagetest.Sets(t, b, "_"); len(got) != tt.wantArchived {
				t.Fatalf("archived sets = %v, want %d", got, tt.wantArchived)
			}
		})
	}
}
