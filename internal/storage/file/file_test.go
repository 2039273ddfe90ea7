package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/storagetest"
)

func opener(t *testing.T) storagetest.Opener {
	root := t.TempDir()
	return func(opts storage.Options) storage.Backend {
		b, err := New(Config{Options: opts, Root: root, NoSync: true})
		if err != nil {
			t.Fatalf("New error = %v", err)
		}
		return b
	}
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, opener)
}

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{Options: storagetest.Options("agent"), Root: t.TempDir(), NoSync: true})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	return b
}

func TestNewRequiresWritableRoot(t *testing.T) {
	if _, err := New(Config{Options: storagetest.Options("agent")}); err == nil {
		t.Fatal("New accepted an empty root")
	}
	if _, err := New(Config{Root: t.TempDir()}); err == nil {
		t.Fatal("New accepted an empty agent name")
	}
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
	if _, err := New(Config{Options: storagetest.Options("agent"), Root: blocker}); err == nil {
		t.Fatal("New accepted a root that is a regular file")
	}
}

func TestFinishWithoutOutput(t *testing.T) {
	b := newBackend(t)
	err := b.FinishOutput(context.Background(), storage.SequenceNumbers{First: 0, Current: 1}, true)
	if !errors.Is(err, storage.ErrNoOutput) {
		t.Fatalf("FinishOutput error = %v, want ErrNoOutput", err)
	}
}

// A crash after writing the temp file but before the rename leaves the
// sequence record untouched.
func TestCrashBeforeDeltaRename(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	storagetest.WriteDelta(t, b, storage.SequenceNumbers{First: 0, Current: 1, Timestamp: 1}, true, []byte("a"))

	w, err := b.OpenOutput(ctx, 1, false)
	if err != nil {
		t.Fatalf("OpenOutput error = %v", err)
	}
	w.Write([]byte("partial"))
	w.Close()

	// Simulate a restart.
	b2, err := New(Config{Options: storagetest.Options("agent"), Root: filepath.Dir(b.Dir()), NoSync: true})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	sets := storagetest.Sets(t, b2, "")
	if len(sets) != 1 || sets[0].Current != 1 {
		t.Fatalf("sets = %v, want [0,1)", sets)
	}
	if _, err := b2.OpenInput(ctx, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("OpenInput(1) error = %v, want ErrNotFound", err)
	}
}

// A crash after the delta rename but before the sequence rename leaves a
// committed delta that no set references.
func TestCrashBeforeSequenceRename(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	storagetest.WriteDelta(t, b, storage.SequenceNumbers{First: 0, Current: 1, Timestamp: 1}, true, []byte("a"))

	w, err := b.OpenOutput(ctx, 1, false)
	if err != nil {
		t.Fatalf("OpenOutput error = %v", err)
	}
	w.Write([]byte("orphan"))
	w.Close()
	if err := os.Rename(b.DeltaPath(1)+tempSuffix, b.DeltaPath(1)); err != nil {
		t.Fatalf("Rename error = %v", err)
	}
	// A half-written sequence temp file is ignored too.
	if err := os.WriteFile(b.sequencePath("")+tempSuffix, []byte(`{"first":0,"current":2}`), 0600); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}

	sets := storagetest.Sets(t, b, "")
	if len(sets) != 1 || sets[0].Current != 1 {
		t.Fatalf("sets = %v, want [0,1)", sets)
	}
}

func TestCorruptSequenceRecordSkipped(t *testing.T) {
	b := newBackend(t)
	storagetest.WriteDelta(t, b, storage.SequenceNumbers{First: 0, Current: 1, Timestamp: 1}, true, []byte("a"))
	if err := os.WriteFile(b.sequencePath("_00000009"), []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
	if sets := storagetest.Sets(t, b, ""); len(sets) != 1 {
		t.Fatalf("sets = %v, want only the valid record", sets)
	}
}
