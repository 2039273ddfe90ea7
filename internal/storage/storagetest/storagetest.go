// Package storagetest checks storage.Backend implementations against the
// behavior the persister relies on.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
)

// Opener opens a backend on a location fixed when the Opener was created.
// Calling it twice yields two instances sharing the same stored state.
type Opener func(opts storage.Options) storage.Backend

// Factory creates a fresh, empty location for one test.
type Factory func(t *testing.T) Opener

// Options returns backend options suitable for tests.
func Options(agent string) storage.Options {
	return storage.Options{
		Agent:       agent,
		LockTimeout: 200 * time.Millisecond,
		LockPoll:    5 * time.Millisecond,
	}
}

// Run runs the conformance suite.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, open Opener)
	}{
		{"Empty", testEmpty},
		{"CommitAndRead", testCommitAndRead},
		{"AbortLeavesSetUnchanged", testAbort},
		{"CleanupDeletes", testCleanupDeletes},
		{"CleanupArchives", testCleanupArchives},
		{"Ownership", testOwnership},
		{"StaleLockIsBroken", testStaleLock},
		{"Clear", testClear},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, factory(t))
		})
	}
}

// WriteDelta writes and commits delta n with the given payload.
func WriteDelta(t *testing.T, b storage.Backend, seq storage.SequenceNumbers, full bool, payload []byte) {
	t.Helper()
	ctx := context.Background()
	n := seq.Current - 1
	w, err := b.OpenOutput(ctx, n, full)
	if err != nil {
		t.Fatalf("OpenOutput(%d) error = %v", n, err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if err := b.FinishOutput(ctx, seq, full); err != nil {
		t.Fatalf("FinishOutput(%v) error = %v", seq, err)
	}
}

// ReadDelta returns the contents of committed delta n.
func ReadDelta(t *testing.T, b storage.Backend, n int) []byte {
	t.Helper()
	r, err := b.OpenInput(context.Background(), n)
	if err != nil {
		t.Fatalf("OpenInput(%d) error = %v", n, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll(%d) error = %v", n, err)
	}
	return data
}

// Sets returns the sets matching suffix.
func Sets(t *testing.T, b storage.Backend, suffix string) []storage.SequenceNumbers {
	t.Helper()
	sets, err := b.ReadSequenceNumbers(context.Background(), suffix)
	if err != nil {
		t.Fatalf("ReadSequenceNumbers(%q) error = %v", suffix, err)
	}
	return sets
}

func current(t *testing.T, b storage.Backend) (storage.SequenceNumbers, bool) {
	t.Helper()
	for _, s := range Sets(t, b, "") {
		if s.Suffix == "" {
			return s, true
		}
	}
	return storage.SequenceNumbers{}, false
}

func closeBackend(t *testing.T, b storage.Backend) {
	t.Helper()
	if err := b.Close(); err != nil {
		t.Errorf("Close error = %v", err)
	}
}

func testEmpty(t *testing.T, open Opener) {
	b := open(Options("empty"))
	defer closeBackend(t, b)
	if sets := Sets(t, b, ""); len(sets) != 0 {
		t.Fatalf("sets = %v, want none", sets)
	}
	if _, err := b.OpenInput(context.Background(), 0); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("OpenInput(0) error = %v, want ErrNotFound", err)
	}
}

func testCommitAndRead(t *testing.T, open Opener) {
	b := open(Options("commit"))
	defer closeBackend(t, b)

	WriteDelta(t, b, storage.SequenceNumbers{First: 0, Current: 1, Timestamp: 10}, true, []byte("full"))
	WriteDelta(t, b, storage.SequenceNumbers{First: 0, Current: 2, Timestamp: 20}, false, []byte("incr"))

	if got := ReadDelta(t, b, 0); !bytes.Equal(got, []byte("full")) {
		t.Fatalf("delta 0 = %q, want full", got)
	}
	if got := ReadDelta(t, b, 1); !bytes.Equal(got, []byte("incr")) {
		t.Fatalf("delta 1 = %q, want incr", got)
	}
	cur, ok := current(t, b)
	if !ok || cur.First != 0 || cur.Current != 2 || cur.Timestamp != 20 {
		t.Fatalf("current set = %v (found %v), want [0,2)@20", cur, ok)
	}
}

func testAbort(t *testing.T, open Opener) {
	ctx := context.Background()
	b := open(Options("abort"))
	defer closeBackend(t, b)

	first := storage.SequenceNumbers{First: 0, Current: 1, Timestamp: 10}
	WriteDelta(t, b, first, true, []byte("full"))

	w, err := b.OpenOutput(ctx, 1, false)
	if err != nil {
		t.Fatalf("OpenOutput error = %v", err)
	}
	w.Write([]byte("discarded"))
	w.Close()
	if err := b.AbortOutput(ctx, first); err != nil {
		t.Fatalf("AbortOutput error = %v", err)
	}

	if _, err := b.OpenInput(ctx, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("OpenInput(1) error = %v, want ErrNotFound", err)
	}
	cur, _ := current(t, b)
	if cur.Current != 1 {
		t.Fatalf("current set = %v, want [0,1)", cur)
	}

	// The next write reuses the aborted number.
	WriteDelta(t, b, storage.SequenceNumbers{First: 0, Current: 2, Timestamp: 30}, false, []byte("retry"))
	if got := ReadDelta(t, b, 1); string(got) != "retry" {
		t.Fatalf("delta 1 = %q, want retry", got)
	}
}

func testCleanupDeletes(t *testing.T, open Opener) {
	ctx := context.Background()
	opts := Options("cleanup")
	opts.DisableArchive = true
	b := open(opts)
	defer closeBackend(t, b)

	old := storage.SequenceNumbers{First: 0, Current: 2, Timestamp: 20}
	WriteDelta(t, b, storage.SequenceNumbers{First: 0, Current: 1, Timestamp: 10}, true, []byte("a"))
	WriteDelta(t, b, old, false, []byte("b"))
	WriteDelta(t, b, storage.SequenceNumbers{First: 2, Current: 3, Timestamp: 30}, true, []byte("c"))

	if err := b.Cleanup(ctx, old); err != nil {
		t.Fatalf("Cleanup error = %v", err)
	}
	for n := 0; n < 2; n++ {
		if _, err := b.OpenInput(ctx, n); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("OpenInput(%d) error = %v, want ErrNotFound", n, err)
		}
	}
	if got := ReadDelta(t, b, 2); string(got) != "c" {
		t.Fatalf("delta 2 = %q, want c", got)
	}
	if sets := Sets(t, b, ""); len(sets) != 1 {
		t.Fatalf("sets = %v, want only the current set", sets)
	}
}

func testCleanupArchives(t *testing.T, open Opener) {
	ctx := context.Background()
	b := open(Options("archive"))
	defer closeBackend(t, b)

	old := storage.SequenceNumbers{First: 0, Current: 1, Timestamp: 10}
	WriteDelta(t, b, old, true, []byte("a"))
	WriteDelta(t, b, storage.SequenceNumbers{First: 1, Current: 2, Timestamp: 20}, true, []byte("b"))
	if err := b.Cleanup(ctx, old); err != nil {
		t.Fatalf("Cleanup error = %v", err)
	}

	if got := ReadDelta(t, b, 0); string(got) != "a" {
		t.Fatalf("archived delta 0 = %q, want a", got)
	}
	archived := Sets(t, b, "_")
	if len(archived) != 1 || archived[0].First != 0 || archived[0].Current != 1 || archived[0].Suffix != storage.ArchiveSuffix(old) {
		t.Fatalf("archived sets = %v, want [0,1) under %s", archived, storage.ArchiveSuffix(old))
	}
	if all := Sets(t, b, ""); len(all) != 2 {
		t.Fatalf("all sets = %v, want current and archived", all)
	}
}

func testOwnership(t *testing.T, open Opener) {
	ctx := context.Background()
	first := open(Options("owned"))
	defer closeBackend(t, first)
	second := open(Options("owned"))
	defer closeBackend(t, second)

	claim := func(b storage.Backend) {
		t.Helper()
		if err := b.LockOwnership(ctx); err != nil {
			t.Fatalf("LockOwnership error = %v", err)
		}
		if err := b.ClaimOwnership(ctx); err != nil {
			t.Fatalf("ClaimOwnership error = %v", err)
		}
		if err := b.UnlockOwnership(ctx); err != nil {
			t.Fatalf("UnlockOwnership error = %v", err)
		}
	}
	check := func(b storage.Backend) error {
		t.Helper()
		if err := b.LockOwnership(ctx); err != nil {
			t.Fatalf("LockOwnership error = %v", err)
		}
		defer b.UnlockOwnership(ctx)
		return b.CheckOwnership(ctx)
	}

	claim(first)
	if err := check(first); err != nil {
		t.Fatalf("CheckOwnership after claim error = %v", err)
	}
	claim(second)
	if err := check(first); !errors.Is(err, storage.ErrOwnershipLost) {
		t.Fatalf("CheckOwnership error = %v, want ErrOwnershipLost", err)
	}
	if err := check(second); err != nil {
		t.Fatalf("CheckOwnership of new owner error = %v", err)
	}
}

func testStaleLock(t *testing.T, open Opener) {
	ctx := context.Background()
	holder := open(Options("stale"))
	defer closeBackend(t, holder)
	waiter := open(Options("stale"))
	defer closeBackend(t, waiter)

	if err := holder.LockOwnership(ctx); err != nil {
		t.Fatalf("LockOwnership error = %v", err)
	}
	start := time.Now()
	if err := waiter.LockOwnership(ctx); err != nil {
		t.Fatalf("LockOwnership on held lock error = %v", err)
	}
	if waited := time.Since(start); waited < 150*time.Millisecond {
		t.Fatalf("lock broken after %v, want at least the timeout", waited)
	}
	if err := waiter.UnlockOwnership(ctx); err != nil {
		t.Fatalf("UnlockOwnership error = %v", err)
	}
}

func testClear(t *testing.T, open Opener) {
	ctx := context.Background()
	b := open(Options("clear"))
	defer closeBackend(t, b)

	WriteDelta(t, b, storage.SequenceNumbers{First: 0, Current: 1, Timestamp: 10}, true, []byte("a"))
	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear error = %v", err)
	}
	if sets := Sets(t, b, ""); len(sets) != 0 {
		t.Fatalf("sets after Clear = %v, want none", sets)
	}
	if _, err := b.OpenInput(ctx, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("OpenInput(0) after Clear error = %v, want ErrNotFound", err)
	}
}
