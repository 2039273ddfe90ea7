package storage

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeLocker struct {
	held      bool
	breaks    int
	tryErr    error
	attempts  int
	freeAfter int
}

func (l *fakeLocker) TryLock(ctx context.Context) (bool, error) {
	l.attempts++
	if l.tryErr != nil {
		return false, l.tryErr
	}
	if l.freeAfter > 0 && l.attempts > l.freeAfter {
		l.held = false
	}
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) Break(ctx context.Context) error {
	l.breaks++
	l.held = false
	return nil
}

func TestAcquireFreeLock(t *testing.T) {
	l := &fakeLocker{}
	if err := AcquireWithTimeout(context.Background(), l, time.Second, time.Millisecond, slog.Default()); err != nil {
		t.Fatalf("AcquireWithTimeout error = %v", err)
	}
	if l.breaks != 0 {
		t.Fatalf("breaks = %d, want 0", l.breaks)
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	l := &fakeLocker{held: true, freeAfter: 3}
	if err := AcquireWithTimeout(context.Background(), l, time.Second, time.Millisecond, slog.Default()); err != nil {
		t.Fatalf("AcquireWithTimeout error = %v", err)
	}
	if l.breaks != 0 || l.attempts != 4 {
		t.Fatalf("breaks, attempts = %d, %d, want 0, 4", l.breaks, l.attempts)
	}
}

func TestAcquireBreaksStaleLock(t *testing.T) {
	l := &fakeLocker{held: true}
	if err := AcquireWithTimeout(context.Background(), l, 10*time.Millisecond, time.Millisecond, slog.Default()); err != nil {
		t.Fatalf("AcquireWithTimeout error = %v", err)
	}
	if l.breaks != 1 {
		t.Fatalf("breaks = %d, want 1", l.breaks)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	l := &fakeLocker{held: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := AcquireWithTimeout(ctx, l, time.Hour, time.Millisecond, slog.Default())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("AcquireWithTimeout error = %v, want context.Canceled", err)
	}
}

func TestAcquireReportsErrors(t *testing.T) {
	boom := errors.New("boom")
	err := AcquireWithTimeout(context.Background(), &fakeLocker{tryErr: boom}, time.Second, time.Millisecond, slog.Default())
	if !errors.Is(err, boom) {
		t.Fatalf("AcquireWithTimeout error = %v, want boom", err)
	}
}

func TestSequenceNumbers(t *testing.T) {
	s := SequenceNumbers{First: 3, Current: 7}
	if !s.Valid() || s.Len() != 4 {
		t.Fatalf("Valid, Len = %v, %d, want true, 4", s.Valid(), s.Len())
	}
	if (SequenceNumbers{First: 2, Current: 2}).Valid() {
		t.Fatal("empty set reported valid")
	}
	if got := ArchiveSuffix(s); got != "_00000003" {
		t.Fatalf("ArchiveSuffix = %q, want _00000003", got)
	}
	if !MatchSuffix("_00000003", "") || !MatchSuffix("_00000003", "_") || MatchSuffix("", "_") {
		t.Fatal("MatchSuffix prefix semantics broken")
	}
}
