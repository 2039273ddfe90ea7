package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewOwnerToken returns a token identifying this process as an owner.
func NewOwnerToken() string {
	return ulid.Make().String()
}

// Locker is a non-blocking cross-process mutex.
type Locker interface {
	// TryLock takes the lock if it is free.
	TryLock(ctx context.Context) (bool, error)

	// Break releases the lock regardless of who holds it.
	Break(ctx context.Context) error
}

// AcquireWithTimeout polls l until it is taken. If the lock stays held for
// longer than timeout it is assumed stale and broken.
func AcquireWithTimeout(ctx context.Context, l Locker, timeout, poll time.Duration, logger *slog.Logger) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return fmt.Errorf("storage: acquire ownership lock: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			logger.Warn("breaking stale ownership lock", "waited", timeout)
			if err := l.Break(ctx); err != nil {
				return fmt.Errorf("storage: break ownership lock: %w", err)
			}
			deadline = time.Now().Add(timeout)
			continue
		}

		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
