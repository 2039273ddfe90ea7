package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
)

// TryLock creates the mutex file exclusively.
func (b *Backend) TryLock(ctx context.Context) (bool, error) {
	f, err := os.OpenFile(filepath.Join(b.dir, mutexFile), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	_, err = f.WriteString(b.token)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return true, err
}

// Break removes the mutex file.
func (b *Backend) Break(ctx context.Context) error {
	err := os.Remove(filepath.Join(b.dir, mutexFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *Backend) LockOwnership(ctx context.Context) error {
	return storage.AcquireWithTimeout(ctx, b, b.opts.LockTimeout, b.opts.LockPoll, b.opts.Logger)
}

// UnlockOwnership removes the mutex file if this instance holds it.
func (b *Backend) UnlockOwnership(ctx context.Context) error {
	path := filepath.Join(b.dir, mutexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("file: read mutex: %w", err)
	}
	if strings.TrimSpace(string(data)) != b.token {
		b.opts.Logger.Warn("ownership lock held by another instance at unlock")
		return nil
	}
	return b.Break(ctx)
}

func (b *Backend) ClaimOwnership(ctx context.Context) error {
	if err := b.writeAtomic(filepath.Join(b.dir, ownerFile), []byte(b.token)); err != nil {
		return fmt.Errorf("file: claim ownership: %w", err)
	}
	return nil
}

// CheckOwnership compares the owner file with this instance's token. A
// missing owner file is reclaimed.
func (b *Backend) CheckOwnership(ctx context.Context) error {
	data, err := os.ReadFile(filepath.Join(b.dir, ownerFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return b.ClaimOwnership(ctx)
		}
		return fmt.Errorf("file: read owner: %w", err)
	}
	if owner := strings.TrimSpace(string(data)); owner != b.token {
		return fmt.Errorf("%w: owner is %s", storage.ErrOwnershipLost, owner)
	}
	return nil
}
