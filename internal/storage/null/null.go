// Package null provides a backend that discards every delta. It is used when
// persistence is configured but nothing should reach disk, and in tests.
package null

import (
	"context"
	"io"

	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
)

// Backend accepts and discards all writes. It never has sets to rehydrate.
type Backend struct {
	name string
}

var _ storage.Backend = (*Backend)(nil)

func New(name string) *Backend {
	if name == "" {
		name = "null"
	}
	return &Backend{name: name}
}

func (b *Backend) Name() string { return b.name }

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
func (discard) Close() error                { return nil }

func (b *Backend) OpenOutput(context.Context, int, bool) (io.WriteCloser, error) {
	return discard{}, nil
}

func (b *Backend) FinishOutput(context.Context, storage.SequenceNumbers, bool) error { return nil }
func (b *Backend) AbortOutput(context.Context, storage.SequenceNumbers) error        { return nil }

func (b *Backend) OpenInput(_ context.Context, n int) (io.ReadCloser, error) {
	return nil, storage.ErrNotFound
}

func (b *Backend) ReadSequenceNumbers(context.Context, string) ([]storage.SequenceNumbers, error) {
	return nil, nil
}

func (b *Backend) Cleanup(context.Context, storage.SequenceNumbers) error { return nil }
func (b *Backend) LockOwnership(context.Context) error                   { return nil }
func (b *Backend) UnlockOwnership(context.Context) error                 { return nil }
func (b *Backend) ClaimOwnership(context.Context) error                  { return nil }
func (b *Backend) CheckOwnership(context.Context) error                  { return nil }
func (b *Backend) Clear(context.Context) error                           { return nil }
func (b *Backend) Close() error                                          { return nil }
