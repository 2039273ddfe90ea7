// Package buffered writes the file backend layout from a background worker.
//
// Delta bytes are copied into a bounded pool of fixed-size buffers and handed
// to the worker as they fill, so the persister only blocks when every buffer
// is in flight. Commits, aborts and cleanups are queued behind the writes
// they follow. Reads wait for the queue to drain first.
//
// A failure in the worker is sticky: it is reported by the next call, after
// which the backend accepts work again. Cleanups queued behind a commit that
// failed in the worker are dropped, so the set the stored sequence record
// still names is never deleted.
package buffered

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/file"
)

// Default pool shape.
const (
	DefaultBufferSize  = 64 << 10
	DefaultBufferCount = 16
)

// Config configures a buffered backend.
type Config struct {
	file.Config

	// BufferSize is the size of each pooled buffer. Default: 64KiB
	BufferSize int

	// BufferCount is the number of pooled buffers. Default: 16
	BufferCount int
}

type jobKind uint8

const (
	jobOpen jobKind = iota
	jobChunk
	jobClose
	jobFinish
	jobAbort
	jobCleanup
	jobBarrier
)

type job struct {
	kind jobKind
	n    int
	full bool
	seq  storage.SequenceNumbers
	buf  []byte
	done chan struct{}
}

// Backend is a storage.Backend that performs file writes asynchronously.
type Backend struct {
	*file.Backend

	pool chan []byte
	jobs chan job
	done chan struct{}

	// sendMu guards closed and every send on jobs.
	sendMu sync.RWMutex
	closed bool

	mu  sync.Mutex
	err error

	// worker state
	out          io.WriteCloser
	failed       bool
	finishFailed bool
}

var _ storage.Backend = (*Backend)(nil)

// New opens the underlying file backend and starts the worker.
func New(cfg Config) (*Backend, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferCount <= 0 {
		cfg.BufferCount = DefaultBufferCount
	}
	if cfg.Name == "" {
		cfg.Name = "buffered"
	}
	fb, err := file.New(cfg.Config)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		Backend: fb,
		pool:    make(chan []byte, cfg.BufferCount),
		jobs:    make(chan job, cfg.BufferCount+8),
		done:    make(chan struct{}),
	}
	for i := 0; i < cfg.BufferCount; i++ {
		b.pool <- make([]byte, 0, cfg.BufferSize)
	}
	go b.run()
	return b, nil
}

// takeErr returns and clears the sticky worker error.
func (b *Backend) takeErr() error {
	if b.isClosed() {
		return storage.ErrBackendClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.err
	b.err = nil
	return err
}

func (b *Backend) setErr(err error) {
	b.mu.Lock()
	b.err = errors.Join(b.err, err)
	b.mu.Unlock()
}

func (b *Backend) isClosed() bool {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	return b.closed
}

// enqueue hands j to the worker. The worker never takes sendMu, so a send
// blocked on a full queue still makes progress.
func (b *Backend) enqueue(j job) error {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return storage.ErrBackendClosed
	}
	b.jobs <- j
	return nil
}

// barrier waits until every queued job has run.
func (b *Backend) barrier(ctx context.Context) error {
	done := make(chan struct{})
	if err := b.enqueue(job{kind: jobBarrier, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) OpenOutput(ctx context.Context, n int, full bool) (io.WriteCloser, error) {
	if err := b.takeErr(); err != nil {
		return nil, err
	}
	if err := b.enqueue(job{kind: jobOpen, n: n, full: full}); err != nil {
		return nil, err
	}
	return &sink{b: b}, nil
}

func (b *Backend) FinishOutput(ctx context.Context, seq storage.SequenceNumbers, full bool) error {
	if err := b.takeErr(); err != nil {
		return errors.Join(err, b.enqueue(job{kind: jobAbort, seq: seq}))
	}
	return b.enqueue(job{kind: jobFinish, seq: seq, full: full})
}

func (b *Backend) AbortOutput(ctx context.Context, retained storage.SequenceNumbers) error {
	if err := b.enqueue(job{kind: jobAbort, seq: retained}); err != nil {
		return err
	}
	return b.takeErr()
}

func (b *Backend) OpenInput(ctx context.Context, n int) (io.ReadCloser, error) {
	if err := b.barrier(ctx); err != nil {
		return nil, err
	}
	return b.Backend.OpenInput(ctx, n)
}

func (b *Backend) ReadSequenceNumbers(ctx context.Context, suffix string) ([]storage.SequenceNumbers, error) {
	if err := b.barrier(ctx); err != nil {
		return nil, err
	}
	return b.Backend.ReadSequenceNumbers(ctx, suffix)
}

func (b *Backend) Cleanup(ctx context.Context, r storage.SequenceNumbers) error {
	return b.enqueue(job{kind: jobCleanup, seq: r})
}

func (b *Backend) Clear(ctx context.Context) error {
	if err := b.barrier(ctx); err != nil {
		return err
	}
	return b.Backend.Clear(ctx)
}

// Flush waits for queued work and returns any worker error.
func (b *Backend) Flush(ctx context.Context) error {
	if err := b.barrier(ctx); err != nil {
		return err
	}
	return b.takeErr()
}

// Close drains the queue, stops the worker and reports any pending error.
func (b *Backend) Close() error {
	b.sendMu.Lock()
	if b.closed {
		b.sendMu.Unlock()
		return nil
	}
	b.closed = true
	close(b.jobs)
	b.sendMu.Unlock()

	<-b.done

	b.mu.Lock()
	err := b.err
	b.err = nil
	b.mu.Unlock()
	return errors.Join(err, b.Backend.Close())
}

func (b *Backend) run() {
	defer close(b.done)
	ctx := context.Background()
	for j := range b.jobs {
		b.handle(ctx, j)
	}
}

func (b *Backend) handle(ctx context.Context, j job) {
	switch j.kind {
	case jobOpen:
		b.failed = false
		w, err := b.Backend.OpenOutput(ctx, j.n, j.full)
		if err != nil {
			b.fail(err)
			return
		}
		b.out = w
	case jobChunk:
		if !b.failed {
			if _, err := b.out.Write(j.buf); err != nil {
				b.fail(fmt.Errorf("buffered: write: %w", err))
			}
		}
		b.pool <- j.buf[:0]
	case jobClose:
		if b.out != nil {
			if err := b.out.Close(); err != nil && !b.failed {
				b.fail(fmt.Errorf("buffered: close: %w", err))
			}
			b.out = nil
		}
	case jobFinish:
		if b.failed {
			b.finishFailed = true
			b.abortFile(ctx, j.seq)
			return
		}
		if err := b.Backend.FinishOutput(ctx, j.seq, j.full); err != nil {
			b.finishFailed = true
			b.setErr(err)
			b.abortFile(ctx, j.seq)
			return
		}
		b.finishFailed = false
	case jobAbort:
		if b.out != nil {
			b.out.Close()
			b.out = nil
		}
		b.abortFile(ctx, j.seq)
	case jobCleanup:
		if b.finishFailed {
			return
		}
		if err := b.Backend.Cleanup(ctx, j.seq); err != nil {
			b.setErr(err)
		}
	case jobBarrier:
		close(j.done)
	}
}

func (b *Backend) fail(err error) {
	b.failed = true
	b.setErr(err)
}

func (b *Backend) abortFile(ctx context.Context, retained storage.SequenceNumbers) {
	if err := b.Backend.AbortOutput(ctx, retained); err != nil {
		b.setErr(err)
	}
}

// sink copies writes into pooled buffers.
type sink struct {
	b      *Backend
	cur    []byte
	closed bool
}

func (s *sink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errors.New("buffered: write to closed output")
	}
	n := 0
	for len(p) > 0 {
		if s.cur == nil {
			s.cur = <-s.b.pool
		}
		k := copy(s.cur[len(s.cur):cap(s.cur)], p)
		s.cur = s.cur[:len(s.cur)+k]
		p = p[k:]
		n += k
		if len(s.cur) == cap(s.cur) {
			if err := s.flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// flush queues the current buffer. A rejected buffer goes back to the pool.
func (s *sink) flush() error {
	buf := s.cur
	s.cur = nil
	if err := s.b.enqueue(job{kind: jobChunk, buf: buf}); err != nil {
		s.b.pool <- buf[:0]
		return err
	}
	return nil
}

func (s *sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cur != nil {
		if err := s.flush(); err != nil {
			return err
		}
	}
	return s.b.enqueue(job{kind: jobClose})
}
