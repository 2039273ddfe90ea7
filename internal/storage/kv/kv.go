package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
)

// Backend is a storage.Backend on a shared Badger store.
type Backend struct {
	opts  storage.Options
	store *Store
	token string

	deltaPrefix []byte
	seqPrefix   []byte
	ownerKey    []byte
	mutexKey    []byte

	mu     sync.Mutex
	output int
	closed bool
}

var _ storage.Backend = (*Backend)(nil)

// New opens (or joins) the store in cfg.Store.Dir.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	opts := cfg.Options.WithDefaults("kv")
	store, err := OpenStore(cfg.Store, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Backend{
		opts:        opts,
		store:       store,
		token:       storage.NewOwnerToken(),
		deltaPrefix: []byte("d/" + cfg.Agent + "/"),
		seqPrefix:   []byte("s/" + cfg.Agent + "/"),
		ownerKey:    []byte("o/" + cfg.Agent),
		mutexKey:    []byte("m/" + cfg.Agent),
		output:      -1,
	}, nil
}

// Store returns the shared store.
func (b *Backend) Store() *Store { return b.store }

func (b *Backend) Name() string { return b.opts.Name }

func (b *Backend) deltaKey(n int) []byte {
	return fmt.Appendf(bytes.Clone(b.deltaPrefix), "%08d", n)
}

func (b *Backend) seqKey(suffix string) []byte {
	return append(bytes.Clone(b.seqPrefix), suffix...)
}

func (b *Backend) OpenOutput(ctx context.Context, n int, full bool) (io.WriteCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, storage.ErrBackendClosed
	}
	b.output = n
	return &sink{b: b, n: n}, nil
}

type sink struct {
	b      *Backend
	n      int
	buf    bytes.Buffer
	closed bool
}

func (s *sink) Write(p []byte) (int, error) {
	if s.buf.Len() == 0 {
		s.buf.WriteByte(byte(storage.StatusInactive))
	}
	return s.buf.Write(p)
}

// Close stores the delta as inactive.
func (s *sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.buf.Len() == 0 {
		s.buf.WriteByte(byte(storage.StatusInactive))
	}
	err := s.b.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.b.deltaKey(s.n), s.buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("kv: store delta %d: %w", s.n, err)
	}
	return nil
}

func (b *Backend) FinishOutput(ctx context.Context, seq storage.SequenceNumbers, full bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := seq.Current - 1
	if b.output < 0 || b.output != n {
		return fmt.Errorf("%w: finishing delta %d", storage.ErrNoOutput, n)
	}
	status := storage.StatusIncremental
	if full {
		status = storage.StatusFull
	}
	record, err := json.Marshal(seq)
	if err != nil {
		return fmt.Errorf("kv: marshal sequence: %w", err)
	}
	err = b.store.db.Update(func(txn *badger.Txn) error {
		key := b.deltaKey(n)
		val, err := getValue(txn, key)
		if err != nil {
			return err
		}
		if len(val) == 0 || storage.Status(val[0]) != storage.StatusInactive {
			return fmt.Errorf("%w: delta %d was not stored", storage.ErrNoOutput, n)
		}
		val[0] = byte(status)
		if err := txn.Set(key, val); err != nil {
			return err
		}
		return txn.Set(b.seqKey(""), record)
	})
	if err != nil {
		return fmt.Errorf("kv: commit delta %d: %w", n, err)
	}
	b.output = -1
	return nil
}

func (b *Backend) AbortOutput(ctx context.Context, retained storage.SequenceNumbers) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.output < 0 {
		return nil
	}
	n := b.output
	b.output = -1
	err := b.store.db.Update(func(txn *badger.Txn) error {
		key := b.deltaKey(n)
		val, err := getValue(txn, key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(val) > 0 && storage.Status(val[0]) == storage.StatusInactive {
			return txn.Delete(key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv: abort delta %d: %w", n, err)
	}
	return nil
}

func (b *Backend) OpenInput(ctx context.Context, n int) (io.ReadCloser, error) {
	var data []byte
	err := b.store.db.View(func(txn *badger.Txn) error {
		val, err := getValue(txn, b.deltaKey(n))
		if err != nil {
			return err
		}
		if len(val) == 0 || storage.Status(val[0]) == storage.StatusInactive {
			return badger.ErrKeyNotFound
		}
		data = val[1:]
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: delta %d", storage.ErrNotFound, n)
		}
		return nil, fmt.Errorf("kv: read delta %d: %w", n, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) ReadSequenceNumbers(ctx context.Context, suffix string) ([]storage.SequenceNumbers, error) {
	var sets []storage.SequenceNumbers
	err := b.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.seqKey(suffix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), string(b.seqPrefix))
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var s storage.SequenceNumbers
			if err := json.Unmarshal(val, &s); err != nil {
				b.opts.Logger.Warn("skipping corrupt sequence record", "suffix", name, "error", err)
				continue
			}
			s.Suffix = name
			sets = append(sets, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: read sequence numbers: %w", err)
	}
	return sets, nil
}

func (b *Backend) Cleanup(ctx context.Context, r storage.SequenceNumbers) error {
	archive := !b.opts.DisableArchive
	var record []byte
	if archive {
		var err error
		if record, err = json.Marshal(r); err != nil {
			return fmt.Errorf("kv: marshal sequence: %w", err)
		}
	}
	err := b.store.db.Update(func(txn *badger.Txn) error {
		for n := r.First; n < r.Current; n++ {
			key := b.deltaKey(n)
			if !archive {
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			val, err := getValue(txn, key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			val[0] = byte(storage.StatusArchived)
			if err := txn.Set(key, val); err != nil {
				return err
			}
		}
		if archive {
			return txn.Set(b.seqKey(storage.ArchiveSuffix(r)), record)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv: cleanup %s: %w", r, err)
	}
	return nil
}

func (b *Backend) Clear(ctx context.Context) error {
	if err := b.store.db.DropPrefix(b.deltaPrefix, b.seqPrefix); err != nil {
		return fmt.Errorf("kv: clear: %w", err)
	}
	return nil
}

// TryLock writes the lock key if it is absent.
func (b *Backend) TryLock(ctx context.Context) (bool, error) {
	err := b.store.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(b.mutexKey)
		if err == nil {
			return errLocked
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(b.mutexKey, []byte(b.token))
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errLocked), errors.Is(err, badger.ErrConflict):
		return false, nil
	default:
		return false, err
	}
}

var errLocked = errors.New("kv: locked")

func (b *Backend) Break(ctx context.Context) error {
	return b.store.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.mutexKey)
	})
}

func (b *Backend) LockOwnership(ctx context.Context) error {
	return storage.AcquireWithTimeout(ctx, b, b.opts.LockTimeout, b.opts.LockPoll, b.opts.Logger)
}

func (b *Backend) UnlockOwnership(ctx context.Context) error {
	return b.store.db.Update(func(txn *badger.Txn) error {
		val, err := getValue(txn, b.mutexKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if string(val) != b.token {
			return nil
		}
		return txn.Delete(b.mutexKey)
	})
}

func (b *Backend) ClaimOwnership(ctx context.Context) error {
	return b.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.ownerKey, []byte(b.token))
	})
}

// CheckOwnership compares the owner key with this instance. A missing key is
// reclaimed.
func (b *Backend) CheckOwnership(ctx context.Context) error {
	var owner []byte
	err := b.store.db.View(func(txn *badger.Txn) error {
		var err error
		owner, err = getValue(txn, b.ownerKey)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return b.ClaimOwnership(ctx)
	case err != nil:
		return fmt.Errorf("kv: read owner: %w", err)
	case string(owner) != b.token:
		return fmt.Errorf("%w: owner is %s", storage.ErrOwnershipLost, owner)
	}
	return nil
}

// Close releases the shared store.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.store.Release()
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
