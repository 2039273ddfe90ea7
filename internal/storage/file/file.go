// Package file stores deltas as files in one directory per agent.
//
// Layout under Root/<agent>:
//
//	delta00000000        committed delta
//	delta00000001.tmp    delta being written
//	sequence             current set (JSON)
//	sequence_00000000    archived set
//	owner                token of the owning instance
//	mutex                ownership lock, created exclusively
//
// A delta is written to its temp name and renamed into place before the new
// sequence record is renamed over the old one, so a crash at any point leaves
// the previous set intact and replayable.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
)

const (
	deltaPrefix    = "delta"
	sequencePrefix = "sequence"
	tempSuffix     = ".tmp"
	ownerFile      = "owner"
	mutexFile      = "mutex"
)

// Config configures a file backend.
type Config struct {
	storage.Options

	// Root is the base directory. Each agent gets a subdirectory.
	Root string

	// NoSync skips fsync. Only for tests.
	NoSync bool
}

// Backend is a storage.Backend on the local file system.
type Backend struct {
	opts   storage.Options
	dir    string
	noSync bool
	token  string

	mu     sync.Mutex
	output int
	closed bool
}

var _ storage.Backend = (*Backend)(nil)

// New creates the agent directory and verifies it is writable.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("file: root directory is required")
	}
	dir := filepath.Join(cfg.Root, cfg.Agent)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("file: create dir: %w", err)
	}
	scratch, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("file: dir %s is not writable: %w", dir, err)
	}
	scratch.Close()
	os.Remove(scratch.Name())

	return &Backend{
		opts:   cfg.Options.WithDefaults("file"),
		dir:    dir,
		noSync: cfg.NoSync,
		token:  storage.NewOwnerToken(),
		output: -1,
	}, nil
}

func (b *Backend) Name() string { return b.opts.Name }

// Dir returns the agent directory.
func (b *Backend) Dir() string { return b.dir }

// DeltaPath returns the path of committed delta n.
func (b *Backend) DeltaPath(n int) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s%08d", deltaPrefix, n))
}

func (b *Backend) sequencePath(suffix string) string {
	return filepath.Join(b.dir, sequencePrefix+suffix)
}

// OpenOutput creates the temp file for delta n.
func (b *Backend) OpenOutput(ctx context.Context, n int, full bool) (io.WriteCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, storage.ErrBackendClosed
	}
	f, err := os.OpenFile(b.DeltaPath(n)+tempSuffix, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("file: create delta %d: %w", n, err)
	}
	b.output = n
	return &syncFile{File: f, noSync: b.noSync}, nil
}

// FinishOutput renames the temp delta into place and then replaces the
// current sequence record.
func (b *Backend) FinishOutput(ctx context.Context, seq storage.SequenceNumbers, full bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := seq.Current - 1
	if b.output < 0 || b.output != n {
		return fmt.Errorf("%w: finishing delta %d", storage.ErrNoOutput, n)
	}
	if err := os.Rename(b.DeltaPath(n)+tempSuffix, b.DeltaPath(n)); err != nil {
		return fmt.Errorf("file: commit delta %d: %w", n, err)
	}
	b.output = -1
	if err := b.syncDir(); err != nil {
		return err
	}
	return b.writeSequence("", seq)
}

// AbortOutput removes the temp delta, if any.
func (b *Backend) AbortOutput(ctx context.Context, retained storage.SequenceNumbers) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.output < 0 {
		return nil
	}
	n := b.output
	b.output = -1
	if err := os.Remove(b.DeltaPath(n) + tempSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("file: abort delta %d: %w", n, err)
	}
	return nil
}

func (b *Backend) OpenInput(ctx context.Context, n int) (io.ReadCloser, error) {
	f, err := os.Open(b.DeltaPath(n))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: delta %d", storage.ErrNotFound, n)
		}
		return nil, fmt.Errorf("file: open delta %d: %w", n, err)
	}
	return f, nil
}

// ReadSequenceNumbers reads every sequence record whose suffix starts with
// suffix. Unreadable records are logged and skipped.
func (b *Backend) ReadSequenceNumbers(ctx context.Context, suffix string) ([]storage.SequenceNumbers, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("file: read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, sequencePrefix) || strings.HasSuffix(name, tempSuffix) {
			continue
		}
		if storage.MatchSuffix(strings.TrimPrefix(name, sequencePrefix), suffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	sets := make([]storage.SequenceNumbers, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(b.dir, name))
		if err != nil {
			b.opts.Logger.Warn("skipping unreadable sequence record", "file", name, "error", err)
			continue
		}
		var s storage.SequenceNumbers
		if err := json.Unmarshal(data, &s); err != nil {
			b.opts.Logger.Warn("skipping corrupt sequence record", "file", name, "error", err)
			continue
		}
		s.Suffix = strings.TrimPrefix(name, sequencePrefix)
		sets = append(sets, s)
	}
	return sets, nil
}

// Cleanup archives or deletes the deltas of a superseded set.
func (b *Backend) Cleanup(ctx context.Context, r storage.SequenceNumbers) error {
	if !b.opts.DisableArchive {
		return b.writeSequence(storage.ArchiveSuffix(r), r)
	}
	var errs []error
	for n := r.First; n < r.Current; n++ {
		if err := os.Remove(b.DeltaPath(n)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("file: cleanup %s: %w", r, err)
	}
	return nil
}

// Clear removes every delta and sequence record.
func (b *Backend) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("file: read dir: %w", err)
	}
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, deltaPrefix) || strings.HasPrefix(name, sequencePrefix) {
			if err := os.Remove(filepath.Join(b.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// writeSequence replaces a sequence record via temp file and rename.
func (b *Backend) writeSequence(suffix string, seq storage.SequenceNumbers) error {
	data, err := json.Marshal(seq)
	if err != nil {
		return fmt.Errorf("file: marshal sequence: %w", err)
	}
	path := b.sequencePath(suffix)
	if err := b.writeAtomic(path, data); err != nil {
		return fmt.Errorf("file: write sequence%s: %w", suffix, err)
	}
	return nil
}

func (b *Backend) writeAtomic(path string, data []byte) error {
	tmp := path + tempSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	sf := &syncFile{File: f, noSync: b.noSync}
	if _, err := sf.Write(data); err != nil {
		sf.Close()
		os.Remove(tmp)
		return err
	}
	if err := sf.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return b.syncDir()
}

func (b *Backend) syncDir() error {
	if b.noSync {
		return nil
	}
	d, err := os.Open(b.dir)
	if err != nil {
		return fmt.Errorf("file: open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("file: sync dir: %w", err)
	}
	return nil
}

// syncFile flushes to stable storage on Close.
type syncFile struct {
	*os.File
	noSync bool
}

func (f *syncFile) Close() error {
	if !f.noSync {
		if err := f.File.Sync(); err != nil {
			f.File.Close()
			return err
		}
	}
	return f.File.Close()
}
