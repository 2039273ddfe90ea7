// Package sqldb stores deltas in SQL tables on a shared SQLite connection.
//
// Three tables are used, all keyed by agent:
//
//	<table>           (agent, seq, status, data)
//	<table>_sequence  (agent, suffix, first, current, ts)
//	<table>_owner     (agent, owner, lock_token, locked_at)
//
// A delta is inserted as inactive when its output is closed. FinishOutput
// flips its status and replaces the current sequence row in one transaction.
package sqldb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
)

// DefaultTable is the base table name.
const DefaultTable = "checkpoints"

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures a database backend.
type Config struct {
	storage.Options

	// DSN is the SQLite data source, typically a file path. Busy timeout and
	// WAL pragmas are added when the DSN carries no parameters.
	DSN string

	// Table is the base table name. Default: checkpoints
	Table string

	// MaxStatements caps prepared statements on the shared connection.
	MaxStatements int
}

type queries struct {
	insertDelta  string
	commitDelta  string
	deleteDelta  string
	selectDelta  string
	upsertSeq    string
	selectSeqs   string
	archiveRange string
	deleteRange  string
	clearDeltas  string
	clearSeqs    string
	tryLock      string
	breakLock    string
	unlock       string
	claimOwner   string
	selectOwner  string
}

func buildQueries(t string) queries {
	return queries{
		insertDelta: `INSERT INTO ` + t + ` (agent, seq, status, data) VALUES (?, ?, ?, ?)
			ON CONFLICT(agent, seq) DO UPDATE SET status = excluded.status, data = excluded.data`,
		commitDelta:  `UPDATE ` + t + ` SET status = ? WHERE agent = ? AND seq = ? AND status = ?`,
		deleteDelta:  `DELETE FROM ` + t + ` WHERE agent = ? AND seq = ? AND status = ?`,
		selectDelta:  `SELECT data FROM ` + t + ` WHERE agent = ? AND seq = ? AND status <> ?`,
		archiveRange: `UPDATE ` + t + ` SET status = ? WHERE agent = ? AND seq >= ? AND seq < ?`,
		deleteRange:  `DELETE FROM ` + t + ` WHERE agent = ? AND seq >= ? AND seq < ?`,
		clearDeltas:  `DELETE FROM ` + t + ` WHERE agent = ?`,
		upsertSeq: `INSERT INTO ` + t + `_sequence (agent, suffix, first, current, ts) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(agent, suffix) DO UPDATE SET first = excluded.first, current = excluded.current, ts = excluded.ts`,
		selectSeqs: `SELECT suffix, first, current, ts FROM ` + t + `_sequence
			WHERE agent = ? AND substr(suffix, 1, length(?)) = ? ORDER BY suffix`,
		clearSeqs: `DELETE FROM ` + t + `_sequence WHERE agent = ?`,
		tryLock: `INSERT INTO ` + t + `_owner (agent, lock_token, locked_at) VALUES (?, ?, ?)
			ON CONFLICT(agent) DO UPDATE SET lock_token = excluded.lock_token, locked_at = excluded.locked_at
			WHERE ` + t + `_owner.lock_token = ''`,
		breakLock:   `UPDATE ` + t + `_owner SET lock_token = '' WHERE agent = ?`,
		unlock:      `UPDATE ` + t + `_owner SET lock_token = '' WHERE agent = ? AND lock_token = ?`,
		claimOwner:  `UPDATE ` + t + `_owner SET owner = ? WHERE agent = ?`,
		selectOwner: `SELECT owner FROM ` + t + `_owner WHERE agent = ?`,
	}
}

func schema(t string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
			agent TEXT NOT NULL,
			seq INTEGER NOT NULL,
			status INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (agent, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t + `_sequence (
			agent TEXT NOT NULL,
			suffix TEXT NOT NULL,
			first INTEGER NOT NULL,
			current INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			PRIMARY KEY (agent, suffix)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t + `_owner (
			agent TEXT PRIMARY KEY,
			owner TEXT NOT NULL DEFAULT '',
			lock_token TEXT NOT NULL DEFAULT '',
			locked_at INTEGER NOT NULL DEFAULT 0
		)`,
	}
}

// Backend is a storage.Backend on a SQL database.
type Backend struct {
	opts  storage.Options
	conn  *Conn
	q     queries
	token string

	mu     sync.Mutex
	output int
	closed bool
}

var _ storage.Backend = (*Backend)(nil)

// New opens (or joins) the shared connection and creates the tables.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !identRE.MatchString(cfg.Table) {
		return nil, fmt.Errorf("sqldb: invalid table name %q", cfg.Table)
	}
	conn, err := Open(ctx, cfg.DSN, cfg.MaxStatements)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		opts:   cfg.Options.WithDefaults("sqldb"),
		conn:   conn,
		q:      buildQueries(cfg.Table),
		token:  storage.NewOwnerToken(),
		output: -1,
	}
	err = b.withConn(ctx, func() error {
		return b.conn.Tx(ctx, b.token, func(tx *sql.Tx) error {
			for _, stmt := range schema(cfg.Table) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("sqldb: create schema: %w", err)
				}
			}
			return nil
		})
	})
	if err != nil {
		_ = conn.Release()
		return nil, err
	}
	return b, nil
}

func (b *Backend) Name() string { return b.opts.Name }

// withConn runs fn with the shared connection claimed.
func (b *Backend) withConn(ctx context.Context, fn func() error) error {
	if err := b.conn.Claim(ctx, b.token); err != nil {
		return err
	}
	defer b.conn.Unclaim(b.token)
	return fn()
}

// exec runs one statement on the claimed connection.
func (b *Backend) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	st, err := b.conn.Prepare(ctx, b.token, query)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.ExecContext(ctx, args...)
}

func (b *Backend) OpenOutput(ctx context.Context, n int, full bool) (io.WriteCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, storage.ErrBackendClosed
	}
	b.output = n
	return &sink{b: b, ctx: ctx, n: n}, nil
}

type sink struct {
	b      *Backend
	ctx    context.Context
	n      int
	buf    bytes.Buffer
	closed bool
}

func (s *sink) Write(p []byte) (int, error) { return s.buf.Write(p) }

// Close stores the delta as inactive.
func (s *sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.b.withConn(s.ctx, func() error {
		_, err := s.b.exec(s.ctx, s.b.q.insertDelta, s.b.opts.Agent, s.n, storage.StatusInactive, s.buf.Bytes())
		if err != nil {
			return fmt.Errorf("sqldb: store delta %d: %w", s.n, err)
		}
		return nil
	})
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
	err := b.withConn(ctx, func() error {
		return b.conn.Tx(ctx, b.token, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, b.q.commitDelta, status, b.opts.Agent, n, storage.StatusInactive)
			if err != nil {
				return err
			}
			if rows, err := res.RowsAffected(); err != nil || rows != 1 {
				return fmt.Errorf("%w: delta %d was not stored", storage.ErrNoOutput, n)
			}
			_, err = tx.ExecContext(ctx, b.q.upsertSeq, b.opts.Agent, "", seq.First, seq.Current, seq.Timestamp)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("sqldb: commit delta %d: %w", n, err)
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
	return b.withConn(ctx, func() error {
		if _, err := b.exec(ctx, b.q.deleteDelta, b.opts.Agent, n, storage.StatusInactive); err != nil {
			return fmt.Errorf("sqldb: abort delta %d: %w", n, err)
		}
		return nil
	})
}

func (b *Backend) OpenInput(ctx context.Context, n int) (io.ReadCloser, error) {
	var data []byte
	err := b.withConn(ctx, func() error {
		st, err := b.conn.Prepare(ctx, b.token, b.q.selectDelta)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.QueryRowContext(ctx, b.opts.Agent, n, storage.StatusInactive).Scan(&data)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: delta %d", storage.ErrNotFound, n)
		}
		return nil, fmt.Errorf("sqldb: read delta %d: %w", n, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) ReadSequenceNumbers(ctx context.Context, suffix string) ([]storage.SequenceNumbers, error) {
	var sets []storage.SequenceNumbers
	err := b.withConn(ctx, func() error {
		st, err := b.conn.Prepare(ctx, b.token, b.q.selectSeqs)
		if err != nil {
			return err
		}
		defer st.Close()
		rows, err := st.QueryContext(ctx, b.opts.Agent, suffix, suffix)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s storage.SequenceNumbers
			if err := rows.Scan(&s.Suffix, &s.First, &s.Current, &s.Timestamp); err != nil {
				return err
			}
			sets = append(sets, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("sqldb: read sequence numbers: %w", err)
	}
	return sets, nil
}

func (b *Backend) Cleanup(ctx context.Context, r storage.SequenceNumbers) error {
	err := b.withConn(ctx, func() error {
		if b.opts.DisableArchive {
			_, err := b.exec(ctx, b.q.deleteRange, b.opts.Agent, r.First, r.Current)
			return err
		}
		return b.conn.Tx(ctx, b.token, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, b.q.archiveRange, storage.StatusArchived, b.opts.Agent, r.First, r.Current); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, b.q.upsertSeq, b.opts.Agent, storage.ArchiveSuffix(r), r.First, r.Current, r.Timestamp)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("sqldb: cleanup %s: %w", r, err)
	}
	return nil
}

func (b *Backend) Clear(ctx context.Context) error {
	return b.withConn(ctx, func() error {
		return b.conn.Tx(ctx, b.token, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, b.q.clearDeltas, b.opts.Agent); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, b.q.clearSeqs, b.opts.Agent)
			return err
		})
	})
}

// TryLock sets the lock token if no other instance holds it.
func (b *Backend) TryLock(ctx context.Context) (bool, error) {
	var ok bool
	err := b.withConn(ctx, func() error {
		res, err := b.exec(ctx, b.q.tryLock, b.opts.Agent, b.token, time.Now().UnixMilli())
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		ok = rows == 1
		return err
	})
	return ok, err
}

// Break clears the lock token.
func (b *Backend) Break(ctx context.Context) error {
	return b.withConn(ctx, func() error {
		_, err := b.exec(ctx, b.q.breakLock, b.opts.Agent)
		return err
	})
}

func (b *Backend) LockOwnership(ctx context.Context) error {
	return storage.AcquireWithTimeout(ctx, b, b.opts.LockTimeout, b.opts.LockPoll, b.opts.Logger)
}

func (b *Backend) UnlockOwnership(ctx context.Context) error {
	return b.withConn(ctx, func() error {
		_, err := b.exec(ctx, b.q.unlock, b.opts.Agent, b.token)
		return err
	})
}

func (b *Backend) ClaimOwnership(ctx context.Context) error {
	return b.withConn(ctx, func() error {
		_, err := b.exec(ctx, b.q.claimOwner, b.token, b.opts.Agent)
		return err
	})
}

// CheckOwnership compares the recorded owner with this instance. An empty
// owner is reclaimed.
func (b *Backend) CheckOwnership(ctx context.Context) error {
	var owner string
	err := b.withConn(ctx, func() error {
		st, err := b.conn.Prepare(ctx, b.token, b.q.selectOwner)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.QueryRowContext(ctx, b.opts.Agent).Scan(&owner)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows) || (err == nil && owner == ""):
		return b.ClaimOwnership(ctx)
	case err != nil:
		return fmt.Errorf("sqldb: read owner: %w", err)
	case owner != b.token:
		return fmt.Errorf("%w: owner is %s", storage.ErrOwnershipLost, owner)
	}
	return nil
}

// Close releases the shared connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.conn.Release()
}
