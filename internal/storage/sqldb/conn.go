package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

var (
	ErrReentrant         = errors.New("sqldb: connection already claimed by this holder")
	ErrNotClaimed        = errors.New("sqldb: connection not claimed by this holder")
	ErrTooManyStatements = errors.New("sqldb: prepared statement limit reached")
)

// DefaultMaxStatements caps the prepared statements open on one connection.
const DefaultMaxStatements = 64

const defaultPragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Conn is a database connection shared by every backend in the process that
// uses the same DSN. Holders claim it exclusively for the duration of an
// operation; a holder claiming it twice gets ErrReentrant, other holders wait.
type Conn struct {
	dsn      string
	db       *sql.DB
	maxStmts int
	sem      chan struct{}

	mu     sync.Mutex
	holder string
	stmts  int
	refs   int
}

var shared = struct {
	sync.Mutex
	conns map[string]*Conn
}{conns: make(map[string]*Conn)}

// Open returns the shared connection for dsn, opening it on first use.
// Every Open must be paired with Release.
func Open(ctx context.Context, dsn string, maxStmts int) (*Conn, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqldb: dsn is required")
	}
	if maxStmts <= 0 {
		maxStmts = DefaultMaxStatements
	}

	shared.Lock()
	defer shared.Unlock()
	if c, ok := shared.conns[dsn]; ok {
		c.mu.Lock()
		c.refs++
		c.mu.Unlock()
		return c, nil
	}

	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("sqldb: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqldb: ping: %w", err)
	}
	c := &Conn{
		dsn:      dsn,
		db:       db,
		maxStmts: maxStmts,
		sem:      make(chan struct{}, 1),
		refs:     1,
	}
	shared.conns[dsn] = c
	return c, nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?" + defaultPragmas
}

// Release drops one reference and closes the connection with the last one.
func (c *Conn) Release() error {
	shared.Lock()
	defer shared.Unlock()
	c.mu.Lock()
	c.refs--
	refs := c.refs
	c.mu.Unlock()
	if refs > 0 {
		return nil
	}
	delete(shared.conns, c.dsn)
	return c.db.Close()
}

// Claim takes the connection for holder, waiting for the current holder.
func (c *Conn) Claim(ctx context.Context, holder string) error {
	c.mu.Lock()
	if c.holder == holder {
		c.mu.Unlock()
		return ErrReentrant
	}
	c.mu.Unlock()

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	c.holder = holder
	c.mu.Unlock()
	return nil
}

// Unclaim releases the connection.
func (c *Conn) Unclaim(holder string) error {
	c.mu.Lock()
	if c.holder != holder {
		c.mu.Unlock()
		return ErrNotClaimed
	}
	c.holder = ""
	c.mu.Unlock()
	<-c.sem
	return nil
}

func (c *Conn) checkHolder(holder string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holder != holder {
		return ErrNotClaimed
	}
	return nil
}

// Stmt is a prepared statement counted against the connection's limit.
type Stmt struct {
	*sql.Stmt
	c    *Conn
	once sync.Once
}

// Close closes the statement and returns its slot.
func (s *Stmt) Close() error {
	var err error
	s.once.Do(func() {
		err = s.Stmt.Close()
		s.c.mu.Lock()
		s.c.stmts--
		s.c.mu.Unlock()
	})
	return err
}

// Prepare prepares query for holder, who must have claimed the connection.
func (c *Conn) Prepare(ctx context.Context, holder, query string) (*Stmt, error) {
	c.mu.Lock()
	if c.holder != holder {
		c.mu.Unlock()
		return nil, ErrNotClaimed
	}
	if c.stmts >= c.maxStmts {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrTooManyStatements, c.maxStmts)
	}
	c.stmts++
	c.mu.Unlock()

	st, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		c.mu.Lock()
		c.stmts--
		c.mu.Unlock()
		return nil, err
	}
	return &Stmt{Stmt: st, c: c}, nil
}

// OpenStatements returns the number of statements not yet closed.
func (c *Conn) OpenStatements() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stmts
}

// Tx runs fn in a transaction for holder.
func (c *Conn) Tx(ctx context.Context, holder string, fn func(tx *sql.Tx) error) error {
	if err := c.checkHolder(holder); err != nil {
		return err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqldb: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqldb: commit: %w", err)
	}
	return nil
}
