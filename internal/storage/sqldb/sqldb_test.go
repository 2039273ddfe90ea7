package sqldb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Opener {
		dsn := filepath.Join(t.TempDir(), "checkpoints.db")
		return func(opts storage.Options) storage.Backend {
			b, err := New(context.Background(), Config{Options: opts, DSN: dsn})
			if err != nil {
				t.Fatalf("New error = %v", err)
			}
			return b
		}
	})
}

func TestNewRejectsBadTableName(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "x.db")
	_, err := New(context.Background(), Config{Options: storagetest.Options("a"), DSN: dsn, Table: "deltas; DROP TABLE x"})
	if err == nil {
		t.Fatal("New accepted an invalid table name")
	}
}

func TestAgentsShareTables(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "shared.db")
	a, err := New(ctx, Config{Options: storagetest.Options("alpha"), DSN: dsn})
	if err != nil {
		t.Fatalf("New(alpha) error = %v", err)
	}
	defer a.Close()
	b, err := New(ctx, Config{Options: storagetest.Options("beta"), DSN: dsn})
	if err != nil {
		t.Fatalf("New(beta) error = %v", err)
	}
	defer b.Close()
	if a.conn != b.conn {
		t.Fatal("backends on the same DSN do not share a connection")
	}

	storagetest.WriteDelta(t, a, storage.SequenceNumbers{First: 0, Current: 1, Timestamp: 1}, true, []byte("alpha"))
	if sets := storagetest.Sets(t, b, ""); len(sets) != 0 {
		t.Fatalf("beta sees sets %v of alpha", sets)
	}
	if got := storagetest.ReadDelta(t, a, 0); string(got) != "alpha" {
		t.Fatalf("delta 0 = %q, want alpha", got)
	}
}

func TestUncommittedDeltaInvisible(t *testing.T) {
	ctx := context.Background()
	b, err := New(ctx, Config{Options: storagetest.Options("agent"), DSN: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	defer b.Close()
	w, err := b.OpenOutput(ctx, 0, true)
	if err != nil {
		t.Fatalf("OpenOutput error = %v", err)
	}
	w.Write([]byte("pending"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if _, err := b.OpenInput(ctx, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("OpenInput error = %v, want ErrNotFound", err)
	}
}

func openConn(t *testing.T, max int) *Conn {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "conn.db"), max)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	t.Cleanup(func() { c.Release() })
	return c
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	c := openConn(t, 4)

	if err := c.Claim(ctx, "a"); err != nil {
		t.Fatalf("Claim(a) error = %v", err)
	}
	if err := c.Claim(ctx, "a"); !errors.Is(err, ErrReentrant) {
		t.Fatalf("second Claim(a) error = %v, want ErrReentrant", err)
	}

	claimed := make(chan error, 1)
	go func() { claimed <- c.Claim(ctx, "b") }()
	select {
	case err := <-claimed:
		t.Fatalf("Claim(b) returned %v while a holds the connection", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := c.Unclaim("b"); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("Unclaim(b) error = %v, want ErrNotClaimed", err)
	}
	if err := c.Unclaim("a"); err != nil {
		t.Fatalf("Unclaim(a) error = %v", err)
	}
	select {
	case err := <-claimed:
		if err != nil {
			t.Fatalf("Claim(b) error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Claim(b) did not proceed after Unclaim(a)")
	}
	c.Unclaim("b")
}

func TestClaimHonorsContext(t *testing.T) {
	c := openConn(t, 4)
	if err := c.Claim(context.Background(), "a"); err != nil {
		t.Fatalf("Claim(a) error = %v", err)
	}
	defer c.Unclaim("a")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Claim(ctx, "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Claim(b) error = %v, want DeadlineExceeded", err)
	}
}

func TestStatementCap(t *testing.T) {
	ctx := context.Background()
	c := openConn(t, 2)
	if err := c.Claim(ctx, "a"); err != nil {
		t.Fatalf("Claim error = %v", err)
	}
	defer c.Unclaim("a")

	s1, err := c.Prepare(ctx, "a", "SELECT 1")
	if err != nil {
		t.Fatalf("Prepare 1 error = %v", err)
	}
	s2, err := c.Prepare(ctx, "a", "SELECT 2")
	if err != nil {
		t.Fatalf("Prepare 2 error = %v", err)
	}
	if _, err := c.Prepare(ctx, "a", "SELECT 3"); !errors.Is(err, ErrTooManyStatements) {
		t.Fatalf("Prepare 3 error = %v, want ErrTooManyStatements", err)
	}
	s1.Close()
	s1.Close()
	if got := c.OpenStatements(); got != 1 {
		t.Fatalf("OpenStatements() = %d, want 1", got)
	}
	s3, err := c.Prepare(ctx, "a", "SELECT 3")
	if err != nil {
		t.Fatalf("Prepare after Close error = %v", err)
	}
	s2.Close()
	s3.Close()

	if _, err := c.Prepare(ctx, "b", "SELECT 1"); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("Prepare by non-holder error = %v, want ErrNotClaimed", err)
	}
}

func TestConnRefCount(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "ref.db")
	c1, err := Open(ctx, dsn, 0)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	c2, err := Open(ctx, dsn, 0)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if c1 != c2 {
		t.Fatal("Open returned distinct connections for one DSN")
	}
	c1.Release()
	if err := c2.db.PingContext(ctx); err != nil {
		t.Fatalf("connection closed while still referenced: %v", err)
	}
	c2.Release()
	c3, err := Open(ctx, dsn, 0)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer c3.Release()
	if c3 == c1 {
		t.Fatal("released connection was reused")
	}
}
