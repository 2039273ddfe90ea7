package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Status is the lifecycle state of a stored delta.
type Status uint8

const (
	StatusFull Status = iota + 1
	StatusIncremental
	StatusArchived
	StatusInactive
)

func (s Status) String() string {
	switch s {
	case StatusFull:
		return "full"
	case StatusIncremental:
		return "incremental"
	case StatusArchived:
		return "archived"
	case StatusInactive:
		return "inactive"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Backend stores deltas for a single agent.
//
// Writes follow OpenOutput, write, Close, then FinishOutput or AbortOutput.
// Until FinishOutput returns, neither the delta nor the new sequence numbers
// are visible to readers. At most one output is open at a time.
type Backend interface {
	// Name identifies the backend in logs and breaks ties between
	// rehydration candidates.
	Name() string

	// OpenOutput starts writing delta n.
	OpenOutput(ctx context.Context, n int, full bool) (io.WriteCloser, error)

	// FinishOutput commits the delta opened last and records seq as the
	// current set. The committed delta is seq.Current-1.
	FinishOutput(ctx context.Context, seq SequenceNumbers, full bool) error

	// AbortOutput discards the delta opened last. retained is the current
	// set, which stays unchanged.
	AbortOutput(ctx context.Context, retained SequenceNumbers) error

	// OpenInput opens committed delta n for reading.
	OpenInput(ctx context.Context, n int) (io.ReadCloser, error)

	// ReadSequenceNumbers lists the sets whose suffix starts with suffix.
	// The empty suffix lists every set.
	ReadSequenceNumbers(ctx context.Context, suffix string) ([]SequenceNumbers, error)

	// Cleanup retires a superseded set: archived when archiving is on,
	// deleted otherwise.
	Cleanup(ctx context.Context, r SequenceNumbers) error

	LockOwnership(ctx context.Context) error
	UnlockOwnership(ctx context.Context) error

	// ClaimOwnership records this instance as the owner. Call with the
	// ownership lock held.
	ClaimOwnership(ctx context.Context) error

	// CheckOwnership returns ErrOwnershipLost if another instance claimed
	// ownership since ClaimOwnership. Call with the ownership lock held.
	CheckOwnership(ctx context.Context) error

	// Clear removes every delta and sequence record of the agent.
	Clear(ctx context.Context) error

	Close() error
}

// Options holds settings shared by all backends.
type Options struct {
	// Name overrides the backend name. Defaults to the backend kind.
	Name string

	// Agent is the agent whose deltas are stored.
	Agent string

	// DisableArchive deletes superseded sets instead of keeping them as
	// archived sets.
	DisableArchive bool

	// LockTimeout is how long LockOwnership waits before breaking a
	// stale lock. Default: 30s
	LockTimeout time.Duration

	// LockPoll is the polling interval while waiting. Default: 100ms
	LockPoll time.Duration

	Logger *slog.Logger
}

// Default ownership lock timings.
const (
	DefaultLockTimeout = 30 * time.Second
	DefaultLockPoll    = 100 * time.Millisecond
)

// WithDefaults fills zero fields.
func (o Options) WithDefaults(kind string) Options {
	if o.Name == "" {
		o.Name = kind
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.LockPoll <= 0 {
		o.LockPoll = DefaultLockPoll
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("backend", o.Name, "agent", o.Agent)
	return o
}

// Validate checks the options common to all backends.
func (o Options) Validate() error {
	if o.Agent == "" {
		return fmt.Errorf("storage: agent name is required")
	}
	return nil
}
