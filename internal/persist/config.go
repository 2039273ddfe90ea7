package persist

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
	"github.com/codeaudit/cougaar-core-sub004/internal/telemetry/metric"
)

// DefaultDriftTolerance is how far the schedule may slip before every
// backend is shifted.
const DefaultDriftTolerance = 10 * time.Second

var (
	ErrNoBackends      = errors.New("persist: at least one backend is required")
	ErrInvalidInterval = errors.New("persist: interval must be positive")
	ErrClosed          = errors.New("persist: persister closed")
)

// BackendSpec schedules one backend.
type BackendSpec struct {
	Backend storage.Backend

	// Interval is the time between deltas written to this backend.
	Interval time.Duration

	// ConsolidationPeriod is the number of incremental deltas after which
	// the next delta is full. Values below 1 mean every delta is full.
	ConsolidationPeriod int
}

// Config configures a Persister.
type Config struct {
	// Agent names the agent. It must be unique within Host.
	Agent string

	// Backends in priority order. The persister takes ownership and closes
	// them in Close.
	Backends []BackendSpec

	// Registry names the persistable types.
	Registry *delta.Registry

	// Frame selects compression and encryption of written deltas. Reads
	// detect compression from the frame itself.
	Frame delta.FrameOptions

	// ClearOnStart deletes all stored deltas before anything is read.
	ClearOnStart bool

	// Disabled turns persistence off: Rehydrate starts empty and Persist
	// writes nothing.
	Disabled bool

	// DriftTolerance bounds schedule slip. Default: 10s
	DriftTolerance time.Duration

	// RehydrateSuffix restricts rehydration candidates to sets whose suffix
	// starts with it.
	RehydrateSuffix string

	Host    *Host
	Logger  *slog.Logger
	Metrics *metric.Persistence

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

func (c *Config) validate() error {
	if c.Agent == "" {
		return errors.New("persist: agent name is required")
	}
	if c.Registry == nil {
		return errors.New("persist: registry is required")
	}
	if c.Disabled {
		return nil
	}
	if len(c.Backends) == 0 {
		return ErrNoBackends
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Backend == nil {
			return errors.New("persist: nil backend")
		}
		name := b.Backend.Name()
		if b.Interval <= 0 {
			return fmt.Errorf("%w: backend %s has %v", ErrInvalidInterval, name, b.Interval)
		}
		if seen[name] {
			return fmt.Errorf("persist: duplicate backend name %q", name)
		}
		seen[name] = true
	}
	return nil
}

func (c *Config) withDefaults() {
	if c.DriftTolerance <= 0 {
		c.DriftTolerance = DefaultDriftTolerance
	}
	if c.Host == nil {
		c.Host = DefaultHost()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With("agent", c.Agent)
	if c.Now == nil {
		c.Now = time.Now
	}
}
