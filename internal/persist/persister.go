package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/internal/persist/identity"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
	"github.com/codeaudit/cougaar-core-sub004/internal/telemetry/metric"
)

// Persister checkpoints one agent.
type Persister struct {
	agent   string
	cfg     Config
	host    *Host
	reg     *delta.Registry
	logger  *slog.Logger
	metrics *metric.Persistence

	// mu serializes epochs, rehydration and Close.
	mu         sync.Mutex
	table      *identity.Table
	states     []*backendState
	sched      *schedule
	clientData map[string][]byte
	fatal      error
	closed     bool

	failLog rate.Sometimes
}

// New validates cfg, registers the agent with its Host and claims ownership
// of every backend. With ClearOnStart set, every backend is cleared.
func New(ctx context.Context, cfg Config) (*Persister, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.withDefaults()

	p := &Persister{
		agent:      cfg.Agent,
		cfg:        cfg,
		host:       cfg.Host,
		reg:        cfg.Registry,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		table:      identity.NewTable(),
		clientData: make(map[string][]byte),
		failLog:    rate.Sometimes{First: 3, Interval: time.Minute},
	}
	for _, spec := range cfg.Backends {
		p.states = append(p.states, &backendState{
			b:             spec.Backend,
			interval:      spec.Interval,
			consolidation: spec.ConsolidationPeriod,
			needFull:      true,
			pending:       make(map[int32]delta.Object),
		})
	}
	p.sched = newSchedule(p.states, cfg.Now(), cfg.DriftTolerance)

	if err := p.host.register(p); err != nil {
		return nil, fmt.Errorf("%w: %s", err, p.agent)
	}
	if cfg.Disabled {
		p.logger.Info("persistence disabled")
		return p, nil
	}
	for _, s := range p.states {
		if err := p.claim(ctx, s); err != nil {
			p.host.unregister(p)
			return nil, fmt.Errorf("persist: backend %s: %w", s.name(), err)
		}
	}
	p.logger.Info("persister ready",
		"backends", len(p.states),
		"combined_interval", p.Interval(),
		"clear_on_start", cfg.ClearOnStart,
	)
	return p, nil
}

// claim takes ownership of s, optionally clears it, and loads its chain
// position.
func (p *Persister) claim(ctx context.Context, s *backendState) error {
	if err := s.b.LockOwnership(ctx); err != nil {
		return err
	}
	err := s.b.ClaimOwnership(ctx)
	if uerr := s.b.UnlockOwnership(ctx); err == nil {
		err = uerr
	}
	if err != nil {
		return err
	}
	if p.cfg.ClearOnStart {
		if err := s.b.Clear(ctx); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	sets, err := s.b.ReadSequenceNumbers(ctx, "")
	if err != nil {
		return err
	}
	for _, set := range sets {
		if set.Current > s.nextDelta {
			s.nextDelta = set.Current
		}
		if set.Suffix == "" {
			s.seq, s.hasSeq = set, true
		}
	}
	return nil
}

// Interval is the combined period of all backend schedules.
func (p *Persister) Interval() time.Duration {
	intervals := make([]time.Duration, 0, len(p.states))
	for _, s := range p.states {
		intervals = append(intervals, s.interval)
	}
	return CombinedInterval(intervals...)
}

// SetInterval changes the interval of the named backend. It takes effect
// after the backend's next delta.
func (p *Persister) SetInterval(name string, d time.Duration) error {
	if d <= 0 {
		return ErrInvalidInterval
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.sched.find(name)
	if s == nil {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, name)
	}
	s.interval = d
	return nil
}

// Table returns the identity table. Callers must hold its lock while using
// it and must not run epochs concurrently.
func (p *Persister) Table() *identity.Table {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.table
}

// Agent returns the agent name.
func (p *Persister) Agent() string { return p.agent }

// Err returns the fatal error that stopped the persister, if any.
func (p *Persister) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatal
}

// Run persists on schedule until ctx is done or a fatal error occurs.
// Transient epoch failures are logged and retried at the next due time.
func (p *Persister) Run(ctx context.Context, c Collaborator) error {
	if p.cfg.Disabled {
		<-ctx.Done()
		return nil
	}
	for {
		p.mu.Lock()
		next, err := p.sched.nextTime(), p.usable()
		p.mu.Unlock()
		if err != nil {
			return err
		}

		wait := next.Sub(p.cfg.Now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if _, err := p.Persist(ctx, c, false); err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, identity.ErrIdentityViolation) || errors.Is(err, storage.ErrOwnershipLost) {
				return err
			}
		}
	}
}

// Close unregisters the agent and closes every backend. Further epochs
// return ErrClosed.
func (p *Persister) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.host.unregister(p)

	var errs []error
	for _, s := range p.states {
		if err := s.b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.name(), err))
		}
	}
	return errors.Join(errs...)
}
