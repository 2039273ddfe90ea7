package persist

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/internal/persist/identity"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
	"github.com/codeaudit/cougaar-core-sub004/internal/telemetry/metric"
	"github.com/codeaudit/cougaar-core-sub004/internal/telemetry/tracer"
)

// EpochInfo describes a committed delta.
type EpochInfo struct {
	Backend  string
	Number   int
	Full     bool
	Objects  int
	Bytes    int
	Duration time.Duration
	Sequence storage.SequenceNumbers
}

// Persist runs one epoch: it pulls the collaborator's changes and writes a
// delta to the backend that is due. full forces a full delta. With
// persistence disabled the changes are drained and nil is returned.
//
// A failed write leaves the committed chain untouched; the next epoch
// retries with a full delta. Identity violations and lost ownership are
// fatal and returned by every later call.
func (p *Persister) Persist(ctx context.Context, c Collaborator, full bool) (*EpochInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return nil, err
	}

	defer suspend(c)()
	p.table.Lock()
	defer p.table.Unlock()

	if err := p.applyChanges(ctx, c); err != nil {
		return nil, err
	}
	if p.cfg.Disabled {
		return nil, nil
	}
	s := p.sched.take(p.cfg.Now())
	return p.epoch(ctx, s, full)
}

// Checkpoint pulls the collaborator's changes once and writes a full delta
// to every backend. It is used at shutdown.
func (p *Persister) Checkpoint(ctx context.Context, c Collaborator) ([]*EpochInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return nil, err
	}

	defer suspend(c)()
	p.table.Lock()
	defer p.table.Unlock()

	if err := p.applyChanges(ctx, c); err != nil {
		return nil, err
	}
	if p.cfg.Disabled {
		return nil, nil
	}
	var (
		infos []*EpochInfo
		errs  []error
	)
	for _, s := range p.states {
		info, err := p.epoch(ctx, s, true)
		if err != nil {
			if p.fatal != nil {
				return infos, err
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.name(), err))
			continue
		}
		infos = append(infos, info)
	}
	return infos, errors.Join(errs...)
}

func (p *Persister) usable() error {
	if p.closed {
		return ErrClosed
	}
	return p.fatal
}

// applyChanges folds the collaborator's changes into the table and every
// backend's pending set. Called with the table locked.
func (p *Persister) applyChanges(ctx context.Context, c Collaborator) error {
	p.table.Reclaim()
	p.table.ClearMarks()

	changes, err := c.Changes(ctx)
	if err != nil {
		return fmt.Errorf("persist: collect changes: %w", err)
	}
	if p.cfg.Disabled {
		return nil
	}

	for _, ch := range changes {
		if ch.Kind == ChangeBlob {
			if ch.Data == nil {
				delete(p.clientData, ch.Owner)
			} else {
				p.clientData[ch.Owner] = slices.Clone(ch.Data)
			}
			continue
		}
		if ch.Object == nil {
			p.logger.Warn("ignoring change without object", "kind", ch.Kind, "owner", ch.Owner)
			continue
		}
		if _, err := p.reg.Name(ch.Object); err != nil {
			p.logger.Warn("ignoring change to unregistered type", "kind", ch.Kind, "type", fmt.Sprintf("%T", ch.Object))
			continue
		}
		if p.reg.Exempt(ch.Object) {
			continue
		}

		var a *identity.Association
		if ch.Kind == ChangeRemove {
			if a = p.table.Find(ch.Object); a == nil {
				// Never persisted, nothing to retract.
				continue
			}
		} else if a, err = p.table.FindOrCreate(ch.Object); err != nil {
			p.logger.Warn("ignoring change", "kind", ch.Kind, "error", err)
			continue
		}
		if err := a.SetOwner(ch.Owner); err != nil {
			return p.setFatal(err)
		}
		a.SetActive(ch.Kind != ChangeRemove)
		for _, s := range p.states {
			s.pending[a.ID()] = ch.Object
		}
	}
	return nil
}

func (p *Persister) setFatal(err error) error {
	if p.fatal == nil {
		p.fatal = err
		p.logger.Error("persistence stopped", "error", err)
	}
	return err
}

// epoch writes one delta to s. Called with p.mu and the table locked.
func (p *Persister) epoch(ctx context.Context, s *backendState, requested bool) (info *EpochInfo, err error) {
	start := time.Now()
	full := s.wantsFull(requested)
	n := s.nextDelta

	ctx, span := tracer.StartSpan(ctx, "persist.epoch",
		tracer.Agent(p.agent), tracer.Backend(s.name()), tracer.Delta(n), tracer.Full(full))
	defer func() {
		tracer.Fail(span, err)
		span.End()
	}()

	data, written, err := p.encode(s, n, full)
	p.table.ClearMarks()
	if err != nil {
		p.logFailure(s, n, err)
		p.metrics.ObserveEpoch(metric.EpochResult{Agent: p.agent, Backend: s.name(), Full: full, Err: err})
		return nil, err
	}

	seq := storage.SequenceNumbers{First: n, Current: n + 1, Timestamp: p.cfg.Now().UnixMilli()}
	if !full {
		seq.First = s.seq.First
	}
	if err := p.commit(ctx, s, n, full, data, seq); err != nil {
		s.needFull = true
		if errors.Is(err, storage.ErrOwnershipLost) {
			p.setFatal(err)
		} else {
			p.logFailure(s, n, err)
		}
		p.metrics.ObserveEpoch(metric.EpochResult{Agent: p.agent, Backend: s.name(), Full: full, Err: err})
		return nil, err
	}

	if full && s.hasSeq && s.seq.First != seq.First {
		s.cleanup = append(s.cleanup, s.seq)
	}
	s.seq, s.hasSeq = seq, true
	s.nextDelta = n + 1
	s.needFull = false
	if full {
		s.deltaCount = 0
	} else {
		s.deltaCount++
	}
	clear(s.pending)
	p.runCleanup(ctx, s)

	info = &EpochInfo{
		Backend:  s.name(),
		Number:   n,
		Full:     full,
		Objects:  written,
		Bytes:    len(data),
		Duration: time.Since(start),
		Sequence: seq,
	}
	span.SetAttributes(tracer.Objects(written))
	p.metrics.ObserveEpoch(metric.EpochResult{
		Agent:    p.agent,
		Backend:  info.Backend,
		Full:     full,
		Duration: info.Duration,
		Bytes:    info.Bytes,
		Objects:  written,
	})
	p.metrics.SetAssociations(p.agent, p.table.Len())
	p.logger.Debug("delta committed",
		"backend", info.Backend,
		"delta", n,
		"full", full,
		"objects", written,
		"bytes", info.Bytes,
		"sequence", seq.String(),
	)
	return info, nil
}

// encode marks the write set of s and serializes it into a frame.
func (p *Persister) encode(s *backendState, n int, full bool) ([]byte, int, error) {
	var set []*identity.Association
	if full {
		p.table.Each(func(a *identity.Association) bool {
			set = append(set, a)
			return true
		})
	} else {
		for _, id := range slices.Sorted(maps.Keys(s.pending)) {
			if a := p.table.Get(id); a != nil && a.Object() != nil {
				set = append(set, a)
			}
		}
	}
	// Strong references for the duration of the encode.
	keep := make([]any, 0, len(set))
	for _, a := range set {
		keep = append(keep, a.Object())
		a.Mark()
	}

	d := &delta.Delta{
		Meta: delta.Meta{
			Agent:     p.agent,
			Number:    n,
			Full:      full,
			Timestamp: p.cfg.Now().UnixMilli(),
		},
		ClientData: maps.Clone(p.clientData),
	}

	p.host.encodeMu.Lock()
	enc := delta.NewEncoder(p.table, p.reg)
	for _, a := range set {
		refs, err := enc.WriteAssociation(a)
		if err != nil {
			p.host.encodeMu.Unlock()
			return nil, 0, err
		}
		d.Refs = append(d.Refs, refs)
	}
	d.Payload = enc.Bytes()
	d.NextID = p.table.NextID()
	p.host.encodeMu.Unlock()
	clear(keep)

	data, err := delta.Marshal(d, p.cfg.Frame)
	if err != nil {
		return nil, 0, err
	}
	return data, len(set), nil
}

// commit writes data as delta n under the ownership lock and records seq.
func (p *Persister) commit(ctx context.Context, s *backendState, n int, full bool, data []byte, seq storage.SequenceNumbers) (err error) {
	if err := s.b.LockOwnership(ctx); err != nil {
		return err
	}
	defer func() {
		if uerr := s.b.UnlockOwnership(ctx); uerr != nil && err == nil {
			err = uerr
		}
	}()
	if err := s.b.CheckOwnership(ctx); err != nil {
		return err
	}

	w, err := s.b.OpenOutput(ctx, n, full)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = s.b.FinishOutput(ctx, seq, full)
	}
	if err != nil {
		if aerr := s.b.AbortOutput(ctx, s.seq); aerr != nil {
			p.logger.Warn("abort failed", "backend", s.name(), "delta", n, "error", aerr)
		}
		return err
	}
	return nil
}

// runCleanup retires superseded sets. Failures stay queued for the next
// epoch.
func (p *Persister) runCleanup(ctx context.Context, s *backendState) {
	remaining := s.cleanup[:0]
	for _, r := range s.cleanup {
		if err := s.b.Cleanup(ctx, r); err != nil {
			p.logger.Warn("cleanup failed", "backend", s.name(), "sequence", r.String(), "error", err)
			remaining = append(remaining, r)
			continue
		}
		p.logger.Debug("cleaned up superseded set", "backend", s.name(), "sequence", r.String())
	}
	s.cleanup = remaining
}

func (p *Persister) logFailure(s *backendState, n int, err error) {
	p.failLog.Do(func() {
		p.logger.Warn("epoch failed, will retry", "backend", s.name(), "delta", n, "error", err)
	})
}
