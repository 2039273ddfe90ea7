package persist

import (
	"context"
	"fmt"
	"io"
	"maps"
	"sort"
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/internal/persist/identity"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
	"github.com/codeaudit/cougaar-core-sub004/internal/telemetry/tracer"
)

// Result is the state restored by Rehydrate.
type Result struct {
	// Objects holds the active objects by owner, in reference id order.
	Objects map[string][]delta.Object

	// ClientData holds the blobs from the last delta of the restored set.
	ClientData map[string][]byte

	// Backend and Sequence identify the restored set. Backend is empty when
	// nothing was restored.
	Backend  string
	Sequence storage.SequenceNumbers

	// Attempts counts the candidate sets tried, including the one restored.
	Attempts int
}

// Restored reports whether a stored set was replayed.
func (r *Result) Restored() bool { return r.Backend != "" }

type candidate struct {
	s   *backendState
	seq storage.SequenceNumbers
}

// Rehydrate rebuilds the identity table from the newest readable set across
// all backends. A set that fails to replay, for any reason including an
// identity violation, is discarded and the next older one is tried. When no
// set replays the agent starts empty. Rehydrate must run before the first
// epoch.
func (p *Persister) Rehydrate(ctx context.Context) (res *Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "persist.rehydrate", tracer.Agent(p.agent))
	defer func() {
		tracer.Fail(span, err)
		span.End()
	}()

	res = &Result{Objects: make(map[string][]delta.Object), ClientData: make(map[string][]byte)}
	if p.cfg.Disabled {
		return res, nil
	}

	cands := p.candidates(ctx)
	for _, c := range cands {
		res.Attempts++
		tbl := identity.NewTable()
		tbl.Lock()
		clientData, err := p.replay(ctx, tbl, c)
		if err != nil {
			tbl.Discard()
			tbl.Unlock()
			p.logger.Warn("rehydration candidate failed",
				"backend", c.s.name(),
				"sequence", c.seq.String(),
				"error", err,
			)
			continue
		}

		p.finishReplay(tbl, res)
		tbl.Unlock()

		old := p.table
		p.table = tbl
		old.Discard()
		p.clientData = clientData
		maps.Copy(res.ClientData, clientData)
		res.Backend = c.s.name()
		res.Sequence = c.seq

		for _, s := range p.states {
			clear(s.pending)
			s.needFull = true
			if s == c.s && c.seq.Suffix == "" && c.seq.Current == s.nextDelta {
				s.seq, s.hasSeq = c.seq, true
				s.needFull = false
				s.deltaCount = c.seq.Len() - 1
			}
		}

		p.metrics.ObserveRehydration(p.agent, true, time.Since(start))
		p.metrics.SetAssociations(p.agent, tbl.Len())
		span.SetAttributes(tracer.Backend(res.Backend), tracer.Delta(c.seq.Current-1))
		p.logger.Info("rehydrated",
			"backend", res.Backend,
			"sequence", c.seq.String(),
			"attempts", res.Attempts,
			"associations", tbl.Len(),
			"elapsed", time.Since(start),
		)
		return res, nil
	}

	for _, s := range p.states {
		s.needFull = true
	}
	p.metrics.ObserveRehydration(p.agent, false, time.Since(start))
	if len(cands) > 0 {
		p.logger.Warn("no stored set could be replayed, starting empty", "attempts", res.Attempts)
	} else {
		p.logger.Info("no stored state, starting empty")
	}
	return res, nil
}

// candidates lists every set of every backend, newest first. Ties go to the
// backend name, then to the longer chain.
func (p *Persister) candidates(ctx context.Context) []candidate {
	var out []candidate
	for _, s := range p.states {
		sets, err := s.b.ReadSequenceNumbers(ctx, p.cfg.RehydrateSuffix)
		if err != nil {
			p.logger.Warn("cannot list sequence sets", "backend", s.name(), "error", err)
			continue
		}
		for _, seq := range sets {
			if !seq.Valid() || seq.Len() == 0 {
				continue
			}
			out = append(out, candidate{s: s, seq: seq})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.seq.Timestamp != b.seq.Timestamp {
			return a.seq.Timestamp > b.seq.Timestamp
		}
		if a.s.name() != b.s.name() {
			return a.s.name() < b.s.name()
		}
		return a.seq.Current > b.seq.Current
	})
	return out
}

// replay decodes every delta of c into tbl and returns the client data of
// the last one.
func (p *Persister) replay(ctx context.Context, tbl *identity.Table, c candidate) (map[string][]byte, error) {
	var clientData map[string][]byte
	for n := c.seq.First; n < c.seq.Current; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := p.readDelta(ctx, c.s.b, n)
		if err != nil {
			return nil, fmt.Errorf("delta %d: %w", n, err)
		}
		if d.Meta.Number != n || d.Meta.Agent != p.agent {
			return nil, fmt.Errorf("%w: delta %d claims to be %s/%d", delta.ErrCorrupt, n, d.Meta.Agent, d.Meta.Number)
		}
		if n == c.seq.First && !d.Meta.Full {
			return nil, fmt.Errorf("%w: set starts with incremental delta %d", delta.ErrCorrupt, n)
		}
		dec := delta.NewDecoder(tbl, p.reg, d.Payload)
		for i, refs := range d.Refs {
			if _, err := dec.ReadAssociation(refs); err != nil {
				return nil, fmt.Errorf("delta %d association %d: %w", n, i, err)
			}
		}
		tbl.SetNextID(d.NextID)
		clientData = d.ClientData
	}
	if clientData == nil {
		clientData = make(map[string][]byte)
	}
	return clientData, nil
}

func (p *Persister) readDelta(ctx context.Context, b storage.Backend, n int) (*delta.Delta, error) {
	r, err := b.OpenInput(ctx, n)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return delta.Unmarshal(data, p.cfg.Frame)
}

// finishReplay runs the post-rehydration hooks once per restored object,
// releases the keep-alive set and collects the active objects by owner.
func (p *Persister) finishReplay(tbl *identity.Table, res *Result) {
	// Owners hold the active objects from here on; tbl only knows them
	// weakly once Release runs.
	tbl.Each(func(a *identity.Association) bool {
		if !a.Active() {
			return true
		}
		if obj, ok := a.Object().(delta.Object); ok {
			res.Objects[a.Owner()] = append(res.Objects[a.Owner()], obj)
		}
		return true
	})

	seen := make(map[any]struct{})
	for _, obj := range tbl.Retained() {
		if _, dup := seen[obj]; dup {
			continue
		}
		seen[obj] = struct{}{}
		if r, ok := obj.(delta.Rehydrated); ok {
			r.AfterRehydrate()
		}
	}
	tbl.Release()
}
