package persist

import (
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
)

// backendState is the scheduling and chain state of one backend.
type backendState struct {
	b             storage.Backend
	interval      time.Duration
	consolidation int

	next time.Time

	// seq is the set last committed to b; hasSeq is false until one exists.
	seq    storage.SequenceNumbers
	hasSeq bool

	// nextDelta is the number the next delta written to b gets.
	nextDelta int

	// deltaCount counts incremental deltas since the last full one.
	deltaCount int

	// needFull forces the next delta to b to be full: nothing committed
	// yet, a failed write, or rehydration from another chain.
	needFull bool

	// pending holds the objects changed since b's last delta, by reference
	// id. Holding them keeps removed objects alive until their inactive
	// state reaches b.
	pending map[int32]delta.Object

	// cleanup lists superseded sets not yet archived or deleted.
	cleanup []storage.SequenceNumbers
}

func (s *backendState) name() string { return s.b.Name() }

// wantsFull reports whether the next delta to s must be full.
func (s *backendState) wantsFull(requested bool) bool {
	return requested || s.needFull || !s.hasSeq || s.deltaCount >= s.consolidation
}

// CombinedInterval is the effective period of several schedules running in
// parallel: 1 / sum(1/Ti).
func CombinedInterval(intervals ...time.Duration) time.Duration {
	var rate float64
	for _, d := range intervals {
		if d > 0 {
			rate += 1 / d.Seconds()
		}
	}
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / rate)
}

// schedule picks the backends in round-robin by earliest due time.
type schedule struct {
	states    []*backendState
	tolerance time.Duration
}

func newSchedule(states []*backendState, now time.Time, tolerance time.Duration) *schedule {
	for _, s := range states {
		s.next = now.Add(s.interval)
	}
	return &schedule{states: states, tolerance: tolerance}
}

// due returns the backend with the earliest next time; ties go to the one
// listed first.
func (sc *schedule) due() *backendState {
	var best *backendState
	for _, s := range sc.states {
		if best == nil || s.next.Before(best.next) {
			best = s
		}
	}
	return best
}

// take picks the due backend for an epoch starting at now and advances its
// schedule. When the pick is off by more than the tolerance, every backend
// is shifted by the same amount first so the relative phases survive.
func (sc *schedule) take(now time.Time) *backendState {
	s := sc.due()
	if s == nil {
		return nil
	}
	drift := now.Sub(s.next)
	if drift > sc.tolerance || drift < -sc.tolerance {
		for _, o := range sc.states {
			o.next = o.next.Add(drift)
		}
	}
	s.next = s.next.Add(s.interval)
	return s
}

// nextTime returns when the next epoch is due.
func (sc *schedule) nextTime() time.Time {
	if s := sc.due(); s != nil {
		return s.next
	}
	return time.Time{}
}

func (sc *schedule) find(name string) *backendState {
	for _, s := range sc.states {
		if s.name() == name {
			return s
		}
	}
	return nil
}
