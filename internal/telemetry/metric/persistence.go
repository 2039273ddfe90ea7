package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ckpt"

// Epoch outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Persistence holds the checkpoint metrics of one process.
type Persistence struct {
	registry *prometheus.Registry

	EpochsTotal     *prometheus.CounterVec
	EpochDuration   *prometheus.HistogramVec
	DeltaBytes      *prometheus.HistogramVec
	ObjectsWritten  *prometheus.CounterVec
	Associations    *prometheus.GaugeVec
	Rehydrations    *prometheus.CounterVec
	RehydrationTime prometheus.Histogram
}

// NewPersistence creates the metrics and registers them, together with the
// Go and process collectors, in a fresh registry.
func NewPersistence() *Persistence {
	p := &Persistence{
		registry: prometheus.NewRegistry(),
		EpochsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epochs_total",
			Help:      "Persistence epochs by backend, kind and outcome.",
		}, []string{"agent", "backend", "kind", "outcome"}),
		EpochDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "epoch_duration_seconds",
			Help:      "Time to encode and commit one delta.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"agent", "backend"}),
		DeltaBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delta_bytes",
			Help:      "Size of committed delta frames.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}, []string{"agent", "backend"}),
		ObjectsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_written_total",
			Help:      "Associations written into committed deltas.",
		}, []string{"agent", "backend"}),
		Associations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "associations",
			Help:      "Live associations in the identity table.",
		}, []string{"agent"}),
		Rehydrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rehydrations_total",
			Help:      "Rehydration runs by outcome.",
		}, []string{"agent", "outcome"}),
		RehydrationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rehydration_duration_seconds",
			Help:      "Time to rebuild the object graph at startup.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
	}

	p.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		p.EpochsTotal,
		p.EpochDuration,
		p.DeltaBytes,
		p.ObjectsWritten,
		p.Associations,
		p.Rehydrations,
		p.RehydrationTime,
	)
	return p
}

// Registerer exposes the registry so storage layers can add collectors.
func (p *Persistence) Registerer() prometheus.Registerer {
	if p == nil {
		return nil
	}
	return p.registry
}

// Gatherer exposes the registry for scraping and tests.
func (p *Persistence) Gatherer() prometheus.Gatherer {
	if p == nil {
		return prometheus.NewRegistry()
	}
	return p.registry
}

// EpochResult describes one epoch for ObserveEpoch.
type EpochResult struct {
	Agent    string
	Backend  string
	Full     bool
	Err      error
	Duration time.Duration
	Bytes    int
	Objects  int
}

// ObserveEpoch records the outcome of one epoch.
func (p *Persistence) ObserveEpoch(r EpochResult) {
	if p == nil {
		return
	}
	kind := "incremental"
	if r.Full {
		kind = "full"
	}
	if r.Err != nil {
		p.EpochsTotal.WithLabelValues(r.Agent, r.Backend, kind, OutcomeFailed).Inc()
		return
	}
	p.EpochsTotal.WithLabelValues(r.Agent, r.Backend, kind, OutcomeOK).Inc()
	p.EpochDuration.WithLabelValues(r.Agent, r.Backend).Observe(r.Duration.Seconds())
	p.DeltaBytes.WithLabelValues(r.Agent, r.Backend).Observe(float64(r.Bytes))
	p.ObjectsWritten.WithLabelValues(r.Agent, r.Backend).Add(float64(r.Objects))
}

// SetAssociations records the identity table size.
func (p *Persistence) SetAssociations(agent string, n int) {
	if p == nil {
		return
	}
	p.Associations.WithLabelValues(agent).Set(float64(n))
}

// ObserveRehydration records a rehydration run. restored is false when the
// agent started empty.
func (p *Persistence) ObserveRehydration(agent string, restored bool, d time.Duration) {
	if p == nil {
		return
	}
	outcome := "restored"
	if !restored {
		outcome = "empty"
	}
	p.Rehydrations.WithLabelValues(agent, outcome).Inc()
	p.RehydrationTime.Observe(d.Seconds())
}
