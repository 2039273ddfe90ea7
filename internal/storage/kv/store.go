// Package kv stores deltas in an embedded Badger database.
//
// Keys, all scoped by agent:
//
//	d/<agent>/<n>       status byte followed by the delta frame
//	s/<agent>/<suffix>  sequence record (JSON)
//	o/<agent>           owner token
//	m/<agent>           ownership lock token
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is a Badger database shared by every KV backend in the process that
// uses the same directory.
type Store struct {
	db     *badger.DB
	cfg    StoreConfig
	logger *slog.Logger
	refs   int

	lastGCTime atomic.Int64 // Unix milliseconds
	gcRewrites atomic.Uint64

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge
	metricsGCRewrites   prometheus.Counter
	metricsOnce         sync.Once

	stopCh chan struct{}
	wg     sync.WaitGroup
}

var stores = struct {
	sync.Mutex
	byDir map[string]*Store
}{byDir: make(map[string]*Store)}

// OpenStore opens the database in cfg.Dir or returns the one already open.
// Every OpenStore must be paired with Release.
func OpenStore(cfg StoreConfig, logger *slog.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("kv: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("kv: resolve dir: %w", err)
	}
	cfg.Dir = dir

	stores.Lock()
	defer stores.Unlock()
	if s, ok := stores.byDir[dir]; ok {
		s.refs++
		return s, nil
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = &badgerLogger{logger: logger}
	opts.BlockCacheSize = cfg.CacheSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.SyncWrites = cfg.SyncWrites
	opts.DetectConflicts = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open db: %w", err)
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: logger,
		refs:   1,
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.gcLoop()
	stores.byDir[dir] = s

	logger.Info("badger store opened",
		"dir", dir,
		"cache_size", cfg.CacheSize,
		"gc_interval", cfg.GCInterval)
	return s, nil
}

// Release drops one reference and closes the database with the last one.
func (s *Store) Release() error {
	stores.Lock()
	defer stores.Unlock()
	s.refs--
	if s.refs > 0 {
		return nil
	}
	delete(stores.byDir, s.cfg.Dir)

	close(s.stopCh)
	s.wg.Wait()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("kv: close db: %w", err)
	}
	s.logger.Info("badger store closed", "dir", s.cfg.Dir)
	return nil
}

// GC rewrites value log files until Badger reports nothing left to reclaim
// and returns the number of rewrites.
func (s *Store) GC(ctx context.Context) (int, error) {
	start := time.Now()
	rewrites := 0
	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
				break
			}
			return rewrites, fmt.Errorf("kv: gc: %w", err)
		}
		rewrites++
	}

	s.lastGCTime.Store(time.Now().UnixMilli())
	s.gcRewrites.Add(uint64(rewrites))
	if s.metricsGCRewrites != nil {
		s.metricsGCRewrites.Add(float64(rewrites))
	}
	s.logger.Debug("gc completed", "rewrites", rewrites, "elapsed", time.Since(start))
	return rewrites, nil
}

// Stats contains storage statistics.
type Stats struct {
	LSMSize      int64
	ValueLogSize int64
	LastGCTime   int64 // Unix milliseconds
	GCRewrites   uint64
}

func (s *Store) Stats() Stats {
	lsm, vlog := s.db.Size()
	return Stats{
		LSMSize:      lsm,
		ValueLogSize: vlog,
		LastGCTime:   s.lastGCTime.Load(),
		GCRewrites:   s.gcRewrites.Load(),
	}
}

// RegisterMetrics registers the store gauges with reg and starts updating
// them. Later calls are no-ops.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) error {
	var err error
	s.metricsOnce.Do(func() {
		labels := prometheus.Labels{"dir": s.cfg.Dir}
		s.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ckpt",
			Subsystem:   "badger",
			Name:        "lsm_size_bytes",
			Help:        "Badger LSM tree size in bytes",
			ConstLabels: labels,
		})
		s.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ckpt",
			Subsystem:   "badger",
			Name:        "value_log_size_bytes",
			Help:        "Badger value log size in bytes",
			ConstLabels: labels,
		})
		s.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ckpt",
			Subsystem:   "badger",
			Name:        "last_gc_timestamp_seconds",
			Help:        "Unix timestamp of the last value log GC run",
			ConstLabels: labels,
		})
		s.metricsGCRewrites = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ckpt",
			Subsystem:   "badger",
			Name:        "gc_rewrites_total",
			Help:        "Value log files rewritten by GC",
			ConstLabels: labels,
		})
		for _, c := range []prometheus.Collector{
			s.metricsLSMSize, s.metricsValueLogSize, s.metricsLastGCTime, s.metricsGCRewrites,
		} {
			if rerr := reg.Register(c); rerr != nil {
				err = fmt.Errorf("kv: register metrics: %w", rerr)
				return
			}
		}
		s.wg.Add(1)
		go s.metricsUpdateLoop()
	})
	return err
}

func (s *Store) metricsUpdateLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.updateMetrics()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) updateMetrics() {
	st := s.Stats()
	s.metricsLSMSize.Set(float64(st.LSMSize))
	s.metricsValueLogSize.Set(float64(st.ValueLogSize))
	if st.LastGCTime > 0 {
		s.metricsLastGCTime.Set(float64(st.LastGCTime) / 1000.0)
	}
}

// gcLoop runs periodic value log GC.
func (s *Store) gcLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := s.GC(ctx); err != nil {
				s.logger.Error("auto gc failed", "error", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
