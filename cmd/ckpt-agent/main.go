// Package main provides the entry point for ckpt-agent.
//
// ckpt-agent runs one agent with a sample planning workload. On start it
// rehydrates the newest readable checkpoint, then persists incremental
// deltas on schedule. On shutdown it writes a final full delta to every
// backend.
//
// Usage:
//
//	ckpt-agent [flags]
//	ckpt-agent -config /path/to/agent.yaml -agent planner-1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/blackboard"
	"github.com/codeaudit/cougaar-core-sub004/internal/config"
	"github.com/codeaudit/cougaar-core-sub004/internal/infra/buildinfo"
	"github.com/codeaudit/cougaar-core-sub004/internal/infra/confloader"
	"github.com/codeaudit/cougaar-core-sub004/internal/infra/shutdown"
	"github.com/codeaudit/cougaar-core-sub004/internal/persist"
	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/backends"
	"github.com/codeaudit/cougaar-core-sub004/internal/telemetry/logger"
	"github.com/codeaudit/cougaar-core-sub004/internal/telemetry/metric"
	"github.com/codeaudit/cougaar-core-sub004/internal/telemetry/tracer"
	"github.com/codeaudit/cougaar-core-sub004/internal/workload"
)

// workloadOwner owns every object the sample workload publishes.
const workloadOwner = "planner"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		agentName   = flag.String("agent", "", "Agent name (overrides agent.name)")
		clearState  = flag.Bool("clear", false, "Delete stored deltas before starting")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("ckpt-agent " + buildinfo.String())
		return nil
	}

	overrides := make(map[string]any)
	if *agentName != "" {
		overrides["agent.name"] = *agentName
	}
	if *clearState {
		overrides["persistence.clear_on_start"] = true
	}

	cfg, err := confloader.LoadAgentConfig(*configFile, overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	base, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slogLogger := base.With("agent", cfg.Agent.Name)
	slog.SetDefault(slogLogger)

	info := buildinfo.Get()
	slogLogger.Info("starting ckpt-agent",
		"version", info.Version,
		"commit", info.Commit,
		"config", *configFile,
		"settings", config.Sanitize(cfg))

	ctx, stop := context.WithCancelCause(context.Background())
	defer stop(nil)

	shutdownTracer, err := tracer.Setup(ctx, tracer.ProviderConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "ckpt-agent",
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	if cfg.Tracing.Endpoint != "" {
		slogLogger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	metrics := metric.NewPersistence()
	p, err := initPersister(ctx, cfg, metrics, slogLogger)
	if err != nil {
		shutdownTracer(context.Background())
		return err
	}

	res, err := p.Rehydrate(ctx)
	if err != nil {
		p.Close()
		shutdownTracer(context.Background())
		return fmt.Errorf("rehydrate: %w", err)
	}
	bb := blackboard.New()
	if skipped := bb.Restore(res); skipped > 0 {
		slogLogger.Warn("restored objects without uid were dropped", "count", skipped)
	}
	slogLogger.Info("blackboard ready", "objects", bb.Count(), "restored", res.Restored())

	gen, err := workload.NewGenerator(bb, workloadOwner)
	if err != nil {
		p.Close()
		shutdownTracer(context.Background())
		return fmt.Errorf("init workload: %w", err)
	}

	shutdownHandler := shutdown.NewHandler(30*time.Second, slogLogger)

	// Hooks run in reverse order of registration.
	shutdownHandler.OnShutdown("tracer", shutdownTracer)

	if *configFile != "" {
		w, err := watchConfig(*configFile, overrides, p, slogLogger)
		if err != nil {
			slogLogger.Warn("config watcher disabled", "error", err)
		} else {
			shutdownHandler.OnShutdown("config watcher", func(context.Context) error { return w.Stop() })
		}
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slogLogger.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slogLogger.Error("metrics server error", "error", err)
			}
		}()
		shutdownHandler.OnShutdown("metrics server", srv.Shutdown)
	}

	shutdownHandler.OnShutdown("persister", func(context.Context) error { return p.Close() })

	runCtx, cancelRun := context.WithCancel(ctx)
	workDone := make(chan struct{})
	persistDone := make(chan struct{})

	shutdownHandler.OnShutdown("final checkpoint", func(ctx context.Context) error {
		cancelRun()
		<-workDone
		<-persistDone
		if p.Err() != nil {
			return nil
		}
		slogLogger.Info("writing final checkpoint")
		infos, err := p.Checkpoint(ctx, bb)
		for _, i := range infos {
			slogLogger.Info("final delta committed", "backend", i.Backend, "delta", i.Number, "objects", i.Objects)
		}
		return err
	})

	go func() {
		defer close(workDone)
		runWorkload(runCtx, gen, cfg.Agent.WorkInterval, slogLogger)
	}()
	go func() {
		defer close(persistDone)
		if err := p.Run(runCtx, bb); err != nil {
			slogLogger.Error("persistence stopped", "error", err)
			stop(err)
		}
	}()

	slogLogger.Info("agent started",
		"backends", len(cfg.Persistence.Backends),
		"interval", p.Interval(),
		"disabled", cfg.Persistence.Disabled)

	if err := shutdownHandler.Wait(ctx); err != nil {
		slogLogger.Error("shutdown error", "error", err)
		return err
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	slogLogger.Info("agent stopped gracefully")
	return nil
}

// initPersister opens the configured backends and builds the persister.
func initPersister(ctx context.Context, cfg *config.AgentConfig, metrics *metric.Persistence, log *slog.Logger) (*persist.Persister, error) {
	pc := cfg.Persistence

	reg := delta.NewRegistry()
	if err := workload.Register(reg); err != nil {
		return nil, fmt.Errorf("register types: %w", err)
	}

	frame, err := config.FrameOptions(cfg)
	if err != nil {
		return nil, err
	}

	var specs []persist.BackendSpec
	if !pc.Disabled {
		opened, err := backends.OpenAll(ctx, pc, storage.Options{Agent: cfg.Agent.Name, Logger: log}, metrics.Registerer())
		if err != nil {
			return nil, fmt.Errorf("open backends: %w", err)
		}
		for i, b := range opened {
			specs = append(specs, persist.BackendSpec{
				Backend:             b,
				Interval:            pc.Backends[i].Interval,
				ConsolidationPeriod: pc.Backends[i].ConsolidationPeriod,
			})
		}
	}

	p, err := persist.New(ctx, persist.Config{
		Agent:           cfg.Agent.Name,
		Backends:        specs,
		Registry:        reg,
		Frame:           frame,
		ClearOnStart:    pc.ClearOnStart,
		Disabled:        pc.Disabled,
		DriftTolerance:  pc.DriftTolerance,
		RehydrateSuffix: pc.RehydrateSuffix,
		Logger:          log,
		Metrics:         metrics,
	})
	if err != nil {
		for _, s := range specs {
			s.Backend.Close()
		}
		return nil, fmt.Errorf("init persister: %w", err)
	}
	return p, nil
}

// runWorkload steps the generator until ctx is done.
func runWorkload(ctx context.Context, gen *workload.Generator, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := gen.Step(); err != nil {
				log.Warn("workload step failed", "error", err)
				continue
			}
			if c := gen.Cursor(); c.Steps%100 == 0 {
				log.Info("workload progress", "steps", c.Steps, "tasks", c.Tasks, "retired", c.Retired)
			}
		}
	}
}

// watchConfig applies the log level and backend intervals when the config
// file changes. Other settings need a restart.
func watchConfig(path string, overrides map[string]any, p *persist.Persister, log *slog.Logger) (*confloader.Watcher, error) {
	return confloader.NewWatcher(path, overrides, func(cfg *config.AgentConfig) {
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			log.Warn("log level not updated", "error", err)
		}
		for _, bc := range cfg.Persistence.Backends {
			if err := p.SetInterval(bc.DisplayName(), bc.Interval); err != nil {
				log.Warn("interval not updated", "backend", bc.DisplayName(), "error", err)
			}
		}
		log.Info("config reloaded", "level", cfg.Log.Level, "interval", p.Interval())
	}, confloader.WithWatcherLogger(log))
}

func metricsMux(m *metric.Persistence) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}
