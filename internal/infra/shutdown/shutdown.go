package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Handler runs named hooks in reverse order of registration once the
// process is asked to stop.
type Handler struct {
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	hooks []hook
	once  sync.Once
	err   error
	done  chan struct{}
}

// NewHandler creates a handler whose hooks share one context that expires
// after timeout. A nil logger uses slog.Default.
func NewHandler(timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// OnShutdown registers a hook. Hooks run in reverse order of registration,
// so resources are released in the opposite order they were acquired.
func (h *Handler) OnShutdown(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// Wait blocks until SIGINT, SIGTERM or ctx is done, then runs the hooks.
func (h *Handler) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		h.logger.Info("shutdown requested", "signal", sig.String())
	case <-ctx.Done():
		h.logger.Info("shutdown requested", "cause", context.Cause(ctx))
	}
	return h.Run()
}

// Run executes the hooks once and returns their joined errors, each
// prefixed with the hook name. Later calls return the same result.
func (h *Handler) Run() error {
	h.once.Do(func() {
		defer close(h.done)
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		h.mu.Lock()
		hooks := append([]hook(nil), h.hooks...)
		h.mu.Unlock()

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			start := time.Now()
			err := hooks[i].fn(ctx)
			h.logger.Debug("shutdown hook finished", "hook", hooks[i].name, "duration", time.Since(start), "error", err)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", hooks[i].name, err))
			}
		}
		h.err = errors.Join(errs...)
	})
	return h.err
}

// Done is closed when Run has finished.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}
