package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"syscall"
	"testing"
	"time"
)

func newHandler(timeout time.Duration) *Handler {
	return NewHandler(timeout, slog.New(slog.DiscardHandler))
}

func TestHandler_Run_ReverseOrder(t *testing.T) {
	h := newHandler(time.Second)

	var order []string
	for _, name := range []string{"metrics", "persister", "checkpoint"} {
		h.OnShutdown(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := h.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.Join(order, ","); got != "checkpoint,persister,metrics" {
		t.Errorf("hooks ran in order %s, want checkpoint,persister,metrics", got)
	}

	select {
	case <-h.Done():
	default:
		t.Error("Done channel should be closed after Run")
	}
}

func TestHandler_Run_Once(t *testing.T) {
	h := newHandler(time.Second)
	errHook := errors.New("boom")
	calls := 0
	h.OnShutdown("x", func(context.Context) error { calls++; return errHook })

	first := h.Run()
	second := h.Run()
	if calls != 1 {
		t.Fatalf("hook ran %d times, want 1", calls)
	}
	if !errors.Is(first, errHook) || !errors.Is(second, errHook) {
		t.Fatalf("Run() errors = %v, %v, want boom twice", first, second)
	}
}

func TestHandler_Run_JoinsErrors(t *testing.T) {
	h := newHandler(time.Second)
	errA := errors.New("final checkpoint failed")
	errB := errors.New("close backend failed")

	called := 0
	h.OnShutdown("checkpoint", func(context.Context) error { called++; return errA })
	h.OnShutdown("metrics", func(context.Context) error { called++; return nil })
	h.OnShutdown("persister", func(context.Context) error { called++; return errB })

	err := h.Run()
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Run() error = %v, want both hook errors", err)
	}
	if !strings.Contains(err.Error(), "checkpoint: final checkpoint failed") {
		t.Errorf("Run() error = %q, want hook name prefix", err)
	}
	if called != 3 {
		t.Errorf("called %d hooks, want 3", called)
	}
}

func TestHandler_Run_HookDeadline(t *testing.T) {
	h := newHandler(50 * time.Millisecond)
	h.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := h.Run(); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want DeadlineExceeded", err)
	}
}

func TestHandler_Wait_Context(t *testing.T) {
	h := newHandler(time.Second)
	ran := make(chan struct{})
	h.OnShutdown("hook", func(context.Context) error { close(ran); return nil })

	ctx, cancel := context.WithCancelCause(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(ctx) }()
	cancel(errors.New("ownership lost"))

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after cancel")
	}
	select {
	case <-ran:
	default:
		t.Error("hook did not run")
	}
}

func TestHandler_Wait_Signal(t *testing.T) {
	h := newHandler(time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(context.Background()) }()

	// Give Wait time to set up signal handler
	time.Sleep(50 * time.Millisecond)
	syscall.Kill(syscall.Getpid(), syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not complete in time")
	}
}
