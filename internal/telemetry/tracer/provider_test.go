package tracer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_NoEndpoint(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), ProviderConfig{ServiceName: "ckpt-agent"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatal("Setup() without endpoint replaced the global provider")
	}
}

func TestSetup_WithEndpoint(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	// Unroutable address; the exporter connects lazily.
	shutdown, err := Setup(context.Background(), ProviderConfig{
		Endpoint:    "http://192.0.2.1:4318",
		ServiceName: "ckpt-agent",
		SampleRatio: 0.5,
	})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("global provider = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Nothing was exported, so shutdown has nothing to flush.
	_ = shutdown(ctx)
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.ratio).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("sampler(%v) = %q, want prefix %q", tt.ratio, got, tt.want)
		}
	}
}

func TestSpansReachInstalledProvider(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	_, span := StartSpan(context.Background(), "epoch", Agent("a"), Delta(4))
	Fail(span, errors.New("boom"))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if ended[0].Name() != "epoch" {
		t.Fatalf("span name = %q, want epoch", ended[0].Name())
	}
	if ended[0].Status().Code != codes.Error {
		t.Fatalf("span status = %v, want Error", ended[0].Status().Code)
	}
	if n := len(ended[0].Attributes()); n != 2 {
		t.Fatalf("span attributes = %d, want 2", n)
	}
}
