package tracer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/codeaudit/cougaar-core-sub004/persist"

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span named name with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// Fail records err on span and marks it failed. A nil err is a no-op.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Attribute helpers for the common persistence fields.
func Agent(name string) attribute.KeyValue { return attribute.String("ckpt.agent", name) }
func Backend(name string) attribute.KeyValue { return attribute.String("ckpt.backend", name) }
func Delta(n int) attribute.KeyValue { return attribute.Int("ckpt.delta", n) }
func Full(full bool) attribute.KeyValue { return attribute.Bool("ckpt.full", full) }
func Objects(n int) attribute.KeyValue { return attribute.Int("ckpt.objects", n) }
