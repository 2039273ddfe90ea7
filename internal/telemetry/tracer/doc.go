// Package tracer wraps OpenTelemetry spans for persistence epochs and
// rehydration.
//
// Spans come from the global otel tracer provider. Setup installs an
// OTLP/HTTP exporting provider when an endpoint is configured; otherwise
// the provider stays a no-op and spans cost almost nothing.
package tracer
