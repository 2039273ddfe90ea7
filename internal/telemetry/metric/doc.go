// Package metric provides Prometheus metrics for checkpointing.
//
//   - persistence.go: epoch, association and rehydration metrics
//   - handler.go: the /metrics HTTP handler
//
// A nil *Persistence is valid and records nothing, so callers that run
// without metrics need no special casing.
package metric
