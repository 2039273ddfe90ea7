// Package config defines the checkpoint agent configuration.
//
//   - spec.go: AgentConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: validation (positive intervals, backend settings)
//   - sanitize.go: Log sanitization (hide sensitive values)
//
// Configuration is loaded via internal/infra/confloader from a file and
// CKPT_-prefixed environment variables.
package config
