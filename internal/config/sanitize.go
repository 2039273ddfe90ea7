package config

import (
	"net/url"
	"strings"
)

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for logging configuration without exposing secrets.
func Sanitize(cfg *AgentConfig) *AgentConfig {
	sanitized := *cfg

	if sanitized.Persistence.EncryptionKey != "" {
		sanitized.Persistence.EncryptionKey = maskSecret(sanitized.Persistence.EncryptionKey)
	}
	sanitized.Persistence.Backends = make([]BackendConfig, len(cfg.Persistence.Backends))
	for i, b := range cfg.Persistence.Backends {
		b.DSN = maskDSN(b.DSN)
		sanitized.Persistence.Backends[i] = b
	}
	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// maskDSN hides the password of a URL-style DSN.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}
