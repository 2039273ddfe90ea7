package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/internal/telemetry/logger"
)

// Verify validates the configuration.
func Verify(cfg *AgentConfig) error {
	if strings.TrimSpace(cfg.Agent.Name) == "" {
		return errors.New("agent.name is required")
	}
	if err := verifyPersistence(&cfg.Persistence); err != nil {
		return err
	}
	if err := verifyLog(&cfg.Log); err != nil {
		return err
	}
	return verifyTracing(&cfg.Tracing)
}

func verifyPersistence(cfg *PersistenceSection) error {
	if cfg.Disabled {
		return nil
	}
	if len(cfg.Backends) == 0 {
		return errors.New("persistence.backends must name at least one backend")
	}
	if _, err := delta.ParseCompression(cfg.Compression); err != nil {
		return fmt.Errorf("persistence.compression: %w", err)
	}
	if cfg.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.EncryptionKey)
		if err != nil || len(key) != 32 {
			return errors.New("persistence.encryption_key must be 64 hex characters")
		}
	}
	if cfg.DriftTolerance < 0 {
		return errors.New("persistence.drift_tolerance must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Backends))
	for i, b := range cfg.Backends {
		name := b.DisplayName()
		if seen[name] {
			return fmt.Errorf("persistence.backends[%d]: duplicate backend name %q", i, name)
		}
		seen[name] = true
		if err := verifyBackend(b); err != nil {
			return fmt.Errorf("persistence.backends[%d] (%s): %w", i, name, err)
		}
	}
	return nil
}

func verifyBackend(b BackendConfig) error {
	if b.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if b.ConsolidationPeriod < 1 {
		return errors.New("consolidation_period must be at least 1")
	}
	switch b.Type {
	case BackendFile, BackendBuffered, BackendKV:
		if b.Path == "" {
			return errors.New("path is required")
		}
		if err := os.MkdirAll(b.Path, 0750); err != nil {
			return errors.New("cannot create data directory: " + err.Error())
		}
	case BackendSQL:
		if b.DSN == "" {
			return errors.New("dsn is required")
		}
	case BackendNull:
	default:
		return fmt.Errorf("unknown backend type %q", b.Type)
	}
	if b.BufferSize < 0 || b.BufferCount < 0 {
		return errors.New("buffer_size and buffer_count must not be negative")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(cfg.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format %q must be json or text", cfg.Format)
	}
	return nil
}

func verifyTracing(cfg *TracingSection) error {
	if cfg.SampleRatio <= 0 || cfg.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio %v must be in (0, 1]", cfg.SampleRatio)
	}
	if cfg.Endpoint == "" {
		return nil
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("tracing.endpoint %q must be an http or https URL", cfg.Endpoint)
	}
	return nil
}
