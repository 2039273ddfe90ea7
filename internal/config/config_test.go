package config

import (
	"strings"
	"testing"
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Agent.Name != DefaultAgentName {
		t.Errorf("Agent.Name = %q, want %q", cfg.Agent.Name, DefaultAgentName)
	}
	if len(cfg.Persistence.Backends) != 1 {
		t.Fatalf("len(Backends) = %d, want 1", len(cfg.Persistence.Backends))
	}
	b := cfg.Persistence.Backends[0]
	if b.Type != BackendFile || b.Interval != DefaultInterval || b.ConsolidationPeriod != DefaultConsolidationPeriod {
		t.Errorf("backend = %+v, want file/%v/%d", b, DefaultInterval, DefaultConsolidationPeriod)
	}
	if cfg.Persistence.DriftTolerance != DefaultDriftTolerance {
		t.Errorf("DriftTolerance = %v, want %v", cfg.Persistence.DriftTolerance, DefaultDriftTolerance)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, DefaultLogLevel)
	}
	if cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, DefaultLogFormat)
	}
	if cfg.Tracing.Endpoint != "" || cfg.Tracing.SampleRatio != DefaultSampleRatio {
		t.Errorf("Tracing = %+v, want no endpoint and ratio %v", cfg.Tracing, DefaultSampleRatio)
	}
}

func validConfig(t *testing.T) *AgentConfig {
	t.Helper()
	cfg := Default()
	cfg.Persistence.Backends[0].Path = t.TempDir()
	return cfg
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *AgentConfig)
		wantErr string
	}{
		{"default", func(*AgentConfig) {}, ""},
		{"empty agent", func(c *AgentConfig) { c.Agent.Name = " " }, "agent.name"},
		{"no backends", func(c *AgentConfig) { c.Persistence.Backends = nil }, "at least one backend"},
		{"zero interval", func(c *AgentConfig) { c.Persistence.Backends[0].Interval = 0 }, "interval must be positive"},
		{"negative interval", func(c *AgentConfig) { c.Persistence.Backends[0].Interval = -time.Second }, "interval must be positive"},
		{"zero consolidation", func(c *AgentConfig) { c.Persistence.Backends[0].ConsolidationPeriod = 0 }, "consolidation_period"},
		{"unknown type", func(c *AgentConfig) { c.Persistence.Backends[0].Type = "tape" }, "unknown backend type"},
		{"sqldb without dsn", func(c *AgentConfig) { c.Persistence.Backends[0].Type = BackendSQL }, "dsn is required"},
		{"bad compression", func(c *AgentConfig) { c.Persistence.Compression = "gzip" }, "compression"},
		{"short key", func(c *AgentConfig) { c.Persistence.EncryptionKey = "abcd" }, "encryption_key"},
		{"bad log format", func(c *AgentConfig) { c.Log.Format = "xml" }, "log.format"},
		{"bad log level", func(c *AgentConfig) { c.Log.Level = "loud" }, "log.level"},
		{"tracing endpoint", func(c *AgentConfig) { c.Tracing.Endpoint = "https://otel.example:4318" }, ""},
		{"tracing endpoint without scheme", func(c *AgentConfig) { c.Tracing.Endpoint = "otel.example:4318" }, "tracing.endpoint"},
		{"zero sample ratio", func(c *AgentConfig) { c.Tracing.SampleRatio = 0 }, "tracing.sample_ratio"},
		{"large sample ratio", func(c *AgentConfig) { c.Tracing.SampleRatio = 1.5 }, "tracing.sample_ratio"},
		{
			"duplicate names",
			func(c *AgentConfig) {
				c.Persistence.Backends = append(c.Persistence.Backends, c.Persistence.Backends[0])
			},
			"duplicate backend name",
		},
		{
			"disabled skips backends",
			func(c *AgentConfig) {
				c.Persistence.Disabled = true
				c.Persistence.Backends = nil
			},
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := Verify(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Verify() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Verify() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	cfg := Default()
	cfg.Persistence.EncryptionKey = strings.Repeat("ab", 32)
	cfg.Persistence.Backends = []BackendConfig{{Type: BackendSQL, DSN: "postgres://ckpt:hunter2@db:5432/ckpt"}}

	sanitized := Sanitize(cfg)

	if cfg.Persistence.EncryptionKey != strings.Repeat("ab", 32) {
		t.Error("Original config should not be modified")
	}
	if sanitized.Persistence.EncryptionKey == cfg.Persistence.EncryptionKey {
		t.Error("Sanitized config should mask the encryption key")
	}
	if strings.Contains(sanitized.Persistence.Backends[0].DSN, "hunter2") {
		t.Errorf("DSN = %q, password not masked", sanitized.Persistence.Backends[0].DSN)
	}
	if !strings.Contains(cfg.Persistence.Backends[0].DSN, "hunter2") {
		t.Error("Original DSN should not be modified")
	}
}

func TestSanitize_EmptyKey(t *testing.T) {
	cfg := Default()
	if got := Sanitize(cfg).Persistence.EncryptionKey; got != "" {
		t.Errorf("EncryptionKey = %q, want empty", got)
	}
}

func TestFrameOptions(t *testing.T) {
	cfg := Default()
	cfg.Persistence.Compression = "zstd"

	opts, err := FrameOptions(cfg)
	if err != nil {
		t.Fatalf("FrameOptions() error = %v", err)
	}
	if opts.Compression != delta.CompressionZstd || opts.Keys != nil {
		t.Fatalf("FrameOptions() = %+v, want zstd without keys", opts)
	}

	cfg.Persistence.EncryptionKey = strings.Repeat("ab", 32)
	if opts, err = FrameOptions(cfg); err != nil {
		t.Fatalf("FrameOptions() with key error = %v", err)
	}
	if opts.Keys == nil {
		t.Fatal("FrameOptions() Keys = nil, want keyring")
	}

	// The same master key yields a different frame key per agent.
	other := *cfg
	other.Agent.Name = "someone-else"
	otherOpts, err := FrameOptions(&other)
	if err != nil {
		t.Fatal(err)
	}
	data, err := delta.Marshal(&delta.Delta{Meta: delta.Meta{Agent: cfg.Agent.Name}}, opts)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if _, err := delta.Unmarshal(data, otherOpts); err == nil {
		t.Fatal("Unmarshal() with another agent's key error = nil, want error")
	}

	cfg.Persistence.EncryptionKey = "short"
	if _, err := FrameOptions(cfg); err == nil {
		t.Fatal("FrameOptions() with bad key error = nil, want error")
	}
}
