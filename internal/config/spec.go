package config

import "time"

// AgentConfig is the root configuration for ckpt-agent and ckptctl.
type AgentConfig struct {
	Agent       AgentSection       `koanf:"agent"`
	Persistence PersistenceSection `koanf:"persistence"`
	Log         LogSection         `koanf:"log"`
	Metrics     MetricsSection     `koanf:"metrics"`
	Tracing     TracingSection     `koanf:"tracing"`
}

// AgentSection identifies the agent and drives its sample workload.
type AgentSection struct {
	// Name is the agent name. Deltas are stored per agent.
	Name string `koanf:"name"`

	// WorkInterval is how often the sample workload mutates its objects.
	WorkInterval time.Duration `koanf:"work_interval"`
}

// PersistenceSection configures checkpointing.
type PersistenceSection struct {
	// Disabled turns persistence off entirely: nothing is rehydrated or
	// written.
	Disabled bool `koanf:"disabled"`

	// ClearOnStart deletes all stored deltas before rehydration.
	ClearOnStart bool `koanf:"clear_on_start"`

	// DisableArchive deletes superseded sets. By default they are kept as
	// archived sets and remain rehydration candidates.
	DisableArchive bool `koanf:"disable_archive"`

	// RehydrateSuffix restricts rehydration to sets whose suffix starts
	// with it. Empty means every set is a candidate.
	RehydrateSuffix string `koanf:"rehydrate_suffix"`

	// DriftTolerance is how far the schedule may slip before every backend
	// is shifted.
	DriftTolerance time.Duration `koanf:"drift_tolerance"`

	// OwnershipTimeout is how long to wait on a held ownership lock before
	// breaking it.
	OwnershipTimeout time.Duration `koanf:"ownership_timeout"`

	// Compression is the delta frame compression: none, zstd or lz4.
	Compression string `koanf:"compression"`

	// EncryptionKey is a hex encoded 32-byte key. Empty disables encryption.
	EncryptionKey string `koanf:"encryption_key"`

	Backends []BackendConfig `koanf:"backends"`
}

// Backend kinds.
const (
	BackendFile     = "file"
	BackendBuffered = "buffered"
	BackendSQL      = "sqldb"
	BackendKV       = "kv"
	BackendNull     = "null"
)

// BackendConfig configures one storage backend.
type BackendConfig struct {
	// Name identifies the backend. Defaults to Type.
	Name string `koanf:"name"`

	// Type is one of file, buffered, sqldb, kv or null.
	Type string `koanf:"type"`

	// Path is the root directory for file, buffered and kv backends.
	Path string `koanf:"path"`

	// DSN is the database source for sqldb.
	DSN string `koanf:"dsn"`

	// Table is the base table name for sqldb.
	Table string `koanf:"table"`

	// Interval is the time between deltas written to this backend.
	Interval time.Duration `koanf:"interval"`

	// ConsolidationPeriod is the number of incremental deltas between full
	// deltas.
	ConsolidationPeriod int `koanf:"consolidation_period"`

	// BufferSize and BufferCount shape the buffered backend's pool.
	BufferSize  int `koanf:"buffer_size"`
	BufferCount int `koanf:"buffer_count"`
}

// DisplayName returns Name, or Type when Name is empty.
func (b BackendConfig) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.Type
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `koanf:"addr"`
}

// TracingSection configures span export.
type TracingSection struct {
	// Endpoint is the OTLP/HTTP collector URL. Empty disables export.
	Endpoint string `koanf:"endpoint"`

	// SampleRatio is the fraction of epochs traced, in (0, 1].
	SampleRatio float64 `koanf:"sample_ratio"`
}
