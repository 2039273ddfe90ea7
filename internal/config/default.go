package config

import "time"

// Default configuration values.
const (
	DefaultAgentName    = "agent"
	DefaultWorkInterval = 2 * time.Second

	DefaultDataDir             = "data/checkpoints"
	DefaultInterval            = time.Minute
	DefaultConsolidationPeriod = 10
	DefaultDriftTolerance      = 10 * time.Second
	DefaultOwnershipTimeout    = 30 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultSampleRatio = 1.0
)

// Default returns the default agent configuration: one file backend.
func Default() *AgentConfig {
	return &AgentConfig{
		Agent: AgentSection{
			Name:         DefaultAgentName,
			WorkInterval: DefaultWorkInterval,
		},
		Persistence: PersistenceSection{
			DriftTolerance:   DefaultDriftTolerance,
			OwnershipTimeout: DefaultOwnershipTimeout,
			Compression:      "none",
			Backends: []BackendConfig{
				{
					Type:                BackendFile,
					Path:                DefaultDataDir,
					Interval:            DefaultInterval,
					ConsolidationPeriod: DefaultConsolidationPeriod,
				},
			},
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Tracing: TracingSection{
			SampleRatio: DefaultSampleRatio,
		},
	}
}
