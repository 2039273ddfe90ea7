package config

import (
	"fmt"

	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/pkg/crypto/adaptive"
)

// FrameOptions selects the delta frame compression and, when a master key
// is configured, a keyring holding the key derived for this agent.
func FrameOptions(cfg *AgentConfig) (delta.FrameOptions, error) {
	var opts delta.FrameOptions

	c, err := delta.ParseCompression(cfg.Persistence.Compression)
	if err != nil {
		return opts, err
	}
	opts.Compression = c

	if cfg.Persistence.EncryptionKey == "" {
		return opts, nil
	}
	master, err := adaptive.ParseKey(cfg.Persistence.EncryptionKey)
	if err != nil {
		return opts, fmt.Errorf("encryption key: %w", err)
	}
	key, err := adaptive.DeriveKey(master, cfg.Agent.Name)
	if err != nil {
		return opts, fmt.Errorf("derive key: %w", err)
	}
	if opts.Keys, err = adaptive.NewKeyring(key); err != nil {
		return opts, fmt.Errorf("keyring: %w", err)
	}
	return opts, nil
}
