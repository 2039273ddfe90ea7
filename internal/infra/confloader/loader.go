package confloader

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/codeaudit/cougaar-core-sub004/internal/config"
)

// EnvPrefix marks environment variables that configure the agent.
const EnvPrefix = "CKPT_"

// envSectionSep separates nesting levels in environment variable names.
// A single underscore stays part of the key, so
// CKPT_PERSISTENCE__CLEAR_ON_START maps to persistence.clear_on_start.
const envSectionSep = "__"

// Source is one configuration layer. Later layers override earlier ones.
type Source func(k *koanf.Koanf) error

// File reads a YAML file. An empty path contributes nothing.
func File(path string) Source {
	return func(k *koanf.Koanf) error {
		if path == "" {
			return nil
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("load file %s: %w", path, err)
		}
		return nil
	}
}

// Env reads variables that start with prefix.
func Env(prefix string) Source {
	return func(k *koanf.Koanf) error {
		key := func(s string) string {
			s = strings.ToLower(strings.TrimPrefix(s, prefix))
			return strings.ReplaceAll(s, envSectionSep, ".")
		}
		if err := k.Load(env.Provider(prefix, ".", key), nil); err != nil {
			return fmt.Errorf("load env: %w", err)
		}
		return nil
	}
}

// Values reads explicit overrides such as command-line flags. Keys may be
// dotted paths.
func Values(m map[string]any) Source {
	return func(k *koanf.Koanf) error {
		if len(m) == 0 {
			return nil
		}
		if err := k.Load(mapProvider(m), nil); err != nil {
			return fmt.Errorf("load overrides: %w", err)
		}
		return nil
	}
}

// Load applies sources in order and unmarshals the result into target
// using koanf tags. Fields no source sets keep their current value, so
// target can carry defaults.
func Load(target any, sources ...Source) error {
	k := koanf.New(".")
	for _, src := range sources {
		if err := src(k); err != nil {
			return err
		}
	}
	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// LoadAgentConfig builds the agent configuration from defaults, the file
// at path (optional), the environment and overrides, then verifies it.
func LoadAgentConfig(path string, overrides map[string]any) (*config.AgentConfig, error) {
	cfg := config.Default()
	if err := Load(cfg, File(path), Env(EnvPrefix), Values(overrides)); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
