package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix guards which environment variables the loader reads.
const envPrefix = "TASKBRIDGE_"

// Load builds the configuration from an optional YAML file, then
// overrides with environment variables, then applies defaults and
// validates.
//
// Precedence (highest to lowest):
//  1. Environment variables (TASKBRIDGE_REMOTE_BASE_URL, ...)
//  2. YAML config file
//  3. Defaults
//
// Environment variables map onto config keys by stripping the prefix,
// lowercasing, and splitting section and field on the first
// underscore: TASKBRIDGE_SERVER_PORT -> server.port,
// TASKBRIDGE_REMOTE_BASE_URL -> remote.base_url.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
