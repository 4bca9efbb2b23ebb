// Package config loads daemon configuration from YAML and environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/taskbridge/taskbridge/pkg/api"
)

// Duration wraps time.Duration for text unmarshaling (YAML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret wraps strings that should never appear in logs. Use Value()
// to access the actual value.
type Secret string

// String implements fmt.Stringer. Always returns a redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Value returns the actual secret value. Use sparingly.
func (s Secret) Value() string {
	return string(s)
}

// Config is the daemon configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Remote   RemoteConfig   `koanf:"remote"`
	Database DatabaseConfig `koanf:"database"`
	Sync     SyncConfig     `koanf:"sync"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// RemoteConfig holds credentials and policy for the remote tracker.
type RemoteConfig struct {
	BaseURL   string   `koanf:"base_url"`
	Token     Secret   `koanf:"token"`
	Timeout   Duration `koanf:"timeout"`
	PageSize  int      `koanf:"page_size"`
	RateLimit float64  `koanf:"rate_limit"`
}

// DatabaseConfig holds the staging store location.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// SyncConfig holds scheduling and batching policy.
type SyncConfig struct {
	FullInterval Duration `koanf:"full_interval"`
	PullInterval Duration `koanf:"pull_interval"`
	Direction    string   `koanf:"direction"`
	BatchSize    int      `koanf:"batch_size"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8780
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = Duration(30 * time.Second)
	}
	if cfg.Remote.PageSize == 0 {
		cfg.Remote.PageSize = 100
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "taskbridge.db"
	}
	if cfg.Sync.FullInterval == 0 {
		cfg.Sync.FullInterval = Duration(6 * time.Hour)
	}
	if cfg.Sync.PullInterval == 0 {
		cfg.Sync.PullInterval = Duration(time.Hour)
	}
	if cfg.Sync.Direction == "" {
		cfg.Sync.Direction = "bidirectional"
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 50
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate fails fast on configuration the daemon cannot run with.
// Missing remote credentials are a ConfigurationError, distinct from
// anything the remote service might later return.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return api.NewConfigurationError("remote.base_url is required")
	}
	if c.Remote.Token == "" {
		return api.NewConfigurationError("remote.token is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return api.NewConfigurationError("server.port %d out of range", c.Server.Port)
	}
	switch c.Sync.Direction {
	case "pull", "push", "bidirectional":
	default:
		return api.NewConfigurationError("sync.direction %q must be pull, push or bidirectional", c.Sync.Direction)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return api.NewConfigurationError("logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}
