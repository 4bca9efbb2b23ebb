package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskbridge/taskbridge/pkg/api"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalYAML = `
remote:
  base_url: https://tracker.example.com
  token: secret-token
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8780 {
		t.Errorf("server port = %d, want 8780", cfg.Server.Port)
	}
	if cfg.Remote.Timeout.Duration() != 30*time.Second {
		t.Errorf("remote timeout = %v, want 30s", cfg.Remote.Timeout.Duration())
	}
	if cfg.Sync.Direction != "bidirectional" {
		t.Errorf("sync direction = %q, want bidirectional", cfg.Sync.Direction)
	}
	if cfg.Sync.FullInterval.Duration() != 6*time.Hour {
		t.Errorf("full interval = %v, want 6h", cfg.Sync.FullInterval.Duration())
	}
	if cfg.Sync.PullInterval.Duration() != time.Hour {
		t.Errorf("pull interval = %v, want 1h", cfg.Sync.PullInterval.Duration())
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadReadsYAMLValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9000
remote:
  base_url: https://tracker.example.com
  token: secret-token
  timeout: 5s
sync:
  direction: pull
  batch_size: 10
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Errorf("server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Remote.Timeout.Duration() != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", cfg.Remote.Timeout.Duration())
	}
	if cfg.Sync.Direction != "pull" || cfg.Sync.BatchSize != 10 {
		t.Errorf("sync = %q/%d", cfg.Sync.Direction, cfg.Sync.BatchSize)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("TASKBRIDGE_SERVER_PORT", "9999")
	t.Setenv("TASKBRIDGE_SYNC_DIRECTION", "push")

	cfg, err := Load(writeConfig(t, minimalYAML+`
server:
  port: 9000
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("server port = %d, want the env override 9999", cfg.Server.Port)
	}
	if cfg.Sync.Direction != "push" {
		t.Errorf("sync direction = %q, want push", cfg.Sync.Direction)
	}
}

func TestLoadWithoutFileUsesEnvOnly(t *testing.T) {
	t.Setenv("TASKBRIDGE_REMOTE_BASE_URL", "https://env.example.com")
	t.Setenv("TASKBRIDGE_REMOTE_TOKEN", "env-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Remote.BaseURL != "https://env.example.com" {
		t.Errorf("base url = %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Token.Value() != "env-token" {
		t.Errorf("token = %q", cfg.Remote.Token.Value())
	}
}

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing base url", `
remote:
  token: x
`},
		{"missing token", `
remote:
  base_url: https://x.example.com
`},
		{"bad direction", minimalYAML + `
sync:
  direction: sideways
`},
		{"bad port", minimalYAML + `
server:
  port: 70000
`},
		{"bad log format", minimalYAML + `
logging:
  format: xml
`},
	}
	for _, c := range cases {
		_, err := Load(writeConfig(t, c.yaml))
		if !api.IsConfigurationError(err) {
			t.Errorf("%s: err = %v, want ConfigurationError", c.name, err)
		}
	}
}

func TestSecretNeverPrintsItself(t *testing.T) {
	s := Secret("super-secret")
	if s.String() == "super-secret" {
		t.Fatal("Secret.String leaked the value")
	}
	if s.Value() != "super-secret" {
		t.Fatal("Secret.Value lost the value")
	}
	if Secret("").String() != "" {
		t.Fatal("empty secret should print empty")
	}
}
