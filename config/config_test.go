package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clasp.yaml")
	body := `
engine:
  require_auth: true
  max_sessions: 8
  session_queue_size: 64
  gesture_ttl: 30s
  scheduler_tick: 2ms
gateway:
  enabled: true
  addr: ":8000"
log_level: debug
log_format: json
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Engine.RequireAuth)
	assert.Equal(t, 8, cfg.Engine.MaxSessions)
	assert.Equal(t, 30*time.Second, cfg.Engine.GestureTTL.Std())
	assert.Equal(t, ":8000", cfg.Gateway.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched sections keep their defaults.
	assert.Equal(t, ":9330", cfg.Observability.Addr)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clasp.json")
	body := `{"engine":{"require_auth":true,"session_queue_size":32,"gesture_ttl":60000000000,"scheduler_tick":1000000},"log_level":"warn","log_format":"text"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Engine.RequireAuth)
	assert.Equal(t, 32, cfg.Engine.SessionQueueSize)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clasp.yaml")
	body := `
gateway:
  addr: ":8000"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("CLASP_GATEWAY_ADDR", ":8440")
	t.Setenv("CLASP_FEDERATION_URL", "nats://peer:4222")
	t.Setenv("CLASP_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8440", cfg.Gateway.Addr, "environment wins over the file")
	assert.Equal(t, "nats://peer:4222", cfg.Federation.URL)
	assert.Equal(t, "debug", cfg.LogLevel)

	// The overlay applies without a file too, and still validates.
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8440", cfg.Gateway.Addr)

	t.Setenv("CLASP_LOG_LEVEL", "verbose")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clasp.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative max sessions", func(c *Config) { c.Engine.MaxSessions = -1 }},
		{"zero queue size", func(c *Config) { c.Engine.SessionQueueSize = 0 }},
		{"zero gesture ttl", func(c *Config) { c.Engine.GestureTTL = 0 }},
		{"zero scheduler tick", func(c *Config) { c.Engine.SchedulerTick = 0 }},
		{"gateway without addr", func(c *Config) { c.Gateway.Addr = "" }},
		{"federation without url", func(c *Config) { c.Federation.Enabled = true; c.Federation.URL = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
