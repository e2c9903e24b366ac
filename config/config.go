// Package config defines the daemon configuration: engine limits,
// gateway and observability endpoints, and the optional federation
// bridge. Files load from JSON or YAML; every field has a sensible
// default so an empty config is runnable.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig bounds the core engine.
type EngineConfig struct {
	// RequireAuth refuses connects without a valid capability token.
	RequireAuth bool `json:"require_auth" yaml:"require_auth"`
	// MaxSessions caps concurrent sessions. 0 = unlimited.
	MaxSessions int `json:"max_sessions" yaml:"max_sessions"`
	// SessionQueueSize is each session's outbound delivery queue depth.
	SessionQueueSize int `json:"session_queue_size" yaml:"session_queue_size"`
	// GestureTTL force-ends gesture sequences idle this long.
	GestureTTL Duration `json:"gesture_ttl" yaml:"gesture_ttl"`
	// SchedulerTick is the bundle scheduler's polling interval.
	SchedulerTick Duration `json:"scheduler_tick" yaml:"scheduler_tick"`
}

// GatewayConfig configures the WebSocket command gateway.
type GatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// FederationConfig configures the NATS state bridge.
type FederationConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// URL is the NATS server URL.
	URL string `json:"url" yaml:"url"`
	// SubjectPrefix roots the NATS subjects updates publish under.
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
}

// ObservabilityConfig configures the metrics/health HTTP listener.
type ObservabilityConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// Config is the complete daemon configuration.
type Config struct {
	Engine        EngineConfig        `json:"engine" yaml:"engine"`
	Gateway       GatewayConfig       `json:"gateway" yaml:"gateway"`
	Federation    FederationConfig    `json:"federation" yaml:"federation"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `json:"log_format" yaml:"log_format"`
}

// Default returns the runnable default configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			RequireAuth:      false,
			MaxSessions:      1024,
			SessionQueueSize: 256,
			GestureTTL:       Duration(5 * time.Minute),
			SchedulerTick:    Duration(time.Millisecond),
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Addr:    ":7330",
		},
		Federation: FederationConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "clasp.state",
		},
		Observability: ObservabilityConfig{
			Enabled: true,
			Addr:    ":9330",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a config file, JSON or YAML by extension, over the
// defaults, then overlays CLASP_* environment variables. An empty path
// skips the file and loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %s: %w", path, err)
		}

		switch ext := filepath.Ext(path); ext {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse %s: %w", path, err)
			}
		case ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse %s: %w", path, err)
			}
		default:
			return nil, fmt.Errorf("config.Load: unsupported config extension %q", ext)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the endpoint and logging environment variables so
// deployments can rebind listeners and URLs without editing the file.
// The environment wins over the file.
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"CLASP_GATEWAY_ADDR":              &c.Gateway.Addr,
		"CLASP_FEDERATION_URL":            &c.Federation.URL,
		"CLASP_FEDERATION_SUBJECT_PREFIX": &c.Federation.SubjectPrefix,
		"CLASP_OBSERVABILITY_ADDR":        &c.Observability.Addr,
		"CLASP_LOG_LEVEL":                 &c.LogLevel,
		"CLASP_LOG_FORMAT":                &c.LogFormat,
	}
	for env, target := range overrides {
		if v, ok := os.LookupEnv(env); ok {
			*target = v
		}
	}
}

// Validate checks field ranges and cross-field consistency.
func (c *Config) Validate() error {
	if c.Engine.MaxSessions < 0 {
		return fmt.Errorf("config: engine.max_sessions must be >= 0, got %d", c.Engine.MaxSessions)
	}
	if c.Engine.SessionQueueSize <= 0 {
		return fmt.Errorf("config: engine.session_queue_size must be positive, got %d", c.Engine.SessionQueueSize)
	}
	if c.Engine.GestureTTL <= 0 {
		return fmt.Errorf("config: engine.gesture_ttl must be positive, got %s", c.Engine.GestureTTL)
	}
	if c.Engine.SchedulerTick <= 0 {
		return fmt.Errorf("config: engine.scheduler_tick must be positive, got %s", c.Engine.SchedulerTick)
	}
	if c.Gateway.Enabled && c.Gateway.Addr == "" {
		return fmt.Errorf("config: gateway.addr is required when the gateway is enabled")
	}
	if c.Federation.Enabled {
		if c.Federation.URL == "" {
			return fmt.Errorf("config: federation.url is required when federation is enabled")
		}
		if c.Federation.SubjectPrefix == "" {
			return fmt.Errorf("config: federation.subject_prefix is required when federation is enabled")
		}
	}
	if c.Observability.Enabled && c.Observability.Addr == "" {
		return fmt.Errorf("config: observability.addr is required when observability is enabled")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}
