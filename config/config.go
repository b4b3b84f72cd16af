// Package config loads the service configuration from a file with
// environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/wodeewa/fleetd/auth"
	"github.com/wodeewa/fleetd/infra/metrics"
	"github.com/wodeewa/fleetd/infra/mqtt"
	"github.com/wodeewa/fleetd/infra/store"
)

// Config is the root configuration.
type Config struct {
	HTTP    HTTPConfig           `json:"http"`
	Mongo   store.Config         `json:"mongo"`
	Auth    auth.Config          `json:"auth"`
	MQTT    mqtt.Config          `json:"mqtt"`
	Metrics MetricsConfig        `json:"metrics"`
	Stream  StreamConfig         `json:"stream"`
	Influx  metrics.InfluxConfig `json:"influx"`
}

// HTTPConfig defines the API listener.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// AllowedOrigins is the CORS allow-list for the browser clients.
	AllowedOrigins []string `json:"allowed_origins"`
}

// SetDefaults applies sane defaults.
func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusAddr    string `json:"prometheus_addr"`
}

// SetDefaults applies sane defaults.
func (c *MetricsConfig) SetDefaults() {
	if c.PrometheusAddr == "" {
		c.PrometheusAddr = ":9090"
	}
}

// StreamConfig tunes the push stream pipeline.
type StreamConfig struct {
	// KeepaliveSeconds is the synthetic event interval keeping idle
	// connections alive through proxies.
	KeepaliveSeconds int `json:"keepalive_seconds"`
	// CoalesceDelayMS is the cache debounce window merging rapid updates
	// of one unit into a single event.
	CoalesceDelayMS int `json:"coalesce_delay_ms"`
}

// SetDefaults applies sane defaults.
func (c *StreamConfig) SetDefaults() {
	if c.KeepaliveSeconds == 0 {
		c.KeepaliveSeconds = 60
	}
	if c.CoalesceDelayMS == 0 {
		c.CoalesceDelayMS = 10
	}
}

// Validate checks field ranges.
func (c StreamConfig) Validate() error {
	if c.KeepaliveSeconds < 0 {
		return fmt.Errorf("keepalive_seconds must not be negative")
	}
	if c.CoalesceDelayMS < 0 {
		return fmt.Errorf("coalesce_delay_ms must not be negative")
	}
	return nil
}

// Load reads the configuration file, applies FLEETD_ environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("FLEETD_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "fleetd_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.HTTP.SetDefaults()
	cfg.Mongo.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Stream.SetDefaults()
	cfg.MQTT.SetDefaults()
	if err := cfg.Mongo.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Stream.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.MQTT.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
