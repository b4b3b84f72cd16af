package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
http:
  addr: ":8081"
  allowed_origins:
    - https://app.example.com
mongo:
  uri: mongodb://localhost:27017
auth:
  secret: test-secret
stream:
  keepalive_seconds: 30
influx:
  enabled: false
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "gps_tracker", cfg.Mongo.Database)
	assert.Equal(t, "test-secret", cfg.Auth.Secret)

	// defaults fill the gaps
	assert.Equal(t, 30, cfg.Stream.KeepaliveSeconds)
	assert.Equal(t, 10, cfg.Stream.CoalesceDelayMS)
	assert.Equal(t, ":9090", cfg.Metrics.PrometheusAddr)
	assert.Equal(t, "fleetd-ingest", cfg.MQTT.ClientID)
}

func TestLoadJSON(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.json",
		`{"mongo":{"uri":"mongodb://localhost:27017"},"auth":{"secret":"s"}}`))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FLEETD_HTTP__ADDR", ":9999")
	t.Setenv("FLEETD_AUTH__SECRET", "from-env")

	cfg, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
}

func TestLoadRejections(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", "x = 1"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	// mongo uri is mandatory
	_, err = Load(writeConfig(t, "config.yaml", "auth:\n  secret: s\n"))
	assert.Error(t, err)

	// auth secret is mandatory
	_, err = Load(writeConfig(t, "config.yaml", "mongo:\n  uri: mongodb://x\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "config.yaml", sampleYAML+"mqtt:\n  enabled: true\n"))
	assert.Error(t, err)
}
