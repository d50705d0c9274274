package app

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.RegisterFlagsAndApplyDefaults(flag.NewFlagSet("test", flag.PanicOnError))
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, "logfmt", cfg.LogFormat)
	assert.Equal(t, "localhost", cfg.MQTT.Host)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, 66700*time.Microsecond, cfg.Tracker.ChunkInterval)
	assert.Equal(t, time.Second, cfg.Tracker.MaxLag)
	assert.Equal(t, 2, cfg.Tracker.WorkerQueueCapacity)
	assert.Equal(t, 2*time.Second, cfg.Tracker.DrainTimeout)
	assert.True(t, cfg.Tracker.SchemaValidation)
	assert.Equal(t, 8080, cfg.Healthcheck.Port)
	assert.Equal(t, 2.0, cfg.Engine.AssociationRadius)
}

func TestYAMLOverridesDefaults(t *testing.T) {
	raw := `
log_format: json
mqtt:
  host: broker.local
  port: 8883
tracker:
  scene_id: warehouse
  chunk_interval: 100ms
engine:
  cameras:
    cam1:
      origin_x: 1.5
      meters_per_pixel: 0.02
`
	cfg := defaultConfig()
	require.NoError(t, yaml.UnmarshalStrict([]byte(raw), cfg))

	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, "warehouse", cfg.Tracker.SceneID)
	assert.Equal(t, 100*time.Millisecond, cfg.Tracker.ChunkInterval)
	// untouched defaults survive
	assert.Equal(t, time.Second, cfg.Tracker.MaxLag)
	assert.Equal(t, 0.02, cfg.Engine.Cameras["cam1"].MetersPerPixel)
}

func TestUnknownYAMLKeyRejected(t *testing.T) {
	cfg := defaultConfig()
	err := yaml.UnmarshalStrict([]byte("no_such_option: true\n"), cfg)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRACKER_MQTT_HOST", "env-broker")
	t.Setenv("TRACKER_MQTT_PORT", "2883")
	t.Setenv("TRACKER_MQTT_INSECURE", "true")
	t.Setenv("TRACKER_HEALTHCHECK_PORT", "9090")
	t.Setenv("TRACKER_MQTT_SCHEMA_VALIDATION", "false")
	t.Setenv("TRACKER_MQTT_TLS_CA_CERT", "/certs/ca.pem")

	cfg := defaultConfig()
	require.NoError(t, cfg.ApplyEnvOverrides())

	assert.Equal(t, "env-broker", cfg.MQTT.Host)
	assert.Equal(t, 2883, cfg.MQTT.Port)
	assert.True(t, cfg.MQTT.Insecure)
	assert.Equal(t, 9090, cfg.Healthcheck.Port)
	assert.False(t, cfg.Tracker.SchemaValidation)
	assert.Equal(t, "/certs/ca.pem", cfg.MQTT.TLS.CACertPath)
}

func TestEnvOverrideRejectsGarbage(t *testing.T) {
	t.Setenv("TRACKER_MQTT_PORT", "not-a-port")
	cfg := defaultConfig()
	require.Error(t, cfg.ApplyEnvOverrides())
}

func TestEngineFactoryBuildsPerScope(t *testing.T) {
	cfg := defaultConfig()
	factory := cfg.Engine.Factory()
	require.NotNil(t, factory)
}
