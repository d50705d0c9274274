package app

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	dslog "github.com/grafana/dskit/log"

	"github.com/open-edge-platform/scene-tracker/modules/broker"
	"github.com/open-edge-platform/scene-tracker/modules/healthcheck"
	"github.com/open-edge-platform/scene-tracker/modules/tracker"
	"github.com/open-edge-platform/scene-tracker/pkg/engine"
	"github.com/open-edge-platform/scene-tracker/pkg/engine/naive"
)

// Config is the full service configuration, loadable from YAML with flag and
// TRACKER_* environment overrides.
type Config struct {
	LogFormat string      `yaml:"log_format"`
	LogLevel  dslog.Level `yaml:"log_level"`

	MQTT        broker.Config      `yaml:"mqtt"`
	Tracker     tracker.Config     `yaml:"tracker"`
	Healthcheck healthcheck.Config `yaml:"healthcheck"`
	Engine      EngineConfig       `yaml:"engine"`
}

func (c *Config) RegisterFlagsAndApplyDefaults(f *flag.FlagSet) {
	f.StringVar(&c.LogFormat, "log.format", "logfmt", "Log format, logfmt or json.")
	c.LogLevel.RegisterFlags(f)

	c.MQTT.RegisterFlagsAndApplyDefaults("mqtt", f)
	c.Tracker.RegisterFlagsAndApplyDefaults("tracker", f)
	c.Healthcheck.RegisterFlagsAndApplyDefaults("tracker.healthcheck", f)
	c.Engine.applyDefaults()
}

// ApplyEnvOverrides applies the fixed set of TRACKER_* environment variables
// on top of file and default values.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("TRACKER_LOG_LEVEL"); v != "" {
		if err := c.LogLevel.Set(v); err != nil {
			return fmt.Errorf("invalid TRACKER_LOG_LEVEL %q: %w", v, err)
		}
	}
	if err := envInt("TRACKER_HEALTHCHECK_PORT", &c.Healthcheck.Port); err != nil {
		return err
	}
	if v := os.Getenv("TRACKER_MQTT_HOST"); v != "" {
		c.MQTT.Host = v
	}
	if err := envInt("TRACKER_MQTT_PORT", &c.MQTT.Port); err != nil {
		return err
	}
	if err := envBool("TRACKER_MQTT_INSECURE", &c.MQTT.Insecure); err != nil {
		return err
	}
	if v := os.Getenv("TRACKER_MQTT_TLS_CA_CERT"); v != "" {
		c.MQTT.TLS.CACertPath = v
	}
	if v := os.Getenv("TRACKER_MQTT_TLS_CLIENT_CERT"); v != "" {
		c.MQTT.TLS.ClientCertPath = v
	}
	if v := os.Getenv("TRACKER_MQTT_TLS_CLIENT_KEY"); v != "" {
		c.MQTT.TLS.ClientKeyPath = v
	}
	if err := envBool("TRACKER_MQTT_TLS_VERIFY_SERVER", &c.MQTT.TLS.VerifyServer); err != nil {
		return err
	}
	if err := envBool("TRACKER_MQTT_SCHEMA_VALIDATION", &c.Tracker.SchemaValidation); err != nil {
		return err
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = n
	return nil
}

func envBool(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = b
	return nil
}

// EngineConfig configures the built-in naive tracking engine.
type EngineConfig struct {
	AssociationRadius float64                       `yaml:"association_radius"`
	ReliableHits      int                           `yaml:"reliable_hits"`
	MissTimeout       time.Duration                 `yaml:"miss_timeout"`
	Cameras           map[string]naive.CameraParams `yaml:"cameras"`
}

func (e *EngineConfig) applyDefaults() {
	e.AssociationRadius = 2.0
	e.ReliableHits = 3
	e.MissTimeout = time.Second
}

func (e EngineConfig) Factory() engine.Factory {
	return naive.Factory(naive.Config{
		AssociationRadius: e.AssociationRadius,
		ReliableHits:      e.ReliableHits,
		MissTimeout:       e.MissTimeout,
	}, e.Cameras)
}
