package broker

import (
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"os"
	"time"
)

// TLSConfig configures the TLS client side of the broker connection.
type TLSConfig struct {
	CACertPath     string `yaml:"ca_cert_path"`
	ClientCertPath string `yaml:"client_cert_path"`
	ClientKeyPath  string `yaml:"client_key_path"`
	VerifyServer   bool   `yaml:"verify_server"`
}

// Build loads the referenced certificate files into a tls.Config.
func (t *TLSConfig) Build() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !t.VerifyServer,
	}

	if t.CACertPath != "" {
		pem, err := os.ReadFile(t.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate %s: %w", t.CACertPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", t.CACertPath)
		}
		cfg.RootCAs = pool
	}

	if t.ClientCertPath != "" || t.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(t.ClientCertPath, t.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// Config is the broker client configuration.
type Config struct {
	Host     string    `yaml:"host"`
	Port     int       `yaml:"port"`
	ClientID string    `yaml:"client_id"`
	Insecure bool      `yaml:"insecure"`
	TLS      TLSConfig `yaml:"tls"`

	ReconnectMinDelay time.Duration `yaml:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	KeepAlive         time.Duration `yaml:"keep_alive"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`

	PublishQueueSize int           `yaml:"publish_queue_size"`
	PublishTimeout   time.Duration `yaml:"publish_timeout"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Host, prefix+".host", "localhost", "Broker hostname.")
	f.IntVar(&cfg.Port, prefix+".port", 1883, "Broker port.")
	f.StringVar(&cfg.ClientID, prefix+".client-id", "", "MQTT client ID. Derived from hostname and pid when empty.")
	f.BoolVar(&cfg.Insecure, prefix+".insecure", false, "Connect without TLS.")
	f.BoolVar(&cfg.TLS.VerifyServer, prefix+".tls.verify-server", true, "Verify the broker's TLS certificate.")
	f.StringVar(&cfg.TLS.CACertPath, prefix+".tls.ca-cert-path", "", "Path to the CA certificate used to verify the broker.")
	f.StringVar(&cfg.TLS.ClientCertPath, prefix+".tls.client-cert-path", "", "Path to the client certificate for mutual TLS.")
	f.StringVar(&cfg.TLS.ClientKeyPath, prefix+".tls.client-key-path", "", "Path to the client key for mutual TLS.")

	cfg.ReconnectMinDelay = time.Second
	cfg.ReconnectMaxDelay = 30 * time.Second
	cfg.KeepAlive = 30 * time.Second
	cfg.ConnectTimeout = 10 * time.Second
	cfg.PublishQueueSize = 64
	cfg.PublishTimeout = 5 * time.Second
	cfg.DrainTimeout = 2 * time.Second
}
