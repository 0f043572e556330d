package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"regexp"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config defines the connection parameters of a transport session.
type Config struct {
	Host             string      `json:"host"`
	Port             int         `json:"port"`
	Username         string      `json:"username"`
	Password         string      `json:"password"`
	UseTLS           bool        `json:"use_tls"`
	ClientCert       string      `json:"client_cert"`
	ClientKey        string      `json:"client_key"`
	CABundle         string      `json:"ca_bundle"`
	ClientID         string      `json:"client_id"`
	KeepAliveSeconds int         `json:"keep_alive_seconds"`
	ReconnectDelayMS int         `json:"reconnect_delay_ms"`
	ConnectTimeoutMS int         `json:"connect_timeout_ms"`
	PublishTimeoutMS int         `json:"publish_timeout_ms"`
	QoS              byte        `json:"qos"`
	Codec            string      `json:"codec"`
	TLSConfig        *tls.Config `json:"-"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 1883
		if c.UseTLS {
			c.Port = 8883
		}
	}
	if c.ClientID == "" {
		c.ClientID = "fleetiot"
	}
	if c.KeepAliveSeconds == 0 {
		c.KeepAliveSeconds = 30
	}
	if c.ReconnectDelayMS == 0 {
		c.ReconnectDelayMS = 5000
	}
	if c.ConnectTimeoutMS == 0 {
		c.ConnectTimeoutMS = 10000
	}
	if c.PublishTimeoutMS == 0 {
		c.PublishTimeoutMS = 5000
	}
	if c.Codec == "" {
		c.Codec = CodecJSON
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid broker port %d", c.Port)
	}
	if c.QoS > 2 {
		return fmt.Errorf("invalid qos %d", c.QoS)
	}
	if c.KeepAliveSeconds < 0 || c.ReconnectDelayMS < 0 {
		return fmt.Errorf("keep_alive_seconds and reconnect_delay_ms must not be negative")
	}
	if _, err := NewCodec(c.Codec); err != nil {
		return err
	}
	return nil
}

// BrokerURL returns the paho broker address.
func (c Config) BrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

func (c Config) reconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

func (c Config) connectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func (c Config) publishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// UniqueClientID appends the host name and a nanosecond token to base so that
// concurrently running instances never share a broker identity.
func UniqueClientID(base string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	host = unsafeIDChars.ReplaceAllString(host, "_")
	return fmt.Sprintf("%s-%s-%d", base, host, time.Now().UnixNano())
}

// NewClientOptions builds paho client options from Config. Paho's own
// reconnect is disabled; the Client runs a fixed-delay reconnect loop.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(UniqueClientID(cfg.ClientID)).
		SetKeepAlive(time.Duration(cfg.KeepAliveSeconds) * time.Second).
		SetConnectTimeout(cfg.connectTimeout()).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the
// config. Without a CA bundle the system roots are used; a client
// certificate is only loaded when both cert and key are set.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: c.Host}
	if c.ClientCert != "" || c.ClientKey != "" {
		if c.ClientCert == "" || c.ClientKey == "" {
			return nil, fmt.Errorf("tls client auth requires both client_cert and client_key")
		}
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if c.CABundle != "" {
		caBytes, err := os.ReadFile(c.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("no certificates found in %s", c.CABundle)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
