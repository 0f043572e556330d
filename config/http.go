package config

import (
	"fmt"
	"time"
)

// HTTPConfig configures the server exposing /metrics, /ws, /healthz and the
// vehicle API.
type HTTPConfig struct {
	Address        string `json:"address"`
	WriteTimeoutMS int    `json:"write_timeout_ms"`
	// ShutdownTimeoutMS bounds graceful shutdown.
	ShutdownTimeoutMS int `json:"shutdown_timeout_ms"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.WriteTimeoutMS == 0 {
		c.WriteTimeoutMS = 5000
	}
	if c.ShutdownTimeoutMS == 0 {
		c.ShutdownTimeoutMS = 5000
	}
}

func (c HTTPConfig) Validate() error {
	if c.WriteTimeoutMS <= 0 || c.ShutdownTimeoutMS <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	return nil
}

func (c HTTPConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

func (c HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}
