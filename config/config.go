package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/fleetiot/core/emulator"
	"github.com/kilianp07/fleetiot/core/factory"
	"github.com/kilianp07/fleetiot/core/ingestion"
	"github.com/kilianp07/fleetiot/core/metrics"
	"github.com/kilianp07/fleetiot/core/outbox"
	"github.com/kilianp07/fleetiot/infra/logger"
	"github.com/kilianp07/fleetiot/infra/monitoring"
	"github.com/kilianp07/fleetiot/infra/mqtt"
)

// EnvPrefix marks environment variables that override file settings.
// Nested keys are separated by a double underscore: FLEET_MQTT__HOST.
const EnvPrefix = "FLEET_"

type Config struct {
	MQTT      mqtt.Config          `json:"mqtt"`
	Outbox    outbox.Config        `json:"outbox"`
	Emulator  emulator.Config      `json:"emulator"`
	Ingestion ingestion.Config     `json:"ingestion"`
	Store     factory.ModuleConfig `json:"store"`
	Metrics   metrics.Config       `json:"metrics"`
	HTTP      HTTPConfig           `json:"http"`
	Log       logger.Config        `json:"log"`
	Sentry    monitoring.Config    `json:"sentry"`
}

// Load reads the optional .env file, the config file at path (YAML or JSON,
// may be empty) and FLEET_ environment overrides, then applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
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
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) SetDefaults() {
	c.MQTT.SetDefaults()
	c.Outbox.SetDefaults()
	c.Emulator.SetDefaults()
	c.Ingestion.SetDefaults()
	c.HTTP.SetDefaults()
	c.Log.SetDefaults()
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
}

// Validate checks every section. The emulator section is only checked when
// a site is configured, since serve does not use it.
func (c Config) Validate() error {
	sections := []string{"mqtt", "outbox", "ingestion", "http", "log"}
	checks := []func() error{c.MQTT.Validate, c.Outbox.Validate, c.Ingestion.Validate, c.HTTP.Validate, c.Log.Validate}
	if c.Emulator.SiteID != "" {
		sections = append(sections, "emulator")
		checks = append(checks, c.Emulator.Validate)
	}
	for i, check := range checks {
		if err := check(); err != nil {
			return fmt.Errorf("%s: %w", sections[i], err)
		}
	}
	return nil
}
