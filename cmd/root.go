package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetiot/config"
	coremon "github.com/kilianp07/fleetiot/core/monitoring"
	"github.com/kilianp07/fleetiot/infra/logger"
	"github.com/kilianp07/fleetiot/infra/monitoring"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "fleetiot",
	Short:         "Shared-vehicle IoT event pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file (empty for environment only)")
}

// Execute runs the CLI.
func Execute() error {
	defer coremon.Flush(2 * time.Second)
	return rootCmd.Execute()
}

// setup loads the configuration and configures logging and error monitoring.
func setup() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Configure(cfg.Log); err != nil {
		return nil, err
	}
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)
	return cfg, nil
}
