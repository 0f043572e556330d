package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetiot/app"
	"github.com/kilianp07/fleetiot/infra/logger"
)

var seedFleet bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run ingestion, the notification outbox and the HTTP endpoints",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&seedFleet, "seed-fleet", false, "create vehicle records for the emulator fleet before starting")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := setup()
	if err != nil {
		return err
	}
	logg := logger.New("main")
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logg.Errorf("service close: %v", err)
		}
	}()
	if seedFleet && cfg.Emulator.SiteID != "" {
		n, err := svc.SeedFleet(ctx, cfg.Emulator.SiteID, cfg.Emulator.Specs())
		if err != nil {
			return err
		}
		logg.Infof("seeded %d vehicles for site %s", n, cfg.Emulator.SiteID)
	}
	return svc.Run(ctx)
}
