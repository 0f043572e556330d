package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetiot/app"
)

var (
	emulateSite string
	noSimulate  bool
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Emulate the devices of one site",
	RunE:  runEmulate,
}

func init() {
	emulateCmd.Flags().StringVar(&emulateSite, "site", "", "site id (overrides emulator.site_id)")
	emulateCmd.Flags().BoolVar(&noSimulate, "no-simulate", false, "only answer commands, do not change devices on a timer")
	rootCmd.AddCommand(emulateCmd)
}

func runEmulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := setup()
	if err != nil {
		return err
	}
	if emulateSite != "" {
		cfg.Emulator.SiteID = emulateSite
	}
	em, err := app.NewEmulator(cfg)
	if err != nil {
		return err
	}
	defer em.Close()
	return em.Run(ctx, !noSimulate)
}
