package app

import (
	"context"
	"fmt"
	"os"

	"github.com/kilianp07/fleetiot/config"
	"github.com/kilianp07/fleetiot/core/emulator"
	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
	"github.com/kilianp07/fleetiot/infra/logger"
	"github.com/kilianp07/fleetiot/infra/mqtt"
)

// Emulator runs the device emulator of one site.
type Emulator struct {
	cfg       emulator.Config
	log       logger.Logger
	transport *mqtt.Client
	registry  *emulator.Registry
}

// NewEmulator builds the registry of cfg.Emulator.SiteID and registers its
// configured and generated devices.
func NewEmulator(cfg *config.Config) (*Emulator, error) {
	ecfg := cfg.Emulator
	ecfg.SetDefaults()
	if err := ecfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := mqtt.NewCodec(cfg.MQTT.Codec)
	if err != nil {
		return nil, err
	}
	mcfg := cfg.MQTT
	mcfg.ClientID = fmt.Sprintf("%s-emulator-%s", cfg.MQTT.ClientID, ecfg.SiteID)
	client := mqtt.NewClient(mcfg, "emulator")

	opts := []emulator.Option{
		emulator.WithLogger(logger.New("emulator")),
		emulator.WithSeed(ecfg.Seed),
		emulator.WithBatteryDrain(ecfg.BatteryDrainMean, ecfg.BatteryDrainStdDev),
	}
	if ecfg.ActivityFile != "" {
		data, err := os.ReadFile(ecfg.ActivityFile)
		if err != nil {
			return nil, fmt.Errorf("activity file: %w", err)
		}
		prof, err := emulator.LoadActivityProfile(data)
		if err != nil {
			return nil, fmt.Errorf("activity file: %w", err)
		}
		opts = append(opts, emulator.WithActivityProfile(prof))
	}
	reg := emulator.NewRegistry(ecfg.SiteID, client, codec, opts...)
	if err := reg.AddSpecs(ecfg.Specs()); err != nil {
		return nil, err
	}
	return &Emulator{cfg: ecfg, log: logger.New("emulator"), transport: client, registry: reg}, nil
}

// Registry exposes the emulated devices.
func (e *Emulator) Registry() *emulator.Registry { return e.registry }

// Run connects, optionally starts the auto simulation and blocks until ctx is
// canceled.
func (e *Emulator) Run(ctx context.Context, simulate bool) error {
	states := e.transport.WatchState()
	defer e.transport.UnwatchState(states)
	go func() {
		for ch := range states {
			if ch.To == coremqtt.StateReconnecting {
				e.log.Warnf("broker connection lost, status publishes fail until reconnected")
			}
		}
	}()

	if err := e.registry.Start(ctx); err != nil {
		return fmt.Errorf("start emulator: %w", err)
	}
	if simulate {
		if err := e.registry.StartAutoSimulation(e.cfg.Interval()); err != nil {
			e.registry.Stop()
			return err
		}
	}
	<-ctx.Done()
	e.registry.Stop()
	return nil
}

// Close releases the transport.
func (e *Emulator) Close() { e.transport.Close() }
