package emulator

import (
	"fmt"
	"time"

	"github.com/kilianp07/fleetiot/core/model"
)

// DeviceSpec describes one device to register at startup.
type DeviceSpec struct {
	ID       string `json:"id"`
	Serial   string `json:"serial"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Battery  int    `json:"battery"`
}

// Config holds the emulator settings of one site.
type Config struct {
	SiteID               string `json:"site_id"`
	SimulationIntervalMS int    `json:"simulation_interval_ms"`
	// Seed makes the simulation reproducible. Zero seeds from the clock.
	Seed               uint64       `json:"seed"`
	BatteryDrainMean   float64      `json:"battery_drain_mean"`
	BatteryDrainStdDev float64      `json:"battery_drain_stddev"`
	ActivityFile       string       `json:"activity_file"`
	Devices            []DeviceSpec `json:"devices"`
	Fleet              FleetConfig  `json:"fleet"`
}

func (c *Config) SetDefaults() {
	if c.SimulationIntervalMS == 0 {
		c.SimulationIntervalMS = 2000
	}
	if c.BatteryDrainMean == 0 {
		c.BatteryDrainMean = 4
	}
	if c.BatteryDrainStdDev == 0 {
		c.BatteryDrainStdDev = 2
	}
	c.Fleet.SetDefaults()
}

func (c Config) Validate() error {
	if c.SiteID == "" {
		return fmt.Errorf("emulator site_id is required")
	}
	if c.SimulationIntervalMS <= 0 {
		return fmt.Errorf("emulator simulation_interval_ms must be positive")
	}
	if c.BatteryDrainMean < 0 || c.BatteryDrainStdDev < 0 {
		return fmt.Errorf("emulator battery drain must not be negative")
	}
	for _, d := range c.Devices {
		if err := d.validate(); err != nil {
			return err
		}
	}
	return c.Fleet.Validate()
}

// Interval returns the auto simulation tick.
func (c Config) Interval() time.Duration {
	return time.Duration(c.SimulationIntervalMS) * time.Millisecond
}

// Specs returns the configured devices followed by the generated fleet.
func (c Config) Specs() []DeviceSpec {
	out := append([]DeviceSpec(nil), c.Devices...)
	return append(out, GenerateFleet(c.Fleet)...)
}

func (d DeviceSpec) validate() error {
	if d.ID == "" || d.Serial == "" {
		return fmt.Errorf("%w: device needs id and serial", ErrValidation)
	}
	if _, err := model.ParseCategory(d.Category); err != nil {
		return fmt.Errorf("%w: device %s: %v", ErrValidation, d.ID, err)
	}
	if d.Status != "" {
		if _, err := model.ParseStatus(d.Status); err != nil {
			return fmt.Errorf("%w: device %s: %v", ErrValidation, d.ID, err)
		}
	}
	if d.Battery < 0 || d.Battery > 100 {
		return fmt.Errorf("%w: device %s: battery %d out of range", ErrValidation, d.ID, d.Battery)
	}
	return nil
}
