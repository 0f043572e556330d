package emulator

import (
	"encoding/json"
	"fmt"

	"github.com/kilianp07/fleetiot/core/model"
)

// FleetConfig holds parameters for bulk fleet generation.
type FleetConfig struct {
	Size     int    `json:"size"`
	Category string `json:"category"`
	// IDPrefix defaults to the category name.
	IDPrefix     string                    `json:"id_prefix"`
	SerialPrefix string                    `json:"serial_prefix"`
	Battery      int                       `json:"battery"`
	Templates    map[string]DeviceTemplate `json:"templates"`
}

// DeviceTemplate overrides the initial state of one generated device.
type DeviceTemplate struct {
	Status  string `json:"status"`
	Battery *int   `json:"battery"`
}

func (c *FleetConfig) SetDefaults() {
	if c.Size <= 0 {
		return
	}
	if c.Category == "" {
		c.Category = string(model.CategoryBike)
	}
	if c.IDPrefix == "" {
		c.IDPrefix = c.Category
	}
	if c.SerialPrefix == "" {
		c.SerialPrefix = "M"
	}
	if c.Battery == 0 {
		c.Battery = 100
	}
}

func (c FleetConfig) Validate() error {
	if c.Size <= 0 {
		return nil
	}
	if _, err := model.ParseCategory(c.Category); err != nil {
		return fmt.Errorf("%w: fleet: %v", ErrValidation, err)
	}
	if c.Battery < 0 || c.Battery > 100 {
		return fmt.Errorf("%w: fleet battery %d out of range", ErrValidation, c.Battery)
	}
	for id, t := range c.Templates {
		if t.Status != "" {
			if _, err := model.ParseStatus(t.Status); err != nil {
				return fmt.Errorf("%w: template %s: %v", ErrValidation, id, err)
			}
		}
		if t.Battery != nil && (*t.Battery < 0 || *t.Battery > 100) {
			return fmt.Errorf("%w: template %s: battery out of range", ErrValidation, id)
		}
	}
	return nil
}

// GenerateFleet creates Size devices with ids {prefix}-001..{prefix}-NNN and
// serials {serialPrefix}001.. All devices start available unless a template
// overrides them.
func GenerateFleet(cfg FleetConfig) []DeviceSpec {
	if cfg.Size <= 0 {
		return nil
	}
	cfg.SetDefaults()
	specs := make([]DeviceSpec, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		id := fmt.Sprintf("%s-%03d", cfg.IDPrefix, i+1)
		spec := DeviceSpec{
			ID:       id,
			Serial:   fmt.Sprintf("%s%03d", cfg.SerialPrefix, i+1),
			Category: cfg.Category,
			Status:   string(model.StatusAvailable),
			Battery:  cfg.Battery,
		}
		if t, ok := cfg.Templates[id]; ok {
			if t.Status != "" {
				spec.Status = t.Status
			}
			if t.Battery != nil {
				spec.Battery = *t.Battery
			}
		}
		specs[i] = spec
	}
	return specs
}

// LoadActivityProfile reads an hourly activity profile from JSON. Keys are
// hours ("0".."23"), values scale how often idle devices start a ride.
// Hours that are not listed keep a weight of 1.
func LoadActivityProfile(data []byte) ([24]float64, error) {
	var m map[string]float64
	prof := flatProfile()
	if err := json.Unmarshal(data, &m); err != nil {
		return prof, err
	}
	for h, v := range m {
		var hour int
		if _, err := fmt.Sscanf(h, "%d", &hour); err != nil {
			continue
		}
		if hour >= 0 && hour < 24 && v >= 0 {
			prof[hour] = v
		}
	}
	return prof, nil
}

func flatProfile() [24]float64 {
	var prof [24]float64
	for i := range prof {
		prof[i] = 1
	}
	return prof
}
