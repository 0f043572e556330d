package model

import (
	"fmt"
	"time"
)

// Category is the kind of shared vehicle a device is mounted on.
type Category string

const (
	CategoryBike       Category = "bike"
	CategoryManualBike Category = "manual-bike"
	CategoryScooter    Category = "scooter"
	CategoryCar        Category = "car"
)

// Powered reports whether the category carries a traction battery. Battery
// levels of unpowered vehicles are reported but never drive the light.
func (c Category) Powered() bool {
	switch c {
	case CategoryBike, CategoryScooter, CategoryCar:
		return true
	default:
		return false
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryBike, CategoryManualBike, CategoryScooter, CategoryCar:
		return true
	default:
		return false
	}
}

// ParseCategory converts a configuration string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Status is the lifecycle status of a vehicle.
type Status string

const (
	StatusAvailable    Status = "available"
	StatusReserved     Status = "reserved"
	StatusInUse        Status = "in-use"
	StatusMaintenance  Status = "maintenance"
	StatusLowBattery   Status = "low-battery"
	StatusOutOfService Status = "out-of-service"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusInUse, StatusMaintenance, StatusLowBattery, StatusOutOfService:
		return true
	default:
		return false
	}
}

// ParseStatus converts a configuration string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Light is the color of the indicator light on the vehicle.
type Light string

const (
	LightGreen  Light = "green"
	LightBlue   Light = "blue"
	LightYellow Light = "yellow"
	LightOrange Light = "orange"
	LightRed    Light = "red"
	LightOff    Light = "off"
)

// CriticalBattery is the battery percentage below which a powered vehicle
// shows the red light.
const CriticalBattery = 20

// IndicatorLight derives the light color from status, battery and category.
func IndicatorLight(status Status, battery int, category Category) Light {
	if status == StatusOutOfService {
		return LightOff
	}
	if category.Powered() && battery < CriticalBattery {
		return LightRed
	}
	switch status {
	case StatusAvailable:
		return LightGreen
	case StatusInUse:
		return LightBlue
	case StatusReserved:
		return LightYellow
	case StatusMaintenance:
		return LightOrange
	case StatusLowBattery:
		return LightRed
	default:
		return LightOff
	}
}

// Device is the state of one field unit.
type Device struct {
	ID        string    `json:"id"`
	Serial    string    `json:"serial"`
	Category  Category  `json:"category"`
	Status    Status    `json:"status"`
	Battery   int       `json:"battery"`
	Light     Light     `json:"light"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Refresh recomputes the derived light and stamps the update time.
func (d *Device) Refresh(now time.Time) {
	d.Light = IndicatorLight(d.Status, d.Battery, d.Category)
	d.UpdatedAt = now
}
