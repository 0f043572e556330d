package model

import "time"

// StatusEvent is a full snapshot of a device reported on its status topic.
// Integer cbor keys keep the binary encoding stable when fields are added.
type StatusEvent struct {
	DeviceID  string    `json:"device_id" cbor:"1,keyasint"`
	Serial    string    `json:"serial" cbor:"2,keyasint"`
	Status    Status    `json:"status" cbor:"3,keyasint"`
	Battery   int       `json:"battery" cbor:"4,keyasint"`
	Timestamp time.Time `json:"timestamp" cbor:"5,keyasint"`
	SiteID    string    `json:"site_id,omitempty" cbor:"6,keyasint,omitempty"`
	Category  Category  `json:"category,omitempty" cbor:"7,keyasint,omitempty"`
	Light     Light     `json:"light,omitempty" cbor:"8,keyasint,omitempty"`
}

// NewStatusEvent snapshots the device for publication.
func NewStatusEvent(site string, d Device) StatusEvent {
	return StatusEvent{
		DeviceID:  d.ID,
		Serial:    d.Serial,
		Status:    d.Status,
		Battery:   d.Battery,
		Timestamp: d.UpdatedAt,
		SiteID:    site,
		Category:  d.Category,
		Light:     d.Light,
	}
}

// Command actions understood by devices.
const (
	ActionUnlock = "unlock"
	ActionLock   = "lock"
	ActionLocate = "locate"
)

// Command is sent by the backend to a device.
type Command struct {
	CommandID string    `json:"command_id" cbor:"1,keyasint"`
	DeviceID  string    `json:"device_id" cbor:"2,keyasint"`
	Action    string    `json:"action" cbor:"3,keyasint"`
	UserID    string    `json:"user_id,omitempty" cbor:"4,keyasint,omitempty"`
	IssuedAt  time.Time `json:"issued_at" cbor:"5,keyasint"`
}

// CommandResponseEvent is the reply of a device to a Command.
type CommandResponseEvent struct {
	DeviceID  string         `json:"device_id" cbor:"1,keyasint"`
	Success   bool           `json:"success" cbor:"2,keyasint"`
	Payload   map[string]any `json:"payload,omitempty" cbor:"3,keyasint,omitempty"`
	CommandID string         `json:"command_id,omitempty" cbor:"4,keyasint,omitempty"`
	Action    string         `json:"action,omitempty" cbor:"5,keyasint,omitempty"`
	UserID    string         `json:"user_id,omitempty" cbor:"6,keyasint,omitempty"`
	Timestamp time.Time      `json:"timestamp" cbor:"7,keyasint"`
}
