package metrics

import (
	"time"

	"github.com/kilianp07/fleetiot/core/model"
)

// Ingestion outcomes.
const (
	OutcomeApplied      = "applied"
	OutcomeUnknown      = "unknown_device"
	OutcomeStoreError   = "store_error"
	OutcomeDecodeError  = "decode_error"
	OutcomeInvalid      = "invalid"
	OutcomeForwarded    = "forwarded"
	OutcomeDelivered    = "delivered"
	OutcomeRequeued     = "requeued"
	KindStatus          = "status"
	KindCommandResponse = "command_response"
)

// IngestionEvent describes how one inbound device message was handled.
type IngestionEvent struct {
	Kind     string
	Outcome  string
	DeviceID string
	SiteID   string
	Time     time.Time
}

// MetricsSink records ingestion results.
type MetricsSink interface {
	RecordIngestion(ev IngestionEvent) error
}

// DeliveryEvent is one outbox delivery attempt.
type DeliveryEvent struct {
	UserID  string
	Event   string
	Outcome string
	Latency time.Duration
	Time    time.Time
}

// DeliveryRecorder records outbox delivery attempts.
type DeliveryRecorder interface {
	RecordDelivery(ev DeliveryEvent) error
}

// QueueDepthRecorder records the number of pending outbox items.
type QueueDepthRecorder interface {
	RecordQueueDepth(depth int) error
}

// ConnectionStateEvent is a transport state transition.
type ConnectionStateEvent struct {
	Component string
	State     string
	Time      time.Time
}

// ConnectionStateRecorder records transport state transitions.
type ConnectionStateRecorder interface {
	RecordConnectionState(ev ConnectionStateEvent) error
}

// VehicleStateEvent is a snapshot of a vehicle after an applied status event.
type VehicleStateEvent struct {
	VehicleID string
	Serial    string
	SiteID    string
	Category  model.Category
	Status    model.Status
	Battery   int
	Light     model.Light
	Time      time.Time
}

// VehicleStateRecorder records vehicle state snapshots.
type VehicleStateRecorder interface {
	RecordVehicleState(ev VehicleStateEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordIngestion(IngestionEvent) error             { return nil }
func (NopSink) RecordDelivery(DeliveryEvent) error               { return nil }
func (NopSink) RecordQueueDepth(int) error                       { return nil }
func (NopSink) RecordConnectionState(ConnectionStateEvent) error { return nil }
func (NopSink) RecordVehicleState(VehicleStateEvent) error       { return nil }
