// Package ingestion applies device events received from the broker to the
// vehicle store and turns them into user notifications.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/fleetiot/core/logger"
	coremetrics "github.com/kilianp07/fleetiot/core/metrics"
	"github.com/kilianp07/fleetiot/core/model"
	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
	"github.com/kilianp07/fleetiot/core/outbox"
	"github.com/kilianp07/fleetiot/core/vehicle"
	"github.com/kilianp07/fleetiot/internal/eventbus"
)

// Config scopes the subscriptions of the service.
type Config struct {
	// SiteID restricts ingestion to one site. Empty subscribes to every site.
	SiteID         string `json:"site_id"`
	StoreTimeoutMS int    `json:"store_timeout_ms"`
}

// SetDefaults applies a 5s store timeout.
func (c *Config) SetDefaults() {
	if c.StoreTimeoutMS == 0 {
		c.StoreTimeoutMS = 5000
	}
}

// Validate rejects a non-positive store timeout.
func (c Config) Validate() error {
	if c.StoreTimeoutMS <= 0 {
		return fmt.Errorf("ingestion store_timeout_ms must be positive")
	}
	return nil
}

// Notifier queues a notification for a user.
type Notifier interface {
	Enqueue(userID, event string, payload any)
}

// VehicleUpdate is published after a status event was persisted.
type VehicleUpdate struct {
	Vehicle vehicle.Vehicle
	Event   model.StatusEvent
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics records ingestion outcomes and vehicle snapshots on sink.
func WithMetrics(sink coremetrics.MetricsSink) Option {
	return func(s *Service) {
		s.sink = sink
		_, _, _, s.vehicles = coremetrics.Recorders(sink)
	}
}

// Service consumes status and command-response events.
type Service struct {
	cfg       Config
	transport coremqtt.Transport
	codec     coremqtt.Codec
	repo      vehicle.Repository
	notifier  Notifier
	log       logger.Logger
	sink      coremetrics.MetricsSink
	vehicles  coremetrics.VehicleStateRecorder
	newID     func() string

	updates   *eventbus.TypedBus[VehicleUpdate]
	responses *eventbus.TypedBus[model.CommandResponseEvent]
}

// NewService wires the collaborators. notifier may be nil when no
// notifications are wanted.
func NewService(cfg Config, transport coremqtt.Transport, codec coremqtt.Codec, repo vehicle.Repository, notifier Notifier, opts ...Option) *Service {
	cfg.SetDefaults()
	s := &Service{
		cfg:       cfg,
		transport: transport,
		codec:     codec,
		repo:      repo,
		notifier:  notifier,
		log:       logger.Nop{},
		sink:      coremetrics.NopSink{},
		vehicles:  coremetrics.NopSink{},
		newID:     uuid.NewString,
		updates:   eventbus.NewTyped[VehicleUpdate](),
		responses: eventbus.NewTyped[model.CommandResponseEvent](),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// VehicleUpdates streams the records written by HandleStatus.
func (s *Service) VehicleUpdates() <-chan VehicleUpdate { return s.updates.Subscribe() }

// CommandResponses streams the command responses received.
func (s *Service) CommandResponses() <-chan model.CommandResponseEvent {
	return s.responses.Subscribe()
}

func (s *Service) statusPattern() string {
	return coremqtt.SiteWildcard(s.cfg.SiteID, coremqtt.SuffixStatus)
}

func (s *Service) responsePattern() string {
	return coremqtt.SiteWildcard(s.cfg.SiteID, coremqtt.SuffixCommandResponse)
}

// Start connects the transport and subscribes to status and command-response
// topics.
func (s *Service) Start(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return err
	}
	if err := s.transport.Subscribe(s.statusPattern(), s.HandleStatus); err != nil {
		s.transport.Disconnect()
		return err
	}
	if err := s.transport.Subscribe(s.responsePattern(), s.HandleCommandResponse); err != nil {
		_ = s.transport.Unsubscribe(s.statusPattern())
		s.transport.Disconnect()
		return err
	}
	s.log.Infof("ingesting %s and %s", s.statusPattern(), s.responsePattern())
	return nil
}

// Stop unsubscribes, disconnects and closes the derived streams.
func (s *Service) Stop() {
	for _, p := range []string{s.statusPattern(), s.responsePattern()} {
		if err := s.transport.Unsubscribe(p); err != nil {
			s.log.Warnf("unsubscribe %s: %v", p, err)
		}
	}
	s.transport.Disconnect()
	s.updates.Close()
	s.responses.Close()
}

// HandleStatus applies one status event to the vehicle with the same serial.
// Invalid reports, unknown serials and store failures are logged and the
// event is dropped; the returned error is only set for undecodable messages.
func (s *Service) HandleStatus(ctx context.Context, topic string, payload []byte) error {
	site, deviceID := topicIDs(topic)
	var ev model.StatusEvent
	if err := s.codec.Unmarshal(payload, &ev); err != nil {
		s.record(coremetrics.KindStatus, coremetrics.OutcomeDecodeError, deviceID, site)
		return fmt.Errorf("decode status on %s: %w", topic, err)
	}
	if ev.SiteID == "" {
		ev.SiteID = site
	}
	if ev.DeviceID == "" {
		ev.DeviceID = deviceID
	}
	if !ev.Status.Valid() || ev.Battery < 0 || ev.Battery > 100 {
		s.log.Warnf("invalid status from %s dropped: status=%q battery=%d", ev.DeviceID, ev.Status, ev.Battery)
		s.record(coremetrics.KindStatus, coremetrics.OutcomeInvalid, ev.DeviceID, ev.SiteID)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.StoreTimeoutMS)*time.Millisecond)
	defer cancel()
	v, err := s.repo.FindBySerial(ctx, ev.Serial)
	if errors.Is(err, vehicle.ErrNotFound) {
		s.log.Warnf("status for unknown serial %s from %s dropped", ev.Serial, ev.DeviceID)
		s.record(coremetrics.KindStatus, coremetrics.OutcomeUnknown, ev.DeviceID, ev.SiteID)
		return nil
	}
	if err != nil {
		s.log.Errorf("lookup serial %s: %v", ev.Serial, err)
		s.record(coremetrics.KindStatus, coremetrics.OutcomeStoreError, ev.DeviceID, ev.SiteID)
		return nil
	}
	v.Apply(ev)
	if err := s.repo.Update(ctx, *v); err != nil {
		s.log.Errorf("update vehicle %s: %v", v.ID, err)
		s.record(coremetrics.KindStatus, coremetrics.OutcomeStoreError, ev.DeviceID, ev.SiteID)
		return nil
	}
	s.log.Debugw("vehicle updated", map[string]any{
		"vehicle": v.ID, "serial": v.Serial, "status": string(v.Status), "battery": v.Battery, "light": string(v.Light),
	})
	s.record(coremetrics.KindStatus, coremetrics.OutcomeApplied, ev.DeviceID, ev.SiteID)
	if err := s.vehicles.RecordVehicleState(coremetrics.VehicleStateEvent{
		VehicleID: v.ID,
		Serial:    v.Serial,
		SiteID:    ev.SiteID,
		Category:  v.Category,
		Status:    v.Status,
		Battery:   v.Battery,
		Light:     v.Light,
		Time:      v.UpdatedAt,
	}); err != nil {
		s.log.Warnf("record vehicle state: %v", err)
	}

	if v.RiderID != "" && s.notifier != nil {
		s.notifier.Enqueue(v.RiderID, outbox.EventVehicleStatus, *v)
	}
	s.updates.Publish(VehicleUpdate{Vehicle: *v, Event: ev})
	return nil
}

// HandleCommandResponse forwards a command response to the requesting user.
// It never touches the store.
func (s *Service) HandleCommandResponse(_ context.Context, topic string, payload []byte) error {
	site, deviceID := topicIDs(topic)
	var ev model.CommandResponseEvent
	if err := s.codec.Unmarshal(payload, &ev); err != nil {
		s.record(coremetrics.KindCommandResponse, coremetrics.OutcomeDecodeError, deviceID, site)
		return fmt.Errorf("decode command response on %s: %w", topic, err)
	}
	if ev.DeviceID == "" {
		ev.DeviceID = deviceID
	}
	s.log.Infof("command %s on %s: success=%t", ev.CommandID, ev.DeviceID, ev.Success)
	if ev.UserID != "" && s.notifier != nil {
		s.notifier.Enqueue(ev.UserID, outbox.EventCommandResponse, ev)
	}
	s.record(coremetrics.KindCommandResponse, coremetrics.OutcomeForwarded, ev.DeviceID, site)
	s.responses.Publish(ev)
	return nil
}

// SendCommand publishes a command to a device and returns it with its
// generated id.
func (s *Service) SendCommand(ctx context.Context, site, deviceID, action, userID string) (model.Command, error) {
	switch action {
	case model.ActionUnlock, model.ActionLock, model.ActionLocate:
	default:
		return model.Command{}, fmt.Errorf("unknown action %q", action)
	}
	if site == "" || deviceID == "" {
		return model.Command{}, fmt.Errorf("site and device are required")
	}
	cmd := model.Command{
		CommandID: s.newID(),
		DeviceID:  deviceID,
		Action:    action,
		UserID:    userID,
		IssuedAt:  time.Now().UTC(),
	}
	payload, err := s.codec.Marshal(cmd)
	if err != nil {
		return model.Command{}, fmt.Errorf("encode command: %w", err)
	}
	if err := s.transport.Publish(ctx, coremqtt.CommandTopic(site, deviceID), payload); err != nil {
		return model.Command{}, err
	}
	return cmd, nil
}

func (s *Service) record(kind, outcome, deviceID, site string) {
	if err := s.sink.RecordIngestion(coremetrics.IngestionEvent{
		Kind:     kind,
		Outcome:  outcome,
		DeviceID: deviceID,
		SiteID:   site,
		Time:     time.Now(),
	}); err != nil {
		s.log.Warnf("record ingestion: %v", err)
	}
}

func topicIDs(topic string) (site, device string) {
	site, device, _, err := coremqtt.ParseDeviceTopic(topic)
	if err != nil {
		return "", ""
	}
	return site, device
}
