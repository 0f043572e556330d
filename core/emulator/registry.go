// Package emulator simulates the devices of one site. It keeps the state of
// every registered device, publishes a status event after each change and
// answers the commands addressed to the site.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/fleetiot/core/logger"
	"github.com/kilianp07/fleetiot/core/model"
	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
)

var (
	// ErrDuplicateDevice is returned when the id or serial is already registered.
	ErrDuplicateDevice = errors.New("device already registered")
	// ErrNotFound is returned when no device has the id.
	ErrNotFound = errors.New("device not found")
	// ErrValidation is returned for out-of-range or unknown values.
	ErrValidation = errors.New("invalid device value")
)

// device guards one device state. Holding mu across mutation and publish
// keeps the published order of a device equal to its mutation order.
type device struct {
	mu    sync.Mutex
	state model.Device
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option { return func(r *Registry) { r.log = l } }

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// WithSeed makes the auto simulation reproducible.
func WithSeed(seed uint64) Option { return func(r *Registry) { r.seed = seed } }

// WithBatteryDrain sets the normal distribution of the battery consumed by
// one simulation tick of a ride.
func WithBatteryDrain(mean, stddev float64) Option {
	return func(r *Registry) { r.drainMean, r.drainStdDev = mean, stddev }
}

// WithActivityProfile scales the ride start probability per hour of day.
func WithActivityProfile(p [24]float64) Option { return func(r *Registry) { r.activity = p } }

// Registry is the device emulator of one site. It is safe for concurrent use.
type Registry struct {
	site      string
	transport coremqtt.Transport
	codec     coremqtt.Codec
	log       logger.Logger
	now       func() time.Time

	seed        uint64
	drainMean   float64
	drainStdDev float64
	activity    [24]float64
	sampler     *sampler

	mu      sync.RWMutex
	devices map[string]*device
	serials map[string]string

	simMu sync.Mutex
	sim   *simulation
}

// NewRegistry returns an empty registry for site publishing through
// transport with codec.
func NewRegistry(site string, transport coremqtt.Transport, codec coremqtt.Codec, opts ...Option) *Registry {
	r := &Registry{
		site:        site,
		transport:   transport,
		codec:       codec,
		log:         logger.Nop{},
		now:         func() time.Time { return time.Now().UTC() },
		drainMean:   4,
		drainStdDev: 2,
		activity:    flatProfile(),
		devices:     make(map[string]*device),
		serials:     make(map[string]string),
	}
	for _, o := range opts {
		o(r)
	}
	r.sampler = newSampler(r.seed, r.drainMean, r.drainStdDev)
	return r
}

// Site returns the site identifier.
func (r *Registry) Site() string { return r.site }

// AddDevice registers a device. The light is derived from the initial state.
func (r *Registry) AddDevice(id, serial string, category model.Category, status model.Status, battery int) error {
	if id == "" || serial == "" {
		return fmt.Errorf("%w: id and serial are required", ErrValidation)
	}
	if !category.Valid() {
		return fmt.Errorf("%w: category %q", ErrValidation, category)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", ErrValidation, status)
	}
	if err := checkBattery(battery); err != nil {
		return err
	}
	d := &device{state: model.Device{ID: id, Serial: serial, Category: category, Status: status, Battery: battery}}
	d.state.Refresh(r.now())

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; ok {
		return fmt.Errorf("%w: id %s", ErrDuplicateDevice, id)
	}
	if owner, ok := r.serials[serial]; ok {
		return fmt.Errorf("%w: serial %s used by %s", ErrDuplicateDevice, serial, owner)
	}
	r.devices[id] = d
	r.serials[serial] = id
	return nil
}

// AddSpecs registers every spec, stopping at the first failure.
func (r *Registry) AddSpecs(specs []DeviceSpec) error {
	for _, s := range specs {
		if err := s.validate(); err != nil {
			return err
		}
		status := model.StatusAvailable
		if s.Status != "" {
			status = model.Status(s.Status)
		}
		if err := r.AddDevice(s.ID, s.Serial, model.Category(s.Category), status, s.Battery); err != nil {
			return err
		}
	}
	return nil
}

// RemoveDevice unregisters id. It returns ErrNotFound when id is unknown.
func (r *Registry) RemoveDevice(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.devices, id)
	d.mu.Lock()
	delete(r.serials, d.state.Serial)
	d.mu.Unlock()
	return nil
}

// ListDevices returns a snapshot of every device ordered by id. Later
// mutations do not affect the returned slice.
func (r *Registry) ListDevices() []model.Device {
	r.mu.RLock()
	ds := make([]*device, 0, len(r.devices))
	for _, d := range r.devices {
		ds = append(ds, d)
	}
	r.mu.RUnlock()

	out := make([]model.Device, 0, len(ds))
	for _, d := range ds {
		d.mu.Lock()
		out = append(out, d.state)
		d.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetDevice returns a copy of the device state.
func (r *Registry) GetDevice(id string) (model.Device, error) {
	d, err := r.lookup(id)
	if err != nil {
		return model.Device{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, nil
}

// SetStatus changes the status of id and publishes its status event. The
// change is kept when the publish fails; the error is returned.
func (r *Registry) SetStatus(ctx context.Context, id string, status model.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", ErrValidation, status)
	}
	return r.mutate(ctx, id, func(d *model.Device) error {
		d.Status = status
		return nil
	})
}

// SetBattery changes the battery level of id (0-100) and publishes its
// status event.
func (r *Registry) SetBattery(ctx context.Context, id string, battery int) error {
	if err := checkBattery(battery); err != nil {
		return err
	}
	return r.mutate(ctx, id, func(d *model.Device) error {
		d.Battery = battery
		return nil
	})
}

// PublishAll publishes the current status of every device.
func (r *Registry) PublishAll(ctx context.Context) error {
	var errs []error
	for _, d := range r.ListDevices() {
		if err := r.publishStatus(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start connects the transport, subscribes to the site command topic and
// announces every registered device.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.transport.Connect(ctx); err != nil {
		return err
	}
	if err := r.transport.Subscribe(r.commandPattern(), r.handleCommand); err != nil {
		r.transport.Disconnect()
		return err
	}
	if err := r.PublishAll(ctx); err != nil {
		r.log.Warnf("initial status publish: %v", err)
	}
	r.log.Infof("emulator for site %s started with %d devices", r.site, r.Len())
	return nil
}

// Stop halts the auto simulation, then releases the transport.
func (r *Registry) Stop() {
	r.StopAutoSimulation()
	if err := r.transport.Unsubscribe(r.commandPattern()); err != nil {
		r.log.Warnf("unsubscribe commands: %v", err)
	}
	r.transport.Disconnect()
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

func (r *Registry) commandPattern() string {
	return coremqtt.SiteWildcard(r.site, coremqtt.SuffixCommand)
}

func (r *Registry) lookup(id string) (*device, error) {
	r.mu.RLock()
	d, ok := r.devices[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, nil
}

// mutate applies fn to id, refreshes the light and publishes the result
// while holding the device lock. Nothing is published when fn fails.
func (r *Registry) mutate(ctx context.Context, id string, fn func(*model.Device) error) error {
	d, err := r.lookup(id)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := fn(&d.state); err != nil {
		return err
	}
	d.state.Refresh(r.now())
	return r.publishStatus(ctx, d.state)
}

func (r *Registry) publishStatus(ctx context.Context, d model.Device) error {
	payload, err := r.codec.Marshal(model.NewStatusEvent(r.site, d))
	if err != nil {
		return fmt.Errorf("encode status of %s: %w", d.ID, err)
	}
	return r.transport.Publish(ctx, coremqtt.StatusTopic(r.site, d.ID), payload)
}

func checkBattery(b int) error {
	if b < 0 || b > 100 {
		return fmt.Errorf("%w: battery %d out of range 0-100", ErrValidation, b)
	}
	return nil
}
