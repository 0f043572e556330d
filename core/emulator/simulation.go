package emulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kilianp07/fleetiot/core/model"
)

// Per-tick transition probabilities.
const (
	probRideStart   = 0.5
	probReserve     = 0.1
	probMaintenance = 0.03
	probReservedUse = 0.6
	probRideEnd     = 0.35
	probRepair      = 0.3
	probSwap        = 0.25
)

// sampler draws the random numbers of the simulation. The battery drain is
// sampled by inverting the normal CDF so that a single seeded source drives
// every draw.
type sampler struct {
	mu    sync.Mutex
	rng   *rand.Rand
	drain distuv.Normal
}

func newSampler(seed uint64, mean, stddev float64) *sampler {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &sampler{
		rng:   rand.New(rand.NewPCG(seed, seed>>1|1)),
		drain: distuv.Normal{Mu: mean, Sigma: stddev},
	}
}

func (s *sampler) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *sampler) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// drainAmount returns the battery points consumed by one tick, at least 1.
func (s *sampler) drainAmount() int {
	s.mu.Lock()
	u := s.rng.Float64()
	s.mu.Unlock()
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	n := int(math.Round(math.Abs(s.drain.Quantile(u))))
	if n < 1 {
		n = 1
	}
	return n
}

var errUnchanged = errors.New("unchanged")

type simulation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartAutoSimulation starts a loop applying one random transition per
// interval. A running loop is stopped first, so at most one loop is active.
func (r *Registry) StartAutoSimulation(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: simulation interval %s", ErrValidation, interval)
	}
	r.simMu.Lock()
	defer r.simMu.Unlock()
	r.stopSimulationLocked()

	ctx, cancel := context.WithCancel(context.Background())
	sim := &simulation{cancel: cancel, done: make(chan struct{})}
	r.sim = sim
	go r.simulate(ctx, interval, sim.done)
	r.log.Infof("auto simulation started every %s", interval)
	return nil
}

// StopAutoSimulation stops the loop and waits for the tick in progress. It
// is a no-op when no loop runs.
func (r *Registry) StopAutoSimulation() {
	r.simMu.Lock()
	defer r.simMu.Unlock()
	r.stopSimulationLocked()
}

// Simulating reports whether an auto simulation loop is running.
func (r *Registry) Simulating() bool {
	r.simMu.Lock()
	defer r.simMu.Unlock()
	return r.sim != nil
}

func (r *Registry) stopSimulationLocked() {
	if r.sim == nil {
		return
	}
	r.sim.cancel()
	<-r.sim.done
	r.sim = nil
}

func (r *Registry) simulate(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Step(ctx); err != nil {
				r.log.Warnf("simulation step: %v", err)
			}
		}
	}
}

// Step applies one transition to a random device and returns its id. The
// status and battery change together in a single status event. It returns
// an empty id when the registry is empty.
func (r *Registry) Step(ctx context.Context) (string, error) {
	devices := r.ListDevices()
	if len(devices) == 0 {
		return "", nil
	}
	id := devices[r.sampler.intn(len(devices))].ID
	err := r.mutate(ctx, id, func(d *model.Device) error {
		status, battery := r.next(*d)
		if status == d.Status && battery == d.Battery {
			return errUnchanged
		}
		d.Status, d.Battery = status, battery
		return nil
	})
	if errors.Is(err, errUnchanged) {
		err = nil
	}
	return id, err
}

// next returns the status and battery d moves to on one tick.
func (r *Registry) next(d model.Device) (model.Status, int) {
	status, battery := d.Status, d.Battery
	powered := d.Category.Powered()
	p := r.sampler.float()

	switch d.Status {
	case model.StatusAvailable:
		start := probRideStart * r.activity[r.now().Hour()]
		switch {
		case powered && battery < model.CriticalBattery:
			status = model.StatusLowBattery
		case p < start:
			status = model.StatusInUse
		case p < start+probReserve:
			status = model.StatusReserved
		case p < start+probReserve+probMaintenance:
			status = model.StatusMaintenance
		}
	case model.StatusReserved:
		if p < probReservedUse {
			status = model.StatusInUse
		} else {
			status = model.StatusAvailable
		}
	case model.StatusInUse:
		if powered {
			battery = max(battery-r.sampler.drainAmount(), 0)
		}
		switch {
		case powered && battery == 0:
			status = model.StatusOutOfService
		case powered && battery < model.CriticalBattery:
			status = model.StatusLowBattery
		case p < probRideEnd:
			status = model.StatusAvailable
		}
	case model.StatusMaintenance:
		if p < probRepair {
			status = model.StatusAvailable
		}
	case model.StatusLowBattery, model.StatusOutOfService:
		if p < probSwap {
			status, battery = model.StatusAvailable, 100
		}
	}
	return status, battery
}
