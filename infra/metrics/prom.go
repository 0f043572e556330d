package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/fleetiot/core/metrics"
	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
)

var transportStates = []coremqtt.State{
	coremqtt.StateDisconnected,
	coremqtt.StateConnecting,
	coremqtt.StateConnected,
	coremqtt.StateReconnecting,
}

// PromSink exposes pipeline metrics to Prometheus.
type PromSink struct {
	ingested   *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	depth      prometheus.Gauge
	transport  *prometheus.GaugeVec
	battery    *prometheus.GaugeVec
}

var (
	_ coremetrics.DeliveryRecorder        = (*PromSink)(nil)
	_ coremetrics.QueueDepthRecorder      = (*PromSink)(nil)
	_ coremetrics.ConnectionStateRecorder = (*PromSink)(nil)
	_ coremetrics.VehicleStateRecorder    = (*PromSink)(nil)
)

// NewPromSink registers metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Metrics that
// are already registered are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetiot_ingested_events_total",
			Help: "Inbound device messages by kind and outcome",
		}, []string{"kind", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetiot_outbox_deliveries_total",
			Help: "Outbox delivery attempts by event and outcome",
		}, []string{"event", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetiot_outbox_delivery_seconds",
			Help:    "Duration of push channel sends",
			Buckets: prometheus.DefBuckets,
		}, []string{"event"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetiot_outbox_depth",
			Help: "Notifications waiting in the outbox",
		}),
		transport: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetiot_transport_state",
			Help: "Current transport state per component (1 for the active state)",
		}, []string{"component", "state"}),
		battery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetiot_vehicle_battery_percent",
			Help: "Last reported battery level per vehicle",
		}, []string{"vehicle_id", "site_id"}),
	}
	var err error
	if s.ingested, err = register(reg, s.ingested); err != nil {
		return nil, err
	}
	if s.deliveries, err = register(reg, s.deliveries); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, s.latency); err != nil {
		return nil, err
	}
	if s.depth, err = register(reg, s.depth); err != nil {
		return nil, err
	}
	if s.transport, err = register(reg, s.transport); err != nil {
		return nil, err
	}
	if s.battery, err = register(reg, s.battery); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) RecordIngestion(ev coremetrics.IngestionEvent) error {
	s.ingested.WithLabelValues(ev.Kind, ev.Outcome).Inc()
	return nil
}

func (s *PromSink) RecordDelivery(ev coremetrics.DeliveryEvent) error {
	s.deliveries.WithLabelValues(ev.Event, ev.Outcome).Inc()
	if ev.Latency > 0 {
		s.latency.WithLabelValues(ev.Event).Observe(ev.Latency.Seconds())
	}
	return nil
}

func (s *PromSink) RecordQueueDepth(depth int) error {
	s.depth.Set(float64(depth))
	return nil
}

// RecordConnectionState sets the gauge of the new state to 1 and every other
// state of the component to 0.
func (s *PromSink) RecordConnectionState(ev coremetrics.ConnectionStateEvent) error {
	for _, st := range transportStates {
		v := 0.0
		if st.String() == ev.State {
			v = 1
		}
		s.transport.WithLabelValues(ev.Component, st.String()).Set(v)
	}
	return nil
}

func (s *PromSink) RecordVehicleState(ev coremetrics.VehicleStateEvent) error {
	s.battery.WithLabelValues(ev.VehicleID, ev.SiteID).Set(float64(ev.Battery))
	return nil
}
