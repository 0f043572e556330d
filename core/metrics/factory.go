package metrics

import "github.com/kilianp07/fleetiot/core/factory"

var sinkRegistry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink adds a metrics sink factory identified by name.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return sinkRegistry.Register(name, f)
}

// NewMetricsSink creates a MetricsSink from the provided configuration.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	if len(cfgs) == 0 {
		return NopSink{}, nil
	}
	if len(cfgs) == 1 {
		return sinkRegistry.Create(cfgs[0])
	}
	sinks := make([]MetricsSink, len(cfgs))
	for i, c := range cfgs {
		s, err := sinkRegistry.Create(c)
		if err != nil {
			return nil, err
		}
		sinks[i] = s
	}
	return NewMultiSink(sinks...), nil
}

// Recorders resolves the optional recorder interfaces of sink, falling back
// to NopSink for the ones it does not implement.
func Recorders(sink MetricsSink) (DeliveryRecorder, QueueDepthRecorder, ConnectionStateRecorder, VehicleStateRecorder) {
	var (
		d DeliveryRecorder        = NopSink{}
		q QueueDepthRecorder      = NopSink{}
		c ConnectionStateRecorder = NopSink{}
		v VehicleStateRecorder    = NopSink{}
	)
	if r, ok := sink.(DeliveryRecorder); ok {
		d = r
	}
	if r, ok := sink.(QueueDepthRecorder); ok {
		q = r
	}
	if r, ok := sink.(ConnectionStateRecorder); ok {
		c = r
	}
	if r, ok := sink.(VehicleStateRecorder); ok {
		v = r
	}
	return d, q, c, v
}
