// Package metrics defines the observability sinks of the pipeline. A sink
// implements MetricsSink and any of the optional recorder interfaces; the
// MultiSink fans events out to every sink that supports them. Concrete sinks
// (Prometheus, InfluxDB) live in infra/metrics and register themselves with
// RegisterMetricsSink.
package metrics
