package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/fleetiot/core/metrics"
	"github.com/kilianp07/fleetiot/infra/logger"
)

const influxWriteTimeout = 5 * time.Second

// InfluxSink writes pipeline events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

var (
	_ coremetrics.DeliveryRecorder     = (*InfluxSink)(nil)
	_ coremetrics.VehicleStateRecorder = (*InfluxSink)(nil)
)

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: influxWriteTimeout}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), influxWriteTimeout)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), influxWriteTimeout)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordIngestion writes one point per handled device message.
func (s *InfluxSink) RecordIngestion(ev coremetrics.IngestionEvent) error {
	p := write.NewPointWithMeasurement("ingestion_event").
		AddTag("kind", ev.Kind).
		AddTag("outcome", ev.Outcome)
	if ev.SiteID != "" {
		p = p.AddTag("site_id", ev.SiteID)
	}
	p = p.AddField("device_id", ev.DeviceID).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordVehicleState writes a snapshot of a vehicle.
func (s *InfluxSink) RecordVehicleState(ev coremetrics.VehicleStateEvent) error {
	p := write.NewPointWithMeasurement("vehicle_state").
		AddTag("vehicle_id", ev.VehicleID).
		AddTag("category", string(ev.Category))
	if ev.SiteID != "" {
		p = p.AddTag("site_id", ev.SiteID)
	}
	p = p.AddField("status", string(ev.Status)).
		AddField("battery", ev.Battery).
		AddField("light", string(ev.Light)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordDelivery writes the result of an outbox send.
func (s *InfluxSink) RecordDelivery(ev coremetrics.DeliveryEvent) error {
	p := write.NewPointWithMeasurement("outbox_delivery").
		AddTag("event", ev.Event).
		AddTag("outcome", ev.Outcome).
		AddField("user_id", ev.UserID).
		AddField("latency_ms", float64(ev.Latency.Microseconds())/1000).
		SetTime(ev.Time)
	return s.write(p)
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }
