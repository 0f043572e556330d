package test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/kilianp07/fleetiot/app"
	"github.com/kilianp07/fleetiot/config"
	"github.com/kilianp07/fleetiot/core/factory"
	"github.com/kilianp07/fleetiot/test/util"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func waitHealthy(ctx context.Context, url string) error {
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not healthy: %w", url, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestServeAndEmulate(t *testing.T) {
	util.RequireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	b, cleanup, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Fatalf("start mosquitto: %v", err)
	}
	defer cleanup()

	cfg := &config.Config{}
	cfg.MQTT.Host, cfg.MQTT.Port = b.Host, b.Port
	cfg.MQTT.QoS = 1
	cfg.HTTP.Address = freeAddr(t)
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "prometheus"}}
	cfg.Emulator.SiteID = "it"
	cfg.Emulator.Fleet.Size = 2
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	svc, err := app.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = svc.Close() }()
	if _, err := svc.SeedFleet(ctx, "it", cfg.Emulator.Specs()); err != nil {
		t.Fatal(err)
	}
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	svcDone := make(chan error, 1)
	go func() { svcDone <- svc.Run(runCtx) }()

	base := "http://" + cfg.HTTP.Address
	healthCtx, healthCancel := context.WithTimeout(ctx, 15*time.Second)
	defer healthCancel()
	if err := waitHealthy(healthCtx, base+"/healthz"); err != nil {
		t.Fatal(err)
	}

	em, err := app.NewEmulator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer em.Close()
	emDone := make(chan error, 1)
	go func() { emDone <- em.Run(runCtx, false) }()

	// Start publishes every device once; the registry reports an error
	// until the emulator session is up.
	deadline := time.Now().Add(15 * time.Second)
	for {
		err := em.Registry().SetBattery(ctx, "bike-001", 15)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("set battery: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	metricCtx, metricCancel := context.WithTimeout(ctx, util.MetricTimeout)
	defer metricCancel()
	if err := util.WaitForMetric(metricCtx, base+"/metrics", `fleetiot_vehicle_battery_percent{site_id="it",vehicle_id="bike-001"} 15`); err != nil {
		t.Fatal(err)
	}

	stop()
	for _, ch := range []chan error{svcDone, emDone} {
		select {
		case err := <-ch:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Fatalf("run: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("component did not stop")
		}
	}
}
