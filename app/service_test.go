package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kilianp07/fleetiot/config"
	"github.com/kilianp07/fleetiot/core/emulator"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Emulator.SiteID = "paris"
	cfg.Emulator.Fleet.Size = 3
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestServiceRoutes(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = svc.Close() }()

	n, err := svc.SeedFleet(context.Background(), "paris", cfg.Emulator.Specs())
	if err != nil || n != 3 {
		t.Fatalf("seed: %d %v", n, err)
	}
	if n, _ := svc.SeedFleet(context.Background(), "paris", cfg.Emulator.Specs()); n != 0 {
		t.Fatalf("second seed created %d records", n)
	}

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || health["transport"] != "disconnected" {
		t.Fatalf("unexpected health %d %v", resp.StatusCode, health)
	}

	resp, err = http.Get(srv.URL + "/api/vehicles?site=paris")
	if err != nil {
		t.Fatal(err)
	}
	var list []map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 3 || list[0]["id"] != "bike-001" || list[0]["light"] != "green" {
		t.Fatalf("unexpected vehicles %v", list)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
}

func TestNewEmulatorRegistersFleet(t *testing.T) {
	cfg := testConfig(t)
	cfg.Emulator.Devices = []emulator.DeviceSpec{{ID: "car-1", Serial: "C1", Category: "car", Battery: 50}}
	em, err := NewEmulator(cfg)
	if err != nil {
		t.Fatalf("new emulator: %v", err)
	}
	defer em.Close()
	if got := em.Registry().Len(); got != 4 {
		t.Fatalf("expected 4 devices, got %d", got)
	}

	cfg.Emulator.SiteID = ""
	if _, err := NewEmulator(cfg); err == nil {
		t.Fatal("expected error without site")
	}
}
