package emulator

import (
	"errors"
	"testing"
)

func TestGenerateFleetCount(t *testing.T) {
	specs := GenerateFleet(FleetConfig{Size: 5})
	if len(specs) != 5 {
		t.Fatalf("expected 5 devices, got %d", len(specs))
	}
	if specs[0].ID != "bike-001" || specs[4].ID != "bike-005" {
		t.Fatalf("unexpected ids %s %s", specs[0].ID, specs[4].ID)
	}
	if specs[0].Serial != "M001" || specs[0].Battery != 100 || specs[0].Status != "available" {
		t.Fatalf("unexpected defaults %+v", specs[0])
	}
}

func TestGenerateFleetPrefixes(t *testing.T) {
	specs := GenerateFleet(FleetConfig{Size: 2, Category: "scooter", SerialPrefix: "SC"})
	if specs[1].ID != "scooter-002" || specs[1].Serial != "SC002" || specs[1].Category != "scooter" {
		t.Fatalf("unexpected spec %+v", specs[1])
	}
	if GenerateFleet(FleetConfig{}) != nil {
		t.Fatal("empty fleet expected")
	}
}

func TestTemplateOverride(t *testing.T) {
	low := 12
	specs := GenerateFleet(FleetConfig{Size: 3, Templates: map[string]DeviceTemplate{
		"bike-002": {Status: "maintenance", Battery: &low},
	}})
	if specs[1].Status != "maintenance" || specs[1].Battery != 12 {
		t.Fatalf("template not applied: %+v", specs[1])
	}
	if specs[2].Status != "available" {
		t.Fatalf("template leaked: %+v", specs[2])
	}
}

func TestLoadActivityProfile(t *testing.T) {
	prof, err := LoadActivityProfile([]byte(`{"0":0.1,"8":2.5,"x":3,"30":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if prof[0] != 0.1 || prof[8] != 2.5 || prof[12] != 1 {
		t.Fatalf("unexpected profile %v", prof)
	}
	if _, err := LoadActivityProfile([]byte(`invalid`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{SiteID: "paris", Fleet: FleetConfig{Size: 2}, Devices: []DeviceSpec{
		{ID: "car-1", Serial: "C1", Category: "car", Battery: 70},
	}}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if cfg.Interval().Milliseconds() != 2000 {
		t.Fatalf("unexpected interval %s", cfg.Interval())
	}
	if specs := cfg.Specs(); len(specs) != 3 || specs[0].ID != "car-1" {
		t.Fatalf("unexpected specs %+v", specs)
	}

	bad := cfg
	bad.Devices = []DeviceSpec{{ID: "x", Serial: "X", Category: "tram"}}
	if err := bad.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	bad = cfg
	bad.SiteID = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("missing site accepted")
	}
}
