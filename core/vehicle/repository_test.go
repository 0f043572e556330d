package vehicle

import (
	"testing"
	"time"

	"github.com/kilianp07/fleetiot/core/model"
)

func TestApplyRecomputesLight(t *testing.T) {
	v := Vehicle{ID: "bike-001", Serial: "M001", Category: model.CategoryBike, Status: model.StatusAvailable, Battery: 80, Light: model.LightGreen}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v.Apply(model.StatusEvent{DeviceID: "bike-001", Serial: "M001", Status: model.StatusAvailable, Battery: 15, Timestamp: ts})
	if v.Battery != 15 || v.Status != model.StatusAvailable {
		t.Fatalf("state not applied: %+v", v)
	}
	if v.Light != model.LightRed {
		t.Fatalf("expected red light got %s", v.Light)
	}
	if !v.UpdatedAt.Equal(ts) {
		t.Fatalf("timestamp not applied")
	}
}

func TestApplyWithoutTimestamp(t *testing.T) {
	v := Vehicle{Category: model.CategoryManualBike}
	v.Apply(model.StatusEvent{Status: model.StatusInUse, Battery: 3})
	if v.UpdatedAt.IsZero() {
		t.Fatalf("expected update time")
	}
	if v.Light != model.LightBlue {
		t.Fatalf("manual bikes ignore battery, got %s", v.Light)
	}
}
