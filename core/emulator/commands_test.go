package emulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetiot/core/model"
	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
	infmqtt "github.com/kilianp07/fleetiot/infra/mqtt"
)

func sendCommand(t *testing.T, pub coremqtt.Transport, device, action string) {
	t.Helper()
	payload, err := infmqtt.JSONCodec{}.Marshal(model.Command{
		CommandID: "cmd-" + action,
		DeviceID:  device,
		Action:    action,
		UserID:    "u1",
		IssuedAt:  time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), coremqtt.CommandTopic("paris", device), payload))
}

func TestCommandsOverTransport(t *testing.T) {
	r, b, _ := newTestRegistry(t)
	require.NoError(t, r.AddDevice("bike-001", "M001", model.CategoryBike, model.StatusAvailable, 80))
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	backend := b.Client()
	require.NoError(t, backend.Connect(context.Background()))

	responses := func() []model.CommandResponseEvent {
		var out []model.CommandResponseEvent
		for _, m := range b.PublishedOn(coremqtt.CommandResponseTopic("paris", "bike-001")) {
			var ev model.CommandResponseEvent
			require.NoError(t, infmqtt.JSONCodec{}.Unmarshal(m.Payload, &ev))
			out = append(out, ev)
		}
		return out
	}

	sendCommand(t, backend, "bike-001", model.ActionUnlock)
	got := responses()
	require.Len(t, got, 1)
	assert.True(t, got[0].Success)
	assert.Equal(t, "cmd-unlock", got[0].CommandID)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, model.StatusInUse, lastStatus(t, b, "bike-001").Status)

	sendCommand(t, backend, "bike-001", model.ActionUnlock)
	got = responses()
	require.Len(t, got, 2)
	assert.False(t, got[1].Success, "unlock of a device in use must fail")
	assert.Contains(t, got[1].Payload["error"], "in-use")

	sendCommand(t, backend, "bike-001", model.ActionLock)
	got = responses()
	require.Len(t, got, 3)
	assert.True(t, got[2].Success)
	assert.Equal(t, model.StatusAvailable, lastStatus(t, b, "bike-001").Status)
	assert.Empty(t, b.HandlerErrors())
}

func TestExecuteLocateAndUnknown(t *testing.T) {
	r, b, _ := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.AddDevice("car-1", "C1", model.CategoryCar, model.StatusReserved, 60))

	resp := r.Execute(ctx, model.Command{CommandID: "1", DeviceID: "car-1", Action: model.ActionLocate})
	assert.True(t, resp.Success)
	assert.Equal(t, "reserved", resp.Payload["status"])
	assert.Empty(t, b.Published(), "locate must not change state")

	resp = r.Execute(ctx, model.Command{CommandID: "2", DeviceID: "car-1", Action: "honk"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Payload["error"], "honk")

	resp = r.Execute(ctx, model.Command{CommandID: "3", DeviceID: "ghost", Action: model.ActionUnlock})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Payload["error"], "not found")

	resp = r.Execute(ctx, model.Command{CommandID: "4", DeviceID: "car-1", Action: model.ActionUnlock})
	assert.True(t, resp.Success, "reserved vehicles can be unlocked")
	assert.True(t, resp.Timestamp.Equal(fixedNow))
}

func TestUnlockSucceedsWhenStatusPublishFails(t *testing.T) {
	r, _, tr := newTestRegistry(t)
	require.NoError(t, r.AddDevice("bike-001", "M001", model.CategoryBike, model.StatusAvailable, 80))
	tr.Drop()

	resp := r.Execute(context.Background(), model.Command{DeviceID: "bike-001", Action: model.ActionUnlock})
	assert.True(t, resp.Success)
	d, _ := r.GetDevice("bike-001")
	assert.Equal(t, model.StatusInUse, d.Status)
}

func TestMalformedCommandIsReported(t *testing.T) {
	r, b, _ := newTestRegistry(t)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()
	backend := b.Client()
	require.NoError(t, backend.Connect(context.Background()))

	require.NoError(t, backend.Publish(context.Background(), coremqtt.CommandTopic("paris", "bike-001"), []byte("{not json")))
	assert.Len(t, b.HandlerErrors(), 1)
	assert.Empty(t, b.PublishedOn("sites/+/devices/+/command-response"))
}
