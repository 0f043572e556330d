package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/fleetiot/core/metrics"
	"github.com/kilianp07/fleetiot/core/model"
	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
	"github.com/kilianp07/fleetiot/core/outbox"
	"github.com/kilianp07/fleetiot/core/vehicle"
	infmqtt "github.com/kilianp07/fleetiot/infra/mqtt"
	"github.com/kilianp07/fleetiot/infra/store"
	"github.com/kilianp07/fleetiot/internal/mqtttest"
)

type notification struct {
	user, event string
	payload     any
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []notification
}

func (n *recordingNotifier) Enqueue(user, event string, payload any) {
	n.mu.Lock()
	n.items = append(n.items, notification{user, event, payload})
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.items...)
}

type outcomeSink struct {
	mu       sync.Mutex
	outcomes []string
	states   []coremetrics.VehicleStateEvent
}

func (s *outcomeSink) RecordIngestion(ev coremetrics.IngestionEvent) error {
	s.mu.Lock()
	s.outcomes = append(s.outcomes, ev.Kind+":"+ev.Outcome)
	s.mu.Unlock()
	return nil
}

func (s *outcomeSink) RecordVehicleState(ev coremetrics.VehicleStateEvent) error {
	s.mu.Lock()
	s.states = append(s.states, ev)
	s.mu.Unlock()
	return nil
}

type brokenRepo struct {
	findErr, updateErr error
	updates            int
}

func (b *brokenRepo) FindBySerial(context.Context, string) (*vehicle.Vehicle, error) {
	if b.findErr != nil {
		return nil, b.findErr
	}
	return &vehicle.Vehicle{ID: "bike-001", Serial: "M001", Category: model.CategoryBike}, nil
}

func (b *brokenRepo) Update(context.Context, vehicle.Vehicle) error {
	b.updates++
	return b.updateErr
}

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.Create(context.Background(), vehicle.Vehicle{
		ID: "bike-001", Serial: "M001", SiteID: "paris", Category: model.CategoryBike,
		Status: model.StatusAvailable, Battery: 80, Light: model.LightGreen, RiderID: "u1",
	}))
	require.NoError(t, s.Create(context.Background(), vehicle.Vehicle{
		ID: "sc-1", Serial: "S1", SiteID: "paris", Category: model.CategoryScooter,
		Status: model.StatusAvailable, Battery: 90, Light: model.LightGreen,
	}))
	return s
}

func statusPayload(t *testing.T, ev model.StatusEvent) []byte {
	t.Helper()
	b, err := infmqtt.JSONCodec{}.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestHandleStatusUpdatesRecord(t *testing.T) {
	repo := seedStore(t)
	n := &recordingNotifier{}
	sink := &outcomeSink{}
	svc := NewService(Config{}, mqtttest.NewBroker().Client(), infmqtt.JSONCodec{}, repo, n, WithMetrics(sink))
	updates := svc.VehicleUpdates()

	ts := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	err := svc.HandleStatus(context.Background(), coremqtt.StatusTopic("paris", "bike-001"), statusPayload(t, model.StatusEvent{
		DeviceID: "bike-001", Serial: "M001", Status: model.StatusInUse, Battery: 15, Timestamp: ts,
	}))
	require.NoError(t, err)

	v, err := repo.FindBySerial(context.Background(), "M001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInUse, v.Status)
	assert.Equal(t, 15, v.Battery)
	assert.Equal(t, model.LightRed, v.Light)
	assert.True(t, v.UpdatedAt.Equal(ts))

	got := n.all()
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].user)
	assert.Equal(t, outbox.EventVehicleStatus, got[0].event)

	select {
	case u := <-updates:
		assert.Equal(t, "bike-001", u.Vehicle.ID)
		assert.Equal(t, "paris", u.Event.SiteID)
	case <-time.After(time.Second):
		t.Fatal("no vehicle update published")
	}
	assert.Equal(t, []string{"status:applied"}, sink.outcomes)
	require.Len(t, sink.states, 1)
	assert.Equal(t, "paris", sink.states[0].SiteID)
}

func TestHandleStatusWithoutRiderDoesNotNotify(t *testing.T) {
	repo := seedStore(t)
	n := &recordingNotifier{}
	svc := NewService(Config{}, mqtttest.NewBroker().Client(), infmqtt.JSONCodec{}, repo, n)

	require.NoError(t, svc.HandleStatus(context.Background(), coremqtt.StatusTopic("paris", "sc-1"), statusPayload(t, model.StatusEvent{
		DeviceID: "sc-1", Serial: "S1", Status: model.StatusMaintenance, Battery: 90,
	})))
	assert.Empty(t, n.all())
	v, _ := repo.FindBySerial(context.Background(), "S1")
	assert.Equal(t, model.StatusMaintenance, v.Status)
}

func TestHandleStatusUnknownSerialIsDropped(t *testing.T) {
	repo := seedStore(t)
	before, _ := repo.List(context.Background())
	sink := &outcomeSink{}
	svc := NewService(Config{}, mqtttest.NewBroker().Client(), infmqtt.JSONCodec{}, repo, nil, WithMetrics(sink))

	err := svc.HandleStatus(context.Background(), coremqtt.StatusTopic("paris", "ghost"), statusPayload(t, model.StatusEvent{
		DeviceID: "ghost", Serial: "ZZZ", Status: model.StatusInUse, Battery: 1,
	}))
	require.NoError(t, err)
	after, _ := repo.List(context.Background())
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"status:unknown_device"}, sink.outcomes)
}

func TestHandleStatusStoreFailuresAreDropped(t *testing.T) {
	ctx := context.Background()
	topic := coremqtt.StatusTopic("paris", "bike-001")
	payload := statusPayload(t, model.StatusEvent{DeviceID: "bike-001", Serial: "M001", Status: model.StatusInUse, Battery: 50})

	n := &recordingNotifier{}
	repo := &brokenRepo{findErr: errors.New("connection refused")}
	svc := NewService(Config{}, nil, infmqtt.JSONCodec{}, repo, n)
	require.NoError(t, svc.HandleStatus(ctx, topic, payload))
	assert.Zero(t, repo.updates)

	repo = &brokenRepo{updateErr: errors.New("disk full")}
	sink := &outcomeSink{}
	svc = NewService(Config{}, nil, infmqtt.JSONCodec{}, repo, n, WithMetrics(sink))
	require.NoError(t, svc.HandleStatus(ctx, topic, payload))
	assert.Equal(t, 1, repo.updates)
	assert.Equal(t, []string{"status:store_error"}, sink.outcomes)
	assert.Empty(t, n.all())
}

func TestHandleStatusInvalidReportIsDropped(t *testing.T) {
	ctx := context.Background()
	topic := coremqtt.StatusTopic("paris", "bike-001")
	repo := &brokenRepo{}
	n := &recordingNotifier{}
	sink := &outcomeSink{}
	svc := NewService(Config{}, nil, infmqtt.JSONCodec{}, repo, n, WithMetrics(sink))

	require.NoError(t, svc.HandleStatus(ctx, topic, []byte(`{"serial":"M001","status":"teleporting","battery":50}`)))
	require.NoError(t, svc.HandleStatus(ctx, topic, []byte(`{"serial":"M001","status":"available","battery":250}`)))
	require.NoError(t, svc.HandleStatus(ctx, topic, []byte(`{"serial":"M001","status":"in-use","battery":-1}`)))
	assert.Zero(t, repo.updates)
	assert.Empty(t, n.all())
	assert.Equal(t, []string{"status:invalid", "status:invalid", "status:invalid"}, sink.outcomes)

	stored := seedStore(t)
	svc = NewService(Config{}, nil, infmqtt.JSONCodec{}, stored, nil)
	require.NoError(t, svc.HandleStatus(ctx, topic, []byte(`{"serial":"M001","status":"teleporting","battery":250}`)))
	v, err := stored.FindBySerial(ctx, "M001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, v.Status)
	assert.Equal(t, 80, v.Battery)
	assert.Equal(t, model.LightGreen, v.Light)
}

func TestHandleStatusDecodeError(t *testing.T) {
	sink := &outcomeSink{}
	svc := NewService(Config{}, nil, infmqtt.JSONCodec{}, seedStore(t), nil, WithMetrics(sink))
	err := svc.HandleStatus(context.Background(), coremqtt.StatusTopic("paris", "x"), []byte("{"))
	require.Error(t, err)
	assert.Equal(t, []string{"status:decode_error"}, sink.outcomes)
}

func TestHandleCommandResponse(t *testing.T) {
	repo := seedStore(t)
	n := &recordingNotifier{}
	svc := NewService(Config{}, nil, infmqtt.JSONCodec{}, repo, n)
	responses := svc.CommandResponses()

	payload, _ := infmqtt.JSONCodec{}.Marshal(model.CommandResponseEvent{
		DeviceID: "bike-001", Success: true, CommandID: "c1", UserID: "u9",
		Payload: map[string]any{"note": "ok"},
	})
	require.NoError(t, svc.HandleCommandResponse(context.Background(), coremqtt.CommandResponseTopic("paris", "bike-001"), payload))

	got := n.all()
	require.Len(t, got, 1)
	assert.Equal(t, "u9", got[0].user)
	assert.Equal(t, outbox.EventCommandResponse, got[0].event)
	ev := got[0].payload.(model.CommandResponseEvent)
	assert.Equal(t, "ok", ev.Payload["note"])

	select {
	case r := <-responses:
		assert.Equal(t, "c1", r.CommandID)
	case <-time.After(time.Second):
		t.Fatal("no command response published")
	}
	v, _ := repo.FindBySerial(context.Background(), "M001")
	assert.Equal(t, model.StatusAvailable, v.Status, "command responses must not mutate the store")
}

func TestStartSubscribesAndStopReleases(t *testing.T) {
	b := mqtttest.NewBroker()
	tr := b.Client()
	svc := NewService(Config{SiteID: "paris"}, tr, infmqtt.JSONCodec{}, seedStore(t), nil)
	require.NoError(t, svc.Start(context.Background()))
	assert.ElementsMatch(t, []string{
		"sites/paris/devices/+/status",
		"sites/paris/devices/+/command-response",
	}, tr.Subscriptions())

	updates := svc.VehicleUpdates()
	svc.Stop()
	assert.Empty(t, tr.Subscriptions())
	assert.Equal(t, coremqtt.StateDisconnected, tr.State())
	_, open := <-updates
	assert.False(t, open, "update stream must be closed on stop")
}

func TestSendCommand(t *testing.T) {
	b := mqtttest.NewBroker()
	tr := b.Client()
	svc := NewService(Config{}, tr, infmqtt.JSONCodec{}, seedStore(t), nil)
	svc.newID = func() string { return "fixed-id" }

	_, err := svc.SendCommand(context.Background(), "paris", "bike-001", model.ActionUnlock, "u1")
	assert.ErrorIs(t, err, coremqtt.ErrNotConnected)

	require.NoError(t, tr.Connect(context.Background()))
	cmd, err := svc.SendCommand(context.Background(), "paris", "bike-001", model.ActionUnlock, "u1")
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", cmd.CommandID)

	msgs := b.PublishedOn(coremqtt.CommandTopic("paris", "bike-001"))
	require.Len(t, msgs, 1)
	var sent model.Command
	require.NoError(t, infmqtt.JSONCodec{}.Unmarshal(msgs[0].Payload, &sent))
	assert.Equal(t, model.ActionUnlock, sent.Action)
	assert.Equal(t, "u1", sent.UserID)

	_, err = svc.SendCommand(context.Background(), "paris", "bike-001", "explode", "u1")
	assert.Error(t, err)
}
