package emulator

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/fleetiot/core/model"
	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
)

// errRejected marks a command refused because of the device state.
var errRejected = errors.New("command rejected")

// handleCommand decodes a command received on the site command topic,
// applies it and publishes the command response.
func (r *Registry) handleCommand(ctx context.Context, topic string, payload []byte) error {
	_, deviceID, _, err := coremqtt.ParseDeviceTopic(topic)
	if err != nil {
		return err
	}
	var cmd model.Command
	if err := r.codec.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decode command on %s: %w", topic, err)
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = deviceID
	}
	resp := r.Execute(ctx, cmd)
	out, err := r.codec.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response to %s: %w", cmd.CommandID, err)
	}
	return r.transport.Publish(ctx, coremqtt.CommandResponseTopic(r.site, cmd.DeviceID), out)
}

// Execute applies cmd and returns the response a device would send.
// unlock moves an available or reserved device to in-use, lock ends a ride,
// locate always succeeds.
func (r *Registry) Execute(ctx context.Context, cmd model.Command) model.CommandResponseEvent {
	resp := model.CommandResponseEvent{
		DeviceID:  cmd.DeviceID,
		CommandID: cmd.CommandID,
		Action:    cmd.Action,
		UserID:    cmd.UserID,
	}
	var err error
	switch cmd.Action {
	case model.ActionUnlock:
		err = r.transition(ctx, cmd.DeviceID, model.StatusInUse, model.StatusAvailable, model.StatusReserved)
	case model.ActionLock:
		err = r.transition(ctx, cmd.DeviceID, model.StatusAvailable, model.StatusInUse)
	case model.ActionLocate:
		var d model.Device
		if d, err = r.GetDevice(cmd.DeviceID); err == nil {
			resp.Payload = map[string]any{"status": string(d.Status), "light": string(d.Light)}
		}
	default:
		err = fmt.Errorf("%w: unknown action %q", errRejected, cmd.Action)
	}
	resp.Timestamp = r.now()
	resp.Success = err == nil
	if err != nil {
		if resp.Payload == nil {
			resp.Payload = map[string]any{}
		}
		resp.Payload["error"] = err.Error()
		r.log.Debugw("command failed", map[string]any{"device": cmd.DeviceID, "action": cmd.Action, "error": err.Error()})
	}
	return resp
}

// transition moves id to status when its current status is one of from. A
// publish failure after the change is logged, not reported to the sender.
func (r *Registry) transition(ctx context.Context, id string, status model.Status, from ...model.Status) error {
	err := r.mutate(ctx, id, func(d *model.Device) error {
		for _, f := range from {
			if d.Status == f {
				d.Status = status
				return nil
			}
		}
		return fmt.Errorf("%w: device is %s", errRejected, d.Status)
	})
	var pe *coremqtt.PublishError
	if errors.As(err, &pe) {
		r.log.Warnf("status of %s not published: %v", id, err)
		return nil
	}
	return err
}
