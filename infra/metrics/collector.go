package metrics

import (
	"context"

	coremetrics "github.com/kilianp07/fleetiot/core/metrics"
	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
)

// StateSource is a transport that publishes its state transitions.
type StateSource interface {
	WatchState() <-chan coremqtt.StateChange
	UnwatchState(<-chan coremqtt.StateChange)
}

// StartStateCollector records every state transition of src under component.
// It stops when the context is canceled or the source closes its stream.
func StartStateCollector(ctx context.Context, src StateSource, component string, rec coremetrics.ConnectionStateRecorder) {
	if src == nil || rec == nil {
		return
	}
	sub := src.WatchState()
	go func() {
		defer src.UnwatchState(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ch, ok := <-sub:
				if !ok {
					return
				}
				_ = rec.RecordConnectionState(coremetrics.ConnectionStateEvent{
					Component: component,
					State:     ch.To.String(),
					Time:      ch.At,
				})
			}
		}
	}()
}
