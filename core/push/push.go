package push

import (
	"context"
	"errors"
)

// ErrUserNotConnected is returned when the user has no active connection.
var ErrUserNotConnected = errors.New("user not connected")

// Channel delivers a named event to every active connection of a user.
// SendToUser succeeds only if at least one connection accepted the event.
type Channel interface {
	SendToUser(ctx context.Context, userID, event string, payload any) error
}

// Message is the frame written to clients.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}
