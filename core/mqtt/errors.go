package mqtt

import (
	"errors"
	"fmt"
)

// ErrNotConnected is wrapped by PublishError when the session is down.
var ErrNotConnected = errors.New("not connected")

// ErrPublishTimeout is wrapped by PublishError when the broker does not
// confirm a publish in time.
var ErrPublishTimeout = errors.New("publish timeout")

// ConnectionError reports an unreachable broker or rejected credentials.
type ConnectionError struct {
	Broker string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Broker, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PublishError reports a message that could not be handed to the broker.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
