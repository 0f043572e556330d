package mqtt

import "context"

// Handler processes the payload of one inbound message. Returned errors are
// logged by the transport and never stop the subscription.
type Handler func(ctx context.Context, topic string, payload []byte) error

// Transport is a pub/sub session owned by a single component.
type Transport interface {
	// Connect establishes the session. It fails with *ConnectionError and is
	// not retried; automatic reconnection only applies once connected.
	Connect(ctx context.Context) error
	// Publish sends one message. It fails with *PublishError when the session
	// is not connected.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers handler for every message matching pattern.
	// Subscriptions survive reconnects.
	Subscribe(pattern string, handler Handler) error
	Unsubscribe(pattern string) error
	// Disconnect stops reconnection, waits for in-flight handlers and closes
	// the session.
	Disconnect()
	State() State
}
