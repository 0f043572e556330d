// Package mqtttest provides an in-memory broker whose clients implement
// core/mqtt.Transport. Delivery is synchronous: Publish returns after every
// matching handler ran.
package mqtttest

import (
	"context"
	"errors"
	"strings"
	"sync"

	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
)

// Message is one published message.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker routes messages between its clients.
type Broker struct {
	mu        sync.Mutex
	clients   []*Transport
	published []Message
	errs      []error
}

func NewBroker() *Broker { return &Broker{} }

// Client returns a new disconnected transport attached to b.
func (b *Broker) Client() *Transport {
	t := &Transport{broker: b, subs: make(map[string]coremqtt.Handler)}
	b.mu.Lock()
	b.clients = append(b.clients, t)
	b.mu.Unlock()
	return t
}

// Published returns a copy of every message accepted so far.
func (b *Broker) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published...)
}

// PublishedOn returns the messages whose topic matches pattern.
func (b *Broker) PublishedOn(pattern string) []Message {
	var out []Message
	for _, m := range b.Published() {
		if Match(pattern, m.Topic) {
			out = append(out, m)
		}
	}
	return out
}

// HandlerErrors returns the errors returned by subscription handlers.
func (b *Broker) HandlerErrors() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]error(nil), b.errs...)
}

func (b *Broker) route(ctx context.Context, topic string, payload []byte) {
	b.mu.Lock()
	b.published = append(b.published, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	clients := append([]*Transport(nil), b.clients...)
	b.mu.Unlock()

	for _, c := range clients {
		for _, h := range c.handlers(topic) {
			if err := h(ctx, topic, payload); err != nil {
				b.mu.Lock()
				b.errs = append(b.errs, err)
				b.mu.Unlock()
			}
		}
	}
}

// Transport is an in-memory coremqtt.Transport.
type Transport struct {
	broker *Broker

	mu         sync.Mutex
	state      coremqtt.State
	subs       map[string]coremqtt.Handler
	connectErr error
	publishErr error
}

var _ coremqtt.Transport = (*Transport)(nil)

// FailConnect makes the next Connect calls fail with err.
func (t *Transport) FailConnect(err error) {
	t.mu.Lock()
	t.connectErr = err
	t.mu.Unlock()
}

// FailPublish makes Publish fail with err until called with nil.
func (t *Transport) FailPublish(err error) {
	t.mu.Lock()
	t.publishErr = err
	t.mu.Unlock()
}

// Drop simulates a lost session: publishes fail until Connect is called.
func (t *Transport) Drop() {
	t.mu.Lock()
	t.state = coremqtt.StateReconnecting
	t.mu.Unlock()
}

func (t *Transport) Connect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return &coremqtt.ConnectionError{Broker: "memory", Err: t.connectErr}
	}
	t.state = coremqtt.StateConnected
	return nil
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	state, perr := t.state, t.publishErr
	t.mu.Unlock()
	if state != coremqtt.StateConnected {
		return &coremqtt.PublishError{Topic: topic, Err: coremqtt.ErrNotConnected}
	}
	if perr != nil {
		return &coremqtt.PublishError{Topic: topic, Err: perr}
	}
	t.broker.route(ctx, topic, payload)
	return nil
}

func (t *Transport) Subscribe(pattern string, handler coremqtt.Handler) error {
	if handler == nil {
		return errors.New("nil handler")
	}
	t.mu.Lock()
	t.subs[pattern] = handler
	t.mu.Unlock()
	return nil
}

func (t *Transport) Unsubscribe(pattern string) error {
	t.mu.Lock()
	delete(t.subs, pattern)
	t.mu.Unlock()
	return nil
}

func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.state = coremqtt.StateDisconnected
	t.mu.Unlock()
}

func (t *Transport) State() coremqtt.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscriptions returns the registered patterns.
func (t *Transport) Subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.subs))
	for p := range t.subs {
		out = append(out, p)
	}
	return out
}

// handlers returns the handlers matching topic while connected.
func (t *Transport) handlers(topic string) []coremqtt.Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != coremqtt.StateConnected {
		return nil
	}
	var hs []coremqtt.Handler
	for p, h := range t.subs {
		if Match(p, topic) {
			hs = append(hs, h)
		}
	}
	return hs
}

// Match reports whether topic matches the MQTT filter pattern.
func Match(pattern, topic string) bool {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")
	for i, p := range ps {
		if p == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if p != "+" && p != ts[i] {
			return false
		}
	}
	return len(ps) == len(ts)
}
