package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
	"github.com/kilianp07/fleetiot/infra/logger"
	"github.com/kilianp07/fleetiot/internal/eventbus"
)

// pahoClient is the subset of paho.Client used by Client.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// handlerDrainTimeout bounds how long Disconnect waits for in-flight handlers.
const handlerDrainTimeout = 5 * time.Second

// Option customizes a Client.
type Option func(*Client)

// WithLogger replaces the component logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithStateHandler registers a callback invoked synchronously on every state
// transition.
func WithStateHandler(fn func(coremqtt.StateChange)) Option {
	return func(c *Client) { c.onState = fn }
}

// Client implements coremqtt.Transport on top of Eclipse Paho. It owns one
// broker session, reconnects with a fixed delay after an unexpected loss and
// re-registers subscriptions on every successful connect.
type Client struct {
	cfg       Config
	component string
	log       logger.Logger
	onState   func(coremqtt.StateChange)
	states    *eventbus.TypedBus[coremqtt.StateChange]

	mu           sync.Mutex
	cli          pahoClient
	state        coremqtt.State
	subs         map[string]coremqtt.Handler
	lanes        *dispatcher
	stop         chan struct{}
	closing      bool
	reconnecting bool
	loops        sync.WaitGroup
}

var _ coremqtt.Transport = (*Client)(nil)

// NewClient prepares a Client; no network activity happens before Connect.
func NewClient(cfg Config, component string, opts ...Option) *Client {
	cfg.SetDefaults()
	c := &Client{
		cfg:       cfg,
		component: component,
		log:       logger.New(component + "_mqtt"),
		states:    eventbus.NewTyped[coremqtt.StateChange](),
		subs:      make(map[string]coremqtt.Handler),
		stop:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() coremqtt.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WatchState returns a channel receiving state transitions. Slow readers miss
// transitions rather than blocking the client.
func (c *Client) WatchState() <-chan coremqtt.StateChange {
	return c.states.Subscribe()
}

// UnwatchState releases a channel returned by WatchState.
func (c *Client) UnwatchState(ch <-chan coremqtt.StateChange) {
	c.states.Unsubscribe(ch)
}

// Connect opens the broker session. A failure is returned as
// *coremqtt.ConnectionError and is not retried. While a reconnect loop owns
// the session Connect is a no-op. A Disconnect during the dial aborts it.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == coremqtt.StateConnected || c.state == coremqtt.StateConnecting || c.reconnecting {
		c.mu.Unlock()
		return nil
	}
	if c.closing {
		c.closing = false
		c.stop = make(chan struct{})
	}
	if c.lanes == nil {
		c.lanes = newDispatcher(c.component, c.log)
	}
	stop := c.stop
	c.loops.Add(1)
	c.mu.Unlock()
	defer c.loops.Done()

	opts, err := NewClientOptions(c.cfg)
	if err != nil {
		return &coremqtt.ConnectionError{Broker: c.cfg.BrokerURL(), Err: err}
	}
	opts.SetConnectionLostHandler(c.onConnectionLost)
	cli := newMQTTClient(opts)

	c.mu.Lock()
	c.cli = cli
	c.mu.Unlock()
	c.setState(coremqtt.StateConnecting, nil)

	dialCtx, cancel := stopContext(ctx, stop)
	defer cancel()
	err = c.dial(dialCtx, cli)

	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		cli.Disconnect(250)
		if err == nil {
			err = errors.New("disconnected while connecting")
		}
	}
	if err != nil {
		c.setState(coremqtt.StateDisconnected, err)
		return &coremqtt.ConnectionError{Broker: c.cfg.BrokerURL(), Err: err}
	}
	c.log.Infof("connected to %s", c.cfg.BrokerURL())
	c.resubscribe(dialCtx, cli)
	c.setState(coremqtt.StateConnected, nil)
	return nil
}

// stopContext derives a context from parent that is also canceled when stop
// closes.
func stopContext(parent context.Context, stop <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (c *Client) dial(ctx context.Context, cli pahoClient) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.connectTimeout())
	defer cancel()
	return waitToken(ctx, cli.Connect())
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.mu.Lock()
	if c.closing || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	cli := c.cli
	stop := c.stop
	c.loops.Add(1)
	c.mu.Unlock()

	c.log.Errorf("connection lost: %v", err)
	c.setState(coremqtt.StateReconnecting, err)
	go c.reconnectLoop(cli, stop)
}

// reconnectLoop retries the connection every reconnect delay until it
// succeeds or Disconnect is called. Attempts are independent; the delay never
// grows.
func (c *Client) reconnectLoop(cli pahoClient, stop <-chan struct{}) {
	defer c.loops.Done()
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()
	delay := c.cfg.reconnectDelay()
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		ctx, cancel := stopContext(context.Background(), stop)
		err := c.dial(ctx, cli)
		if err == nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if closing {
				cancel()
				cli.Disconnect(250)
				return
			}
			c.log.Infof("reconnected to %s after %d attempt(s)", c.cfg.BrokerURL(), attempt)
			c.resubscribe(ctx, cli)
			cancel()
			c.setState(coremqtt.StateConnected, nil)
			return
		}
		cancel()
		c.log.Warnf("reconnect attempt %d failed: %v", attempt, err)
	}
}

// Publish sends payload on topic. It fails fast with ErrNotConnected while
// the session is down.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	cli, state := c.cli, c.state
	c.mu.Unlock()
	if cli == nil || state != coremqtt.StateConnected {
		return &coremqtt.PublishError{Topic: topic, Err: coremqtt.ErrNotConnected}
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.publishTimeout())
	defer cancel()
	if err := waitToken(ctx, cli.Publish(topic, c.cfg.QoS, false, payload)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = coremqtt.ErrPublishTimeout
		}
		return &coremqtt.PublishError{Topic: topic, Err: err}
	}
	return nil
}

// Subscribe registers handler for pattern. When connected the broker
// subscription is made immediately, otherwise on the next connect.
func (c *Client) Subscribe(pattern string, handler coremqtt.Handler) error {
	if handler == nil {
		return fmt.Errorf("nil handler for %s", pattern)
	}
	c.mu.Lock()
	c.subs[pattern] = handler
	cli, state := c.cli, c.state
	c.mu.Unlock()
	if cli == nil || state != coremqtt.StateConnected {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.connectTimeout())
	defer cancel()
	if err := waitToken(ctx, cli.Subscribe(pattern, c.cfg.QoS, c.route(pattern))); err != nil {
		c.mu.Lock()
		delete(c.subs, pattern)
		c.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	c.log.Debugf("subscribed to %s", pattern)
	return nil
}

// Unsubscribe removes the handler for pattern.
func (c *Client) Unsubscribe(pattern string) error {
	c.mu.Lock()
	_, ok := c.subs[pattern]
	delete(c.subs, pattern)
	cli, state := c.cli, c.state
	c.mu.Unlock()
	if !ok || cli == nil || state != coremqtt.StateConnected {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.connectTimeout())
	defer cancel()
	if err := waitToken(ctx, cli.Unsubscribe(pattern)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", pattern, err)
	}
	return nil
}

// Disconnect stops the reconnect loop, closes the session and waits a
// bounded time for in-flight handlers.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	close(c.stop)
	cli := c.cli
	lanes := c.lanes
	c.lanes = nil
	c.mu.Unlock()

	c.loops.Wait()
	if cli != nil && cli.IsConnected() {
		cli.Disconnect(250)
	}
	if lanes != nil && !lanes.close(handlerDrainTimeout) {
		c.log.Warnf("handlers still running after %s", handlerDrainTimeout)
	}
	c.setState(coremqtt.StateDisconnected, nil)
}

// Close disconnects and releases state watchers.
func (c *Client) Close() {
	c.Disconnect()
	c.states.Close()
}

// route returns the paho callback for pattern. The payload is copied and
// handed to the dispatcher so the paho router is never blocked by a handler.
func (c *Client) route(pattern string) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		c.mu.Lock()
		h, ok := c.subs[pattern]
		lanes := c.lanes
		c.mu.Unlock()
		if !ok || lanes == nil {
			return
		}
		payload := append([]byte(nil), msg.Payload()...)
		if !lanes.dispatch(delivery{topic: msg.Topic(), payload: payload, handler: h}) {
			c.log.Debugf("dropping message on %s during shutdown", msg.Topic())
		}
	}
}

func (c *Client) resubscribe(ctx context.Context, cli pahoClient) {
	c.mu.Lock()
	patterns := make([]string, 0, len(c.subs))
	for p := range c.subs {
		patterns = append(patterns, p)
	}
	c.mu.Unlock()
	for _, p := range patterns {
		if err := waitToken(ctx, cli.Subscribe(p, c.cfg.QoS, c.route(p))); err != nil {
			c.log.Errorf("subscribe %s: %v", p, err)
		}
	}
}

func (c *Client) setState(to coremqtt.State, err error) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.mu.Unlock()

	ch := coremqtt.StateChange{From: from, To: to, Err: err, At: time.Now()}
	c.log.Debugf("state %s -> %s", from, to)
	if c.onState != nil {
		c.onState(ch)
	}
	c.states.Publish(ch)
}

func waitToken(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
