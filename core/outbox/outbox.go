// Package outbox queues user notifications in memory and delivers them
// through a push channel on a fixed cadence.
//
// Delivery is at-least-once while the process lives: a failed send puts the
// item back at the tail of the queue for the next flush. There is no retry
// cap, no backoff and no persistence, so notifications for a user who never
// connects accumulate until the process restarts.
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/fleetiot/core/logger"
	coremetrics "github.com/kilianp07/fleetiot/core/metrics"
	"github.com/kilianp07/fleetiot/core/push"
)

// Notification event names.
const (
	EventVehicleStatus   = "vehicleStatus"
	EventCommandResponse = "commandResponse"
)

// Item is one pending notification.
type Item struct {
	UserID     string
	Event      string
	Payload    any
	EnqueuedAt time.Time
}

type entry struct {
	item     Item
	attempts int
}

// Config holds the flush cadence.
type Config struct {
	FlushIntervalMS int `json:"flush_interval_ms"`
	SendTimeoutMS   int `json:"send_timeout_ms"`
}

// SetDefaults applies a 10s flush interval and a 5s send timeout.
func (c *Config) SetDefaults() {
	if c.FlushIntervalMS == 0 {
		c.FlushIntervalMS = 10000
	}
	if c.SendTimeoutMS == 0 {
		c.SendTimeoutMS = 5000
	}
}

// Validate rejects non-positive durations.
func (c Config) Validate() error {
	if c.FlushIntervalMS <= 0 {
		return fmt.Errorf("outbox flush_interval_ms must be positive")
	}
	if c.SendTimeoutMS <= 0 {
		return fmt.Errorf("outbox send_timeout_ms must be positive")
	}
	return nil
}

// Option customizes an Outbox.
type Option func(*Outbox)

// WithLogger sets the outbox logger.
func WithLogger(l logger.Logger) Option { return func(o *Outbox) { o.log = l } }

// WithMetrics records deliveries and queue depth on sink when it implements
// the matching recorders.
func WithMetrics(sink coremetrics.MetricsSink) Option {
	return func(o *Outbox) {
		o.deliveries, o.depth, _, _ = coremetrics.Recorders(sink)
	}
}

// Outbox is an unbounded FIFO of notifications safe for concurrent use.
type Outbox struct {
	channel     push.Channel
	interval    time.Duration
	sendTimeout time.Duration
	log         logger.Logger
	deliveries  coremetrics.DeliveryRecorder
	depth       coremetrics.QueueDepthRecorder

	mu    sync.Mutex
	queue []entry

	// flushMu serializes flushes so each one sees a stable snapshot size.
	flushMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an empty outbox delivering through ch.
func New(ch push.Channel, cfg Config, opts ...Option) *Outbox {
	cfg.SetDefaults()
	o := &Outbox{
		channel:     ch,
		interval:    time.Duration(cfg.FlushIntervalMS) * time.Millisecond,
		sendTimeout: time.Duration(cfg.SendTimeoutMS) * time.Millisecond,
		log:         logger.Nop{},
		deliveries:  coremetrics.NopSink{},
		depth:       coremetrics.NopSink{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enqueue appends a notification to the tail and returns immediately.
func (o *Outbox) Enqueue(userID, event string, payload any) {
	o.mu.Lock()
	o.queue = append(o.queue, entry{item: Item{UserID: userID, Event: event, Payload: payload, EnqueuedAt: time.Now()}})
	n := len(o.queue)
	o.mu.Unlock()
	_ = o.depth.RecordQueueDepth(n)
}

// Len returns the number of queued items, excluding any being sent.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Pending returns a copy of the queued items in order.
func (o *Outbox) Pending() []Item {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Item, len(o.queue))
	for i, e := range o.queue {
		out[i] = e.item
	}
	return out
}

// FlushResult summarizes one flush.
type FlushResult struct {
	Delivered int
	Requeued  int
}

// Flush attempts every item queued when it starts, front to back. Failed
// items go back to the tail and are not retried before the next flush.
// Items enqueued during the flush wait for the next one as well. A cancelled
// ctx stops the flush early; unattempted items keep their position.
func (o *Outbox) Flush(ctx context.Context) FlushResult {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	o.mu.Lock()
	n := len(o.queue)
	o.mu.Unlock()

	var res FlushResult
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		o.mu.Lock()
		e := o.queue[0]
		o.queue[0] = entry{}
		o.queue = o.queue[1:]
		o.mu.Unlock()

		e.attempts++
		start := time.Now()
		err := o.send(ctx, e.item)
		ev := coremetrics.DeliveryEvent{UserID: e.item.UserID, Event: e.item.Event, Latency: time.Since(start), Time: start}
		if err != nil {
			o.mu.Lock()
			o.queue = append(o.queue, e)
			o.mu.Unlock()
			res.Requeued++
			ev.Outcome = coremetrics.OutcomeRequeued
			o.log.Warnf("deliver %s to %s failed (attempt %d): %v", e.item.Event, e.item.UserID, e.attempts, err)
		} else {
			res.Delivered++
			ev.Outcome = coremetrics.OutcomeDelivered
		}
		_ = o.deliveries.RecordDelivery(ev)
	}
	_ = o.depth.RecordQueueDepth(o.Len())
	if res.Delivered+res.Requeued > 0 {
		o.log.Debugf("flush: %d delivered, %d requeued", res.Delivered, res.Requeued)
	}
	return res
}

func (o *Outbox) send(ctx context.Context, it Item) (err error) {
	ctx, cancel := context.WithTimeout(ctx, o.sendTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("push channel panic: %v", r)
		}
	}()
	return o.channel.SendToUser(ctx, it.UserID, it.Event, it.Payload)
}

// Start launches the periodic flush loop. It is a no-op when the loop is
// already running. The loop ends when ctx is done or Stop is called.
func (o *Outbox) Start(ctx context.Context) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.run(ctx, o.done)
	o.log.Infof("outbox worker started (interval %s)", o.interval)
}

func (o *Outbox) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// a started flush runs to completion even if stop arrives meanwhile
			o.Flush(context.WithoutCancel(ctx))
		}
	}
}

// Stop ends the flush loop and waits for an in-flight flush to finish.
func (o *Outbox) Stop() {
	o.runMu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	o.log.Infof("outbox worker stopped with %d pending", o.Len())
}
