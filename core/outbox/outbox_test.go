package outbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/fleetiot/core/push"
)

// flakyChannel fails the first failFirst attempts of every distinct payload.
type flakyChannel struct {
	mu        sync.Mutex
	failFirst int
	attempts  map[string]int
	delivered map[string]int
	always    map[string]bool
}

func newFlaky(k int) *flakyChannel {
	return &flakyChannel{failFirst: k, attempts: map[string]int{}, delivered: map[string]int{}, always: map[string]bool{}}
}

func (f *flakyChannel) SendToUser(_ context.Context, user, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprint(user, "/", event, "/", payload)
	f.attempts[key]++
	if f.always[user] || f.attempts[key] <= f.failFirst {
		return push.ErrUserNotConnected
	}
	f.delivered[key]++
	return nil
}

func TestFlushDeliversAfterKFailures(t *testing.T) {
	const n, k = 5, 3
	ch := newFlaky(k)
	o := New(ch, Config{})
	for i := 0; i < n; i++ {
		o.Enqueue("u1", EventVehicleStatus, i)
	}
	for cycle := 1; cycle <= k+1; cycle++ {
		res := o.Flush(context.Background())
		if cycle <= k && (res.Requeued != n || res.Delivered != 0) {
			t.Fatalf("cycle %d: %+v", cycle, res)
		}
	}
	if o.Len() != 0 {
		t.Fatalf("queue not drained after %d cycles: %d left", k+1, o.Len())
	}
	for i := 0; i < n; i++ {
		key := fmt.Sprint("u1/", EventVehicleStatus, "/", i)
		if ch.delivered[key] != 1 || ch.attempts[key] != k+1 {
			t.Fatalf("item %d delivered %d times in %d attempts", i, ch.delivered[key], ch.attempts[key])
		}
	}
}

func TestFlushFairness(t *testing.T) {
	ch := newFlaky(0)
	ch.always["userA"] = true
	o := New(ch, Config{})
	o.Enqueue("userA", EventCommandResponse, "a")
	o.Enqueue("userB", EventCommandResponse, "b")

	res := o.Flush(context.Background())
	if res.Delivered != 1 || res.Requeued != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	pending := o.Pending()
	if len(pending) != 1 || pending[0].UserID != "userA" {
		t.Fatalf("expected only userA pending, got %+v", pending)
	}
	if ch.attempts["userA/"+EventCommandResponse+"/a"] != 1 {
		t.Fatalf("failed item retried within one flush")
	}
}

func TestFlushPreservesOrderOfRequeued(t *testing.T) {
	ch := newFlaky(1)
	o := New(ch, Config{})
	for _, p := range []string{"a", "b", "c"} {
		o.Enqueue("u", EventVehicleStatus, p)
	}
	o.Flush(context.Background())
	var got []any
	for _, it := range o.Pending() {
		got = append(got, it.Payload)
	}
	if fmt.Sprint(got) != "[a b c]" {
		t.Fatalf("order after requeue %v", got)
	}
}

// reentrantChannel enqueues a new item while the first send is running.
type reentrantChannel struct {
	o    *Outbox
	once sync.Once
	sent []any
}

func (r *reentrantChannel) SendToUser(_ context.Context, _, _ string, payload any) error {
	r.once.Do(func() { r.o.Enqueue("u", EventVehicleStatus, "late") })
	r.sent = append(r.sent, payload)
	return nil
}

func TestFlushBoundedBySnapshot(t *testing.T) {
	ch := &reentrantChannel{}
	o := New(ch, Config{})
	ch.o = o
	o.Enqueue("u", EventVehicleStatus, "first")
	res := o.Flush(context.Background())
	if res.Delivered != 1 || len(ch.sent) != 1 {
		t.Fatalf("flush went past its snapshot: %+v %v", res, ch.sent)
	}
	if o.Len() != 1 {
		t.Fatalf("late item should wait for next flush")
	}
}

type blockingChannel struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingChannel) SendToUser(ctx context.Context, _, _ string, _ any) error {
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestEnqueueDoesNotWaitForSend(t *testing.T) {
	ch := &blockingChannel{entered: make(chan struct{}, 1), release: make(chan struct{})}
	o := New(ch, Config{})
	o.Enqueue("u", EventVehicleStatus, 1)
	go o.Flush(context.Background())
	<-ch.entered

	done := make(chan struct{})
	go func() {
		o.Enqueue("u", EventVehicleStatus, 2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked behind an in-flight send")
	}
	close(ch.release)
}

func TestFlushStopsOnCancelledContext(t *testing.T) {
	ch := newFlaky(0)
	o := New(ch, Config{})
	o.Enqueue("u", EventVehicleStatus, 1)
	o.Enqueue("u", EventVehicleStatus, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := o.Flush(ctx)
	if res.Delivered+res.Requeued != 0 || o.Len() != 2 {
		t.Fatalf("cancelled flush touched the queue: %+v len=%d", res, o.Len())
	}
}

func TestSendTimeoutRequeues(t *testing.T) {
	ch := &blockingChannel{entered: make(chan struct{}, 1), release: make(chan struct{})}
	o := New(ch, Config{SendTimeoutMS: 20})
	o.Enqueue("u", EventVehicleStatus, 1)
	res := o.Flush(context.Background())
	if res.Requeued != 1 || o.Len() != 1 {
		t.Fatalf("timed out send not requeued: %+v", res)
	}
}

type panicChannel struct{}

func (panicChannel) SendToUser(context.Context, string, string, any) error { panic("boom") }

func TestPanickingChannelRequeues(t *testing.T) {
	o := New(panicChannel{}, Config{})
	o.Enqueue("u", EventVehicleStatus, 1)
	if res := o.Flush(context.Background()); res.Requeued != 1 {
		t.Fatalf("panic not treated as failure: %+v", res)
	}
}

type countingChannel struct {
	mu    sync.Mutex
	count int
}

func (c *countingChannel) SendToUser(context.Context, string, string, any) error {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return nil
}

func (c *countingChannel) n() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func TestWorkerFlushesPeriodically(t *testing.T) {
	ch := &countingChannel{}
	o := New(ch, Config{FlushIntervalMS: 10})
	o.Start(context.Background())
	o.Start(context.Background())
	o.Enqueue("u", EventVehicleStatus, 1)

	deadline := time.Now().Add(2 * time.Second)
	for ch.n() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	o.Stop()
	if ch.n() != 1 {
		t.Fatalf("delivered %d times", ch.n())
	}
	o.Enqueue("u", EventVehicleStatus, 2)
	time.Sleep(50 * time.Millisecond)
	if ch.n() != 1 || o.Len() != 1 {
		t.Fatalf("flush ran after Stop")
	}
	o.Stop()
}

func TestStopWaitsForInFlightFlush(t *testing.T) {
	ch := &blockingChannel{entered: make(chan struct{}, 1), release: make(chan struct{})}
	o := New(ch, Config{FlushIntervalMS: 5, SendTimeoutMS: 5000})
	o.Enqueue("u", EventVehicleStatus, 1)
	o.Start(context.Background())
	<-ch.entered

	stopped := make(chan struct{})
	go func() {
		o.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatalf("Stop returned while a flush was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(ch.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("Stop did not return")
	}
	if o.Len() != 0 {
		t.Fatalf("in-flight item should complete delivery, %d pending", o.Len())
	}
}

func TestConfigValidate(t *testing.T) {
	var c Config
	c.SetDefaults()
	if c.FlushIntervalMS != 10000 {
		t.Fatalf("default interval %d", c.FlushIntervalMS)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	c.FlushIntervalMS = -1
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}
