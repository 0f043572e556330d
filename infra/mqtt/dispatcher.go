package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/fleetiot/core/monitoring"
	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
	"github.com/kilianp07/fleetiot/infra/logger"
)

type delivery struct {
	topic   string
	payload []byte
	handler coremqtt.Handler
}

type lane struct {
	queue []delivery
}

// dispatcher runs handlers off the network read path. Messages sharing a
// topic are handled one at a time in arrival order; distinct topics run on
// independent goroutines. A lane goroutine exits as soon as its queue is
// empty.
type dispatcher struct {
	component string
	log       logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

func newDispatcher(component string, log logger.Logger) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &dispatcher{
		component: component,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		lanes:     make(map[string]*lane),
	}
}

// dispatch queues d on the lane of its topic. It reports false once the
// dispatcher is closed.
func (p *dispatcher) dispatch(d delivery) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	if l, ok := p.lanes[d.topic]; ok {
		l.queue = append(l.queue, d)
		p.mu.Unlock()
		return true
	}
	l := &lane{queue: []delivery{d}}
	p.lanes[d.topic] = l
	p.wg.Add(1)
	p.mu.Unlock()
	go p.run(d.topic, l)
	return true
}

func (p *dispatcher) run(key string, l *lane) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		if len(l.queue) == 0 {
			delete(p.lanes, key)
			p.mu.Unlock()
			return
		}
		d := l.queue[0]
		l.queue[0] = delivery{}
		l.queue = l.queue[1:]
		p.mu.Unlock()
		p.invoke(d)
	}
}

func (p *dispatcher) invoke(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			err := monitoring.CapturePanic(r, map[string]string{
				"module":    "mqtt",
				"component": p.component,
				"topic":     d.topic,
			})
			p.log.Errorf("handler panic on %s: %v", d.topic, err)
		}
	}()
	if err := d.handler(p.ctx, d.topic, d.payload); err != nil {
		p.log.Errorf("handler error on %s: %v", d.topic, err)
	}
}

// close refuses new deliveries and waits up to timeout for queued ones. When
// the timeout expires the handler context is cancelled and close returns
// false without waiting further.
func (p *dispatcher) close(timeout time.Duration) bool {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		p.cancel()
		return true
	case <-timer.C:
		p.cancel()
		return false
	}
}
