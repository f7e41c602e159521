// Package worker runs the bounded pool that drives asynchronous event
// handlers. Events enter a FIFO queue of fixed depth; under saturation
// non-critical events evict the oldest non-critical entry, while critical
// events block for a bounded wait and report failure instead of silent loss.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccmanuelf/kpi-operations-sub013/common"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/metrics"
)

// Process is the per-event callback the pool invokes on a worker goroutine.
type Process func(ctx context.Context, ev domain.Event)

// Config sizes the pool.
type Config struct {
	// Workers is the number of concurrent handler goroutines.
	Workers int

	// QueueDepth bounds the FIFO queue.
	QueueDepth int

	// CriticalWait bounds how long a critical enqueue blocks on saturation.
	CriticalWait time.Duration
}

// Pool is the async dispatch pool.
type Pool struct {
	cfg     Config
	process Process
	metrics *metrics.Metrics

	mu     sync.Mutex
	queue  []domain.Event
	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewPool builds a stopped pool. Zero or negative sizes fall back to one
// worker and a depth of one.
func NewPool(cfg Config, process Process, m *metrics.Metrics) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	if cfg.CriticalWait <= 0 {
		cfg.CriticalWait = 100 * time.Millisecond
	}
	return &Pool{
		cfg:     cfg,
		process: process,
		metrics: m,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	common.Logger.WithFields(logrus.Fields{
		"workers":     p.cfg.Workers,
		"queue_depth": p.cfg.QueueDepth,
	}).Info("starting event worker pool")
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Enqueue offers an event to the queue and reports whether it was accepted.
// Callers dead-letter rejected critical events.
func (p *Pool) Enqueue(ev domain.Event) bool {
	if p.tryEnqueue(ev) {
		return true
	}
	if !ev.Critical() {
		// Saturated: replace the oldest non-critical entry.
		if p.replaceOldest(ev) {
			return true
		}
		common.Logger.WithFields(logrus.Fields{
			"event_id":   ev.EventID,
			"event_type": ev.Type,
		}).Warn("async queue saturated, event dropped")
		if p.metrics != nil {
			p.metrics.EventsDropped.Inc()
		}
		return false
	}

	deadline := time.Now().Add(p.cfg.CriticalWait)
	for time.Now().Before(deadline) {
		select {
		case <-p.stop:
			return false
		case <-time.After(5 * time.Millisecond):
		}
		if p.tryEnqueue(ev) {
			return true
		}
	}
	return false
}

func (p *Pool) tryEnqueue(ev domain.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.queue) >= p.cfg.QueueDepth {
		return false
	}
	p.queue = append(p.queue, ev)
	p.gauge()
	p.wake()
	return true
}

// replaceOldest evicts the oldest non-critical queued event to admit ev.
func (p *Pool) replaceOldest(ev domain.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	for i, queued := range p.queue {
		if queued.Critical() {
			continue
		}
		common.Logger.WithFields(logrus.Fields{
			"evicted_event_id": queued.EventID,
			"evicted_type":     queued.Type,
			"event_id":         ev.EventID,
		}).Warn("async queue saturated, oldest non-critical event replaced")
		if p.metrics != nil {
			p.metrics.EventsDropped.Inc()
		}
		p.queue = append(p.queue[:i], p.queue[i+1:]...)
		p.queue = append(p.queue, ev)
		p.gauge()
		p.wake()
		return true
	}
	return false
}

func (p *Pool) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pool) gauge() {
	if p.metrics != nil {
		p.metrics.EventQueueDepth.Set(float64(len(p.queue)))
	}
}

func (p *Pool) pop() (domain.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return domain.Event{}, false
	}
	ev := p.queue[0]
	p.queue = p.queue[1:]
	p.gauge()
	if len(p.queue) > 0 {
		p.wake()
	}
	return ev, true
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		ev, ok := p.pop()
		if ok {
			p.process(context.Background(), ev)
			continue
		}
		select {
		case <-p.stop:
			// Drain what is left, then exit.
			for {
				ev, ok := p.pop()
				if !ok {
					return
				}
				p.process(context.Background(), ev)
			}
		case <-p.notify:
		}
	}
}

// Stop closes the intake and waits up to grace for the workers to drain.
// Events still queued past the grace window stay in the event store and
// replay on the next start.
func (p *Pool) Stop(grace time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.stop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		common.Logger.Info("event worker pool drained")
	case <-time.After(grace):
		common.Logger.Warn("event worker pool stopped before draining; pending events remain replayable")
	}
}

// Depth reports the current queue length.
func (p *Pool) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
