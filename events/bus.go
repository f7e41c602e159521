// Package events dispatches domain events collected during a unit of work.
// Events are staged on the UoW and persisted atomically with its rows; after
// commit the bus drains synchronous handlers in registration order and hands
// the batch to a bounded worker pool for the asynchronous ones. Handler
// failures never unwind a commit: the events are already durable, so
// failures are logged, counted, and fed to the dead-letter list.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccmanuelf/kpi-operations-sub013/common"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/metrics"
	"github.com/ccmanuelf/kpi-operations-sub013/worker"
)

// Handler processes events. Matches filters by event type; Handle runs with
// a per-invocation deadline for sync handlers and on a pool goroutine for
// async ones. Implementations must be idempotent: replay after a restart
// re-delivers persisted events.
type Handler interface {
	Name() string
	Matches(eventType string) bool
	Handle(ctx context.Context, ev domain.Event) error
}

// Source reads back persisted events for replay and acknowledges completed
// async dispatch. The repository store satisfies it.
type Source interface {
	PendingEvents(ctx context.Context, limit int) ([]domain.EventRecord, error)
	MarkDispatched(ctx context.Context, eventIDs []string) error
}

// maxFailures moves an event to the dead-letter list once its async
// handlers have failed this many times in total.
const maxFailures = 3

// Bus is the process-wide event bus. It is constructed once, handlers are
// registered before Start, and the handle is injected everywhere it is
// consumed.
type Bus struct {
	source      Source
	metrics     *metrics.Metrics
	dead        *DeadLetter
	pool        *worker.Pool
	syncTimeout time.Duration

	mu       sync.RWMutex
	sync     []Handler
	async    []Handler
	failures map[string]int
}

// Config tunes the bus.
type Config struct {
	Workers      int
	QueueDepth   int
	SyncTimeout  time.Duration
	CriticalWait time.Duration
}

// NewBus builds a stopped bus.
func NewBus(cfg Config, source Source, m *metrics.Metrics) *Bus {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 2 * time.Second
	}
	b := &Bus{
		source:      source,
		metrics:     m,
		dead:        NewDeadLetter(m),
		syncTimeout: cfg.SyncTimeout,
		failures:    map[string]int{},
	}
	b.pool = worker.NewPool(worker.Config{
		Workers:      cfg.Workers,
		QueueDepth:   cfg.QueueDepth,
		CriticalWait: cfg.CriticalWait,
	}, b.handleAsync, m)
	return b
}

// RegisterSync appends a synchronous handler; commit-time drain preserves
// registration order.
func (b *Bus) RegisterSync(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sync = append(b.sync, h)
}

// RegisterAsync appends an asynchronous handler; ordering across async
// handlers is not guaranteed.
func (b *Bus) RegisterAsync(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.async = append(b.async, h)
}

// Start launches the async worker pool.
func (b *Bus) Start() { b.pool.Start() }

// Stop closes intake and drains workers within the grace window. Events
// still queued remain in the event store for replay.
func (b *Bus) Stop(grace time.Duration) { b.pool.Stop(grace) }

// DeadLetter exposes the failure list for operator surfaces.
func (b *Bus) DeadLetter() *DeadLetter { return b.dead }

// FlushSync drains synchronous handlers for a committed batch. It satisfies
// repository.EventFlusher and runs on the committing goroutine: each handler
// gets a bounded deadline, panics are captured, and failures surface only as
// log warnings because the commit already stands.
func (b *Bus) FlushSync(ctx context.Context, events []domain.Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.sync...)
	b.mu.RUnlock()

	for _, ev := range events {
		for _, h := range handlers {
			if !h.Matches(ev.Type) {
				continue
			}
			b.invoke(ctx, h, ev, "sync")
		}
	}
}

// DispatchAsync enqueues a committed batch on the worker pool. Critical
// events that cannot be admitted within the bounded wait go straight to the
// dead-letter list; they stay replayable from the event store.
func (b *Bus) DispatchAsync(events []domain.Event) {
	for _, ev := range events {
		if !b.pool.Enqueue(ev) && ev.Critical() {
			b.dead.Add(ev, "async queue saturated")
		}
	}
}

// handleAsync runs every matching async handler for one event. When all
// matching handlers succeed the event is acknowledged in the store; after
// repeated failures the event moves to the dead-letter list and is
// acknowledged anyway so replay does not loop on it.
func (b *Bus) handleAsync(ctx context.Context, ev domain.Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.async...)
	b.mu.RUnlock()

	failed := false
	for _, h := range handlers {
		if !h.Matches(ev.Type) {
			continue
		}
		if err := b.invoke(ctx, h, ev, "async"); err != nil {
			failed = true
		}
	}

	if !failed {
		b.ack(ctx, ev)
		b.mu.Lock()
		delete(b.failures, ev.EventID)
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	b.failures[ev.EventID]++
	n := b.failures[ev.EventID]
	if n >= maxFailures {
		delete(b.failures, ev.EventID)
	}
	b.mu.Unlock()

	if n >= maxFailures {
		b.dead.Add(ev, "handler failed repeatedly")
		b.ack(ctx, ev)
	}
}

func (b *Bus) ack(ctx context.Context, ev domain.Event) {
	if b.source == nil {
		return
	}
	if err := b.source.MarkDispatched(ctx, []string{ev.EventID}); err != nil {
		common.Logger.WithError(err).WithField("event_id", ev.EventID).
			Warn("failed to acknowledge dispatched event")
	}
}

// invoke runs one handler with panic capture and a bounded deadline.
func (b *Bus) invoke(ctx context.Context, h Handler, ev domain.Event, class string) (err error) {
	hctx, cancel := context.WithTimeout(ctx, b.syncTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = domain.Internal(nil, "event handler panicked")
			common.Logger.WithFields(logrus.Fields{
				"handler":    h.Name(),
				"event_id":   ev.EventID,
				"event_type": ev.Type,
				"panic":      r,
			}).Error("event handler panicked")
			if b.metrics != nil {
				b.metrics.EventsFailed.WithLabelValues(ev.Type, h.Name()).Inc()
			}
		}
	}()

	if b.metrics != nil {
		b.metrics.EventsDispatched.WithLabelValues(ev.Type, class).Inc()
	}
	if err = h.Handle(hctx, ev); err != nil {
		common.Logger.WithError(err).WithFields(logrus.Fields{
			"handler":    h.Name(),
			"event_id":   ev.EventID,
			"event_type": ev.Type,
			"class":      class,
		}).Warn("event handler failed")
		if b.metrics != nil {
			b.metrics.EventsFailed.WithLabelValues(ev.Type, h.Name()).Inc()
		}
	}
	return err
}

// Replay re-enqueues persisted events that async handlers never
// acknowledged, oldest first. Handlers must be idempotent.
func (b *Bus) Replay(ctx context.Context, limit int) (int, error) {
	records, err := b.source.PendingEvents(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		ev := domain.Event{
			EventID:       rec.EventID,
			Type:          rec.EventType,
			AggregateType: rec.AggregateType,
			AggregateID:   rec.AggregateID,
			ClientID:      rec.ClientID,
			OccurredAt:    rec.OccurredAt,
			TriggeredBy:   rec.TriggeredBy,
		}
		if len(rec.Payload) > 0 {
			if err := json.Unmarshal(rec.Payload, &ev.Payload); err != nil {
				common.Logger.WithError(err).WithField("event_id", rec.EventID).
					Warn("skipping replay of event with unreadable payload")
				continue
			}
		}
		b.pool.Enqueue(ev)
	}
	if len(records) > 0 {
		common.Logger.WithField("count", len(records)).Info("replaying pending events")
	}
	return len(records), nil
}
