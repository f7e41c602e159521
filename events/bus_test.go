package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

type stubHandler struct {
	name    string
	match   string
	err     error
	panics  bool
	mu      sync.Mutex
	handled []string
}

func (h *stubHandler) Name() string { return h.name }

func (h *stubHandler) Matches(eventType string) bool {
	return h.match == "" || h.match == eventType
}

func (h *stubHandler) Handle(_ context.Context, ev domain.Event) error {
	if h.panics {
		panic("boom")
	}
	h.mu.Lock()
	h.handled = append(h.handled, h.name+":"+ev.EventID)
	h.mu.Unlock()
	return h.err
}

func (h *stubHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.handled))
	copy(out, h.handled)
	return out
}

type stubSource struct {
	mu      sync.Mutex
	pending []domain.EventRecord
	acked   []string
}

func (s *stubSource) PendingEvents(_ context.Context, limit int) ([]domain.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && limit < len(s.pending) {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *stubSource) MarkDispatched(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, ids...)
	return nil
}

func (s *stubSource) ackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.acked))
	copy(out, s.acked)
	return out
}

func testEvent(id, eventType string) domain.Event {
	return domain.Event{
		EventID:    id,
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
}

func TestFlushSyncRunsHandlersInRegistrationOrder(t *testing.T) {
	b := NewBus(Config{}, nil, nil)
	first := &stubHandler{name: "first"}
	second := &stubHandler{name: "second"}
	b.RegisterSync(first)
	b.RegisterSync(second)

	b.FlushSync(context.Background(), []domain.Event{
		testEvent("e1", domain.EventProductionEntryCreated),
	})

	assert.Equal(t, []string{"first:e1"}, first.seen())
	assert.Equal(t, []string{"second:e1"}, second.seen())
}

func TestFlushSyncSkipsNonMatchingHandlers(t *testing.T) {
	b := NewBus(Config{}, nil, nil)
	holds := &stubHandler{name: "holds", match: domain.EventHoldCreated}
	b.RegisterSync(holds)

	b.FlushSync(context.Background(), []domain.Event{
		testEvent("e1", domain.EventProductionEntryCreated),
	})

	assert.Empty(t, holds.seen())
}

func TestFlushSyncSurvivesHandlerPanic(t *testing.T) {
	b := NewBus(Config{}, nil, nil)
	b.RegisterSync(&stubHandler{name: "bad", panics: true})
	after := &stubHandler{name: "after"}
	b.RegisterSync(after)

	require.NotPanics(t, func() {
		b.FlushSync(context.Background(), []domain.Event{
			testEvent("e1", domain.EventProductionEntryCreated),
		})
	})
	assert.Equal(t, []string{"after:e1"}, after.seen(),
		"a panicking handler must not starve the ones after it")
}

func TestAsyncSuccessAcknowledgesEvent(t *testing.T) {
	src := &stubSource{}
	b := NewBus(Config{Workers: 1, QueueDepth: 4}, src, nil)
	h := &stubHandler{name: "ok"}
	b.RegisterAsync(h)
	b.Start()
	defer b.Stop(time.Second)

	b.DispatchAsync([]domain.Event{testEvent("e1", domain.EventProductionEntryCreated)})

	require.Eventually(t, func() bool {
		return len(src.ackedIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"e1"}, src.ackedIDs())
	assert.Equal(t, 0, b.DeadLetter().Size())
}

func TestAsyncDeadLettersAfterRepeatedFailures(t *testing.T) {
	src := &stubSource{}
	b := NewBus(Config{Workers: 1, QueueDepth: 4}, src, nil)
	b.RegisterAsync(&stubHandler{name: "flaky", err: domain.Infra(nil, "downstream down")})

	ev := testEvent("e1", domain.EventHoldCreated)
	for i := 0; i < maxFailures; i++ {
		b.handleAsync(context.Background(), ev)
	}

	assert.Equal(t, 1, b.DeadLetter().Size())
	assert.Equal(t, []string{"e1"}, src.ackedIDs(),
		"parked events are acknowledged so replay does not loop on them")
}

func TestAsyncFailureCounterResetsOnSuccess(t *testing.T) {
	src := &stubSource{}
	b := NewBus(Config{Workers: 1, QueueDepth: 4}, src, nil)
	flaky := &stubHandler{name: "flaky", err: domain.Infra(nil, "blip")}
	b.RegisterAsync(flaky)

	ev := testEvent("e1", domain.EventProductionEntryCreated)
	b.handleAsync(context.Background(), ev)
	b.handleAsync(context.Background(), ev)
	flaky.err = nil
	b.handleAsync(context.Background(), ev)

	assert.Equal(t, 0, b.DeadLetter().Size())
	assert.Equal(t, []string{"e1"}, src.ackedIDs())
}

func TestReplayReenqueuesPendingEvents(t *testing.T) {
	payload, err := json.Marshal(map[string]any{"units": 90})
	require.NoError(t, err)
	src := &stubSource{pending: []domain.EventRecord{
		{
			EventID:       "e1",
			EventType:     domain.EventProductionEntryCreated,
			AggregateType: "ProductionEntry",
			AggregateID:   "PE-1",
			OccurredAt:    time.Now().UTC(),
			Payload:       payload,
		},
		{
			EventID:   "e2",
			EventType: domain.EventHoldCreated,
			Payload:   []byte("{not json"),
		},
	}}
	b := NewBus(Config{Workers: 1, QueueDepth: 4}, src, nil)
	h := &stubHandler{name: "sink"}
	b.RegisterAsync(h)
	b.Start()
	defer b.Stop(time.Second)

	n, err := b.Replay(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The unreadable payload is skipped; the readable one flows through.
	require.Eventually(t, func() bool {
		return len(h.seen()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"sink:e1"}, h.seen())
}

func TestDeadLetterCollapsesDuplicatesAndRemoves(t *testing.T) {
	d := NewDeadLetter(nil)
	ev := testEvent("e1", domain.EventHoldCreated)

	d.Add(ev, "first failure")
	d.Add(ev, "second failure")
	require.Equal(t, 1, d.Size())
	assert.Equal(t, "second failure", d.List()[0].Reason)

	assert.True(t, d.Remove("e1"))
	assert.False(t, d.Remove("e1"))
	assert.Equal(t, 0, d.Size())
}
