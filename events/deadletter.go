package events

import (
	"sync"
	"time"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/metrics"
)

// DeadEntry is one event parked after repeated handler failures.
type DeadEntry struct {
	Event    domain.Event `json:"event"`
	Reason   string       `json:"reason"`
	ParkedAt time.Time    `json:"parked_at"`
}

// DeadLetter is the in-memory failure list. The bus is its single writer;
// operator surfaces read it concurrently.
type DeadLetter struct {
	mu      sync.RWMutex
	entries []DeadEntry
	metrics *metrics.Metrics
}

// NewDeadLetter builds an empty list.
func NewDeadLetter(m *metrics.Metrics) *DeadLetter {
	return &DeadLetter{metrics: m}
}

// Add parks an event. Duplicate event ids collapse onto the existing entry.
func (d *DeadLetter) Add(ev domain.Event, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.entries {
		if d.entries[i].Event.EventID == ev.EventID {
			d.entries[i].Reason = reason
			d.entries[i].ParkedAt = time.Now().UTC()
			return
		}
	}
	d.entries = append(d.entries, DeadEntry{
		Event:    ev,
		Reason:   reason,
		ParkedAt: time.Now().UTC(),
	})
	if d.metrics != nil {
		d.metrics.EventsDeadLettered.Inc()
		d.metrics.DeadLetterSize.Set(float64(len(d.entries)))
	}
}

// List returns a snapshot of the parked entries, oldest first.
func (d *DeadLetter) List() []DeadEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DeadEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Size reports the current entry count.
func (d *DeadLetter) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Remove drops an entry after an operator resolved or replayed it.
func (d *DeadLetter) Remove(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.entries {
		if d.entries[i].Event.EventID == eventID {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			if d.metrics != nil {
				d.metrics.DeadLetterSize.Set(float64(len(d.entries)))
			}
			return true
		}
	}
	return false
}
