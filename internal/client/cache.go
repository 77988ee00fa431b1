// Package client implements the device side of the synchronization protocol:
// a reconciler that merges broadcast events into a local activity cache, a
// reconnection controller with bounded retry, and a websocket client tying
// them to the transport.
package client

import (
	"math"
	"sync"
	"time"

	"github.com/nestlinghq/nestling/backend/internal/activity"
	"github.com/nestlinghq/nestling/backend/internal/realtime"
)

// Stats summarizes one calendar day of activity.
type Stats struct {
	FeedingCount int     `json:"feedingCount"`
	SleepHours   float64 `json:"sleepHours"`
	DiaperCount  int     `json:"diaperCount"`
}

// Reconciler maintains the device-local ordered cache of activities and
// applies inbound sync/create/update/delete events. The cache holds at most
// one entry per activity identifier; an id index keeps reconcile operations
// O(1) instead of scanning the slice per message.
type Reconciler struct {
	mu       sync.RWMutex
	deviceID string
	items    []activity.Record
	index    map[string]int
}

func NewReconciler(deviceID string) *Reconciler {
	return &Reconciler{
		deviceID: deviceID,
		index:    make(map[string]int),
	}
}

// DeviceID returns the identifier used for self-echo suppression.
func (r *Reconciler) DeviceID() string {
	return r.deviceID
}

// Apply merges an inbound event into the cache. Events originating from this
// device are discarded unconditionally, whatever their kind. Unknown event
// kinds are ignored.
func (r *Reconciler) Apply(event realtime.Event) {
	if event.SenderID != "" && event.SenderID == r.deviceID {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Kind {
	case realtime.EventSync:
		r.replaceAll(event.Snapshot)
	case realtime.EventCreate:
		if event.Activity != nil {
			r.applyCreate(*event.Activity)
		}
	case realtime.EventUpdate:
		if event.Activity != nil {
			r.applyUpdate(*event.Activity)
		}
	case realtime.EventDelete:
		if event.Activity != nil {
			r.applyDelete(event.Activity.ID)
		}
	}
}

// Replace installs a full snapshot, e.g. from the CRUD read path. Last
// snapshot wins; there is no merge.
func (r *Reconciler) Replace(records []activity.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaceAll(records)
}

func (r *Reconciler) replaceAll(records []activity.Record) {
	r.items = make([]activity.Record, 0, len(records))
	r.index = make(map[string]int, len(records))
	for _, record := range records {
		if _, exists := r.index[record.ID]; exists {
			continue
		}
		r.index[record.ID] = len(r.items)
		r.items = append(r.items, record)
	}
}

func (r *Reconciler) applyCreate(record activity.Record) {
	if _, exists := r.index[record.ID]; exists {
		return
	}
	r.items = append([]activity.Record{record}, r.items...)
	r.reindex()
}

// applyUpdate replaces the matching entry in place. An update arriving before
// its create is dropped: the broadcast channel enforces no causal ordering,
// and the snapshot-on-join mechanism is the consistency backstop. Known gap.
func (r *Reconciler) applyUpdate(record activity.Record) {
	position, exists := r.index[record.ID]
	if !exists {
		return
	}
	r.items[position] = record
}

func (r *Reconciler) applyDelete(id string) {
	position, exists := r.index[id]
	if !exists {
		return
	}
	r.items = append(r.items[:position], r.items[position+1:]...)
	r.reindex()
}

func (r *Reconciler) reindex() {
	index := make(map[string]int, len(r.items))
	for position, record := range r.items {
		index[record.ID] = position
	}
	r.index = index
}

// Activities returns a copy of the cached entries in display order.
func (r *Reconciler) Activities() []activity.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]activity.Record, len(r.items))
	copy(out, r.items)
	return out
}

// Len reports the number of cached entries.
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Today filters the cache to entries whose start time falls within the
// calendar day of the reference time, in its location.
func (r *Reconciler) Today(now time.Time) []activity.Record {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UnixMilli()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]activity.Record, 0)
	for _, record := range r.items {
		if record.StartedAt >= startOfDay {
			out = append(out, record)
		}
	}
	return out
}

// TodayStats aggregates today's entries: feeding and diaper counts, plus total
// sleep hours rounded to one decimal. Open-ended sleep sessions contribute
// zero until they are closed.
func (r *Reconciler) TodayStats(now time.Time) Stats {
	stats := Stats{}
	var sleepMillis int64
	for _, record := range r.Today(now) {
		switch record.Type {
		case activity.TypeFeeding:
			stats.FeedingCount++
		case activity.TypeDiaper:
			stats.DiaperCount++
		case activity.TypeSleep:
			if record.EndedAt != nil {
				sleepMillis += *record.EndedAt - record.StartedAt
			}
		}
	}
	sleepMinutes := float64(sleepMillis) / 60000
	stats.SleepHours = math.Round(sleepMinutes/60*10) / 10
	return stats
}
