// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hooks

import (
	"sync"
)

// AllEvents lists every event kind flowing over the bus.
var AllEvents = []Event{
	EventEvaluationStarted,
	EventEvaluationPublished,
	EventEvaluationFailed,
	EventModelDiscovered,
	EventRoutingDecision,
	EventRequestDispatched,
	EventPromptsReloaded,
}

// RecordedEvent is the serializable view of one observed event.
type RecordedEvent struct {
	Event     Event                  `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Role      string                 `json:"role,omitempty"`
	Model     string                 `json:"model,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// DefaultRecorderCapacity is the ring size used when none is configured.
const DefaultRecorderCapacity = 128

// Recorder keeps the most recent bus events in a fixed-size ring so the
// management API can show what the evaluation and routing subsystems have
// been doing. Older events are overwritten once the ring is full.
type Recorder struct {
	mu    sync.Mutex
	ring  []RecordedEvent
	next  int
	count int
	subs  []*Subscription
}

// NewRecorder creates a recorder holding up to capacity events.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultRecorderCapacity
	}
	return &Recorder{ring: make([]RecordedEvent, capacity)}
}

// Attach subscribes the recorder to every event kind on the bus.
func (r *Recorder) Attach(bus *EventBus) {
	for _, ev := range AllEvents {
		r.subs = append(r.subs, bus.Subscribe(ev, r.observe))
	}
}

// Detach removes all of the recorder's subscriptions.
func (r *Recorder) Detach() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	r.subs = nil
}

func (r *Recorder) observe(ctx *EventContext) {
	rec := RecordedEvent{
		Event:     ctx.Event,
		Timestamp: ctx.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Role:      ctx.Role,
		Model:     ctx.Model,
		Data:      ctx.Data,
	}
	if ctx.Error != nil {
		rec.Error = ctx.Error.Error()
	}

	r.mu.Lock()
	r.ring[r.next] = rec
	r.next = (r.next + 1) % len(r.ring)
	if r.count < len(r.ring) {
		r.count++
	}
	r.mu.Unlock()
}

// Recent returns up to limit recorded events, newest first. A non-positive
// limit returns everything in the ring.
func (r *Recorder) Recent(limit int) []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]RecordedEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}
