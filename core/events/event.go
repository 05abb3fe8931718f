package events

import (
	"sync"

	"strategyvaults/core/types"
)

// Event represents a structured state change emitted by a vault.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the HTTP feed,
// indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events for one operation. Flush forwards them once the
// operation has committed; Reset drops them when it reverts.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.pending)
}

// Flush forwards every buffered event to out and clears the buffer.
func (b *Buffer) Flush(out Emitter) {
	if b == nil {
		return
	}
	pending := b.pending
	b.pending = nil
	if out == nil {
		return
	}
	for _, evt := range pending {
		out.Emit(evt)
	}
}

// Reset discards every buffered event.
func (b *Buffer) Reset() {
	if b != nil {
		b.pending = nil
	}
}

// Truncate drops events buffered after the first n.
func (b *Buffer) Truncate(n int) {
	if b == nil || n < 0 || n >= len(b.pending) {
		return
	}
	b.pending = b.pending[:n]
}

// Recorder keeps a bounded in-memory history of emitted events.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []*types.Event
}

// NewRecorder returns a recorder keeping at most limit events. A non-positive
// limit keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	rendered := evt.Event()
	if rendered == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, rendered)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = append([]*types.Event(nil), r.events[len(r.events)-r.limit:]...)
	}
}

// Events returns a copy of the recorded history, oldest first.
func (r *Recorder) Events() []*types.Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.Event(nil), r.events...)
}

// Multi fans events out to several emitters.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}
