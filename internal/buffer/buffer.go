// Package buffer stages extracted events between extraction and persistence.
package buffer

import (
	"sync"

	"github.com/hyperifyio/eventcollector/internal/event"
)

// Buffer is a FIFO staging area. It neither validates nor deduplicates; the
// store does that on persist. The zero value is ready to use.
type Buffer struct {
	mu     sync.Mutex
	events []event.Event
}

// New returns an empty buffer.
func New() *Buffer { return &Buffer{} }

// Push appends events in order.
func (b *Buffer) Push(events ...event.Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, events...)
	b.mu.Unlock()
}

// Flush returns everything staged, in append order, and empties the buffer
// in the same critical section.
func (b *Buffer) Flush() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	if out == nil {
		return []event.Event{}
	}
	return out
}

// Requeue puts events from a failed flush back in front of anything pushed
// since, preserving the original order.
func (b *Buffer) Requeue(events []event.Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]event.Event, 0, len(events)+len(b.events))
	merged = append(merged, events...)
	b.events = append(merged, b.events...)
}

// Len reports how many events are staged.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
