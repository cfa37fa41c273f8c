// Package testutil provides an in-memory progress emitter for tests.
package testutil

import (
	"sync"

	"github.com/c360studio/semheal/progress"
)

// Recorder captures emitted events in order.
type Recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

// Emit implements progress.Emitter.
func (r *Recorder) Emit(e progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded event kinds in order.
func (r *Recorder) Kinds() []progress.Kind {
	events := r.Events()
	kinds := make([]progress.Kind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

// ForCase returns the events carrying testCaseID.
func (r *Recorder) ForCase(testCaseID string) []progress.Event {
	var out []progress.Event
	for _, e := range r.Events() {
		if e.TestCaseID == testCaseID {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the last event of kind, if any.
func (r *Recorder) Last(kind progress.Kind) (progress.Event, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == kind {
			return events[i], true
		}
	}
	return progress.Event{}, false
}

// Count returns the number of events of kind.
func (r *Recorder) Count(kind progress.Kind) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
