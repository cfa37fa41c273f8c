package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink receives one serialised record per event. The record ends in a newline.
type Sink interface {
	Write(record []byte) error
}

// Emitter is the publishing surface used by the state machine and batch driver.
type Emitter interface {
	Emit(Event)
}

// Reporter stamps events and fans them out to sinks. Emit never fails and
// never panics; delivery problems are logged at debug level and dropped.
type Reporter struct {
	mu     sync.Mutex
	sinks  []Sink
	runID  string
	last   time.Time
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRunID sets the run identifier stamped on every event.
func WithRunID(id string) Option {
	return func(r *Reporter) {
		if id != "" {
			r.runID = id
		}
	}
}

// NewReporter creates a reporter writing to the given sinks.
func NewReporter(sinks []Sink, opts ...Option) *Reporter {
	r := &Reporter{
		sinks:  sinks,
		runID:  uuid.NewString(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID returns the identifier stamped on this reporter's events.
func (r *Reporter) RunID() string {
	return r.runID
}

// Emit stamps and publishes an event.
func (r *Reporter) Emit(e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug("Progress event dropped", "event", e.Kind, "panic", fmt.Sprint(rec))
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Millisecond precision on the wire; keep ordering at that granularity.
	ts := r.now().UTC().Truncate(time.Millisecond)
	if ts.Before(r.last) {
		ts = r.last
	}
	r.last = ts

	e.Timestamp = ts
	e.RunID = r.runID

	record, err := e.MarshalJSON()
	if err != nil {
		r.logger.Debug("Progress event not serialisable", "event", e.Kind, "error", err)
		return
	}
	record = append(record, '\n')

	for _, sink := range r.sinks {
		if err := sink.Write(record); err != nil {
			r.logger.Debug("Progress sink write failed", "event", e.Kind, "error", err)
		}
	}
}

// Discard is an Emitter that drops every event.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}
