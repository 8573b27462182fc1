package rollback

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType identifies the lifecycle or administration change an event records.
type EventType string

const (
	EventProposed                 EventType = "proposed"
	EventQueued                   EventType = "queued"
	EventCanceled                 EventType = "canceled"
	EventExecuted                 EventType = "executed"
	EventAdminChanged             EventType = "admin_changed"
	EventGuardianChanged          EventType = "guardian_changed"
	EventQueueableDurationChanged EventType = "queueable_duration_changed"
)

// Event is emitted by the manager after every successful state change. Fields
// beyond ID/Type/Time are populated per event type.
type Event struct {
	ID   string
	Type EventType
	Time time.Time

	// Lifecycle events.
	Rollback       common.Hash
	Batch          *Batch
	QueueExpiresAt time.Time
	ExecutableAt   time.Time

	// Role changes.
	OldAddress common.Address
	NewAddress common.Address

	// Policy changes.
	OldDuration time.Duration
	NewDuration time.Duration
}

// Sink receives manager events. Publish must not block on slow consumers;
// delivery is best effort and failures are the sink's problem.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

func newEvent(t EventType, now time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, Time: now}
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}

// LogSink writes events to a structured log.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "rollback.events").Logger()}
}

func (s *LogSink) Publish(_ context.Context, ev Event) {
	evt := s.log.Info().
		Str("event_id", ev.ID).
		Str("event_type", string(ev.Type)).
		Time("event_time", ev.Time)

	switch ev.Type {
	case EventProposed:
		evt = evt.Str("rollback_id", ev.Rollback.Hex()).Time("queue_expires_at", ev.QueueExpiresAt)
		if ev.Batch != nil {
			evt = evt.Int("batch_size", ev.Batch.Len()).Str("description", ev.Batch.Description)
		}
	case EventQueued:
		evt = evt.Str("rollback_id", ev.Rollback.Hex()).Time("executable_at", ev.ExecutableAt)
	case EventCanceled, EventExecuted:
		evt = evt.Str("rollback_id", ev.Rollback.Hex())
	case EventAdminChanged, EventGuardianChanged:
		evt = evt.Str("old", ev.OldAddress.Hex()).Str("new", ev.NewAddress.Hex())
	case EventQueueableDurationChanged:
		evt = evt.Dur("old", ev.OldDuration).Dur("new", ev.NewDuration)
	}

	evt.Msg("rollback event")
}

// MemorySink retains events in order, for tests and the stats endpoint.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Publish(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Len returns the number of published events.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Publish(ctx, ev)
	}
}
