package manager

import "github.com/rs/zerolog"

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// Event names.
const (
	EventLoadStart    = "load_start"
	EventLoadDone     = "load_done"
	EventLoadFailed   = "load_failed"
	EventModelReused  = "model_reused"
	EventContextNew   = "context_created"
	EventContextReuse = "context_reused"
	EventDispose      = "dispose"
	EventIdleFired    = "idle_fired"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes events to a zerolog logger at debug level.
type LogPublisher struct{ Log zerolog.Logger }

func (p LogPublisher) Publish(e Event) {
	ev := p.Log.Debug().Str("event", e.Name)
	if e.ModelID != "" {
		ev = ev.Str("model", e.ModelID)
	}
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("manager event")
}
