package events

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (RPC, indexers, logs).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// lets components expose events without requiring every caller to subscribe.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// CollectorEmitter accumulates emitted events in order; it exists for tests
// and for bridging into the RPC event buffer.
type CollectorEmitter struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (c *CollectorEmitter) Emit(evt Event) {
	if c == nil || evt == nil {
		return
	}
	c.Events = append(c.Events, evt)
}
