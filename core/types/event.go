package types

// Event is the wire form of a typed event emitted by the settlement engine.
// Attributes are flat string pairs so downstream consumers (RPC clients,
// indexers, log pipelines) never need the emitting package's types.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
