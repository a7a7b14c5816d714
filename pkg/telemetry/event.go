// Package telemetry implements the in-process telemetry bus: synchronous
// event emission, a listener registry keyed by event-name prefix, and a
// rolling-window aggregator that periodically summarizes traffic. Every
// component in the system emits through this bus; nothing but
// pkg/telemetry itself needs to import it as a dependency.
package telemetry

import "time"

// Event is one emission: a named occurrence with numeric measurements and
// arbitrary metadata. Source/Severity/Labels are read out of Metadata by
// convention ("source", "severity", "labels") rather than promoted to
// dedicated fields, so callers emitting through Emit don't need a second
// shape.
type Event struct {
	Name         string
	Measurements map[string]float64
	Metadata     map[string]any
	Timestamp    time.Time
}

func (e Event) source() string   { return stringField(e.Metadata, "source") }
func (e Event) severity() string { return stringField(e.Metadata, "severity") }
func (e Event) labels() string   { return stringField(e.Metadata, "labels") }

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
