// Package cep implements the complex-event-processing hook engine:
// declarative pattern matchers over event payloads, per-hook sliding
// windows, and threshold-triggered actions.
package cep

import "time"

// Event is one payload the engine evaluates hooks against. Data carries
// arbitrary, possibly nested fields; Pattern field paths address into it.
type Event struct {
	Name      string
	Data      map[string]any
	Timestamp time.Time
}
