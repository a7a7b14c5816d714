package telemetry

import (
	"log"
	"time"

	"github.com/viable-systems/control-plane/pkg/audit"
)

var _ audit.Alerter = (*Bus)(nil)

// slowListenerDeadline bounds how long a single listener invocation may
// run before it counts as a violation. Emission is synchronous, so a
// wedged listener would otherwise stall every emitter in the system.
const slowListenerDeadline = 50 * time.Millisecond

// maxViolations is how many deadline overruns a listener is allowed
// before Bus detaches it.
const maxViolations = 3

// Bus is the process-wide telemetry emitter. Create one with New and
// share it; every VSM tier and cross-cutting component emits through the
// same instance so the rolling window sees the full picture.
type Bus struct {
	registry *Registry
	window   *rollingWindow
}

// New creates a Bus with an empty registry and an idle rolling window.
// Call (*Bus).StartAggregation to begin periodic snapshots.
func New() *Bus {
	return &Bus{
		registry: NewRegistry(),
		window:   newRollingWindow(60 * time.Second),
	}
}

// Attach registers a listener (see Registry.Attach).
func (b *Bus) Attach(id, prefix string, handler Handler) {
	b.registry.Attach(id, prefix, handler)
}

// Detach removes a listener (see Registry.Detach).
func (b *Bus) Detach(id string) {
	b.registry.Detach(id)
}

// Emit implements the audit.Alerter interface as well as being the bus's
// own primary entry point, so C3 can raise alerts through the same path
// every other component uses.
func (b *Bus) Emit(eventName string, measurements map[string]float64, metadata map[string]any) {
	event := Event{
		Name:         eventName,
		Measurements: measurements,
		Metadata:     metadata,
		Timestamp:    time.Now().UTC(),
	}

	b.window.record(event)

	for _, l := range b.registry.snapshot() {
		if !hasPrefix(event.Name, l.prefix) {
			continue
		}
		b.dispatch(l, event)
	}
}

func (b *Bus) dispatch(l listener, event Event) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.handler(event)
	}()

	select {
	case <-done:
	case <-time.After(slowListenerDeadline):
		count, found := b.registry.recordViolation(l.id)
		log.Printf("telemetry: protection log: listener %q exceeded %s handling %q (violation %d)",
			l.id, slowListenerDeadline, event.Name, count)
		if found && count >= maxViolations {
			log.Printf("telemetry: detaching listener %q after %d deadline violations", l.id, count)
			b.registry.Detach(l.id)
		}
		// The goroutine is left running to completion; its result is
		// discarded. This bounds emission latency at the cost of a
		// potential goroutine leak for a truly wedged handler, which is
		// exactly the failure mode detachment exists to stop recurring.
	}
}

// Snapshot returns the most recent rolling-window aggregation.
func (b *Bus) Snapshot() []WindowSnapshot {
	return b.window.snapshot()
}

// StartAggregation begins the periodic snapshot tick (5s default) and
// returns a stop function.
func (b *Bus) StartAggregation() (stop func()) {
	return b.window.start()
}
