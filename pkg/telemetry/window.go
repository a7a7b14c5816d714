package telemetry

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// WindowSnapshot summarizes every event recorded in the trailing window
// for one (source, severity, labels) group.
type WindowSnapshot struct {
	Source       string
	Severity     string
	Labels       string
	Count        int
	Measurements map[string]float64
}

type windowGroupKey struct {
	source   string
	severity string
	labels   string
}

// rollingWindow retains events for a fixed retention and, on a 5s tick,
// folds them into grouped snapshots.
type rollingWindow struct {
	retention time.Duration

	mu     sync.Mutex
	events []Event
	last   []WindowSnapshot

	cron *cron.Cron
}

func newRollingWindow(retention time.Duration) *rollingWindow {
	return &rollingWindow{retention: retention}
}

func (w *rollingWindow) record(event Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
}

func (w *rollingWindow) snapshot() []WindowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]WindowSnapshot, len(w.last))
	copy(out, w.last)
	return out
}

// start begins the 5s aggregation tick and returns a function that stops
// it, waiting for any in-flight tick to finish.
func (w *rollingWindow) start() func() {
	c := cron.New(cron.WithSeconds())
	_, _ = c.AddFunc("@every 5s", w.tick)
	c.Start()
	w.cron = c
	return func() {
		ctx := c.Stop()
		<-ctx.Done()
	}
}

func (w *rollingWindow) tick() {
	now := time.Now().UTC()
	cutoff := now.Add(-w.retention)

	w.mu.Lock()
	kept := w.events[:0:0]
	for _, e := range w.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	w.events = kept

	groups := make(map[windowGroupKey]*WindowSnapshot)
	order := make([]windowGroupKey, 0)
	for _, e := range kept {
		key := windowGroupKey{source: e.source(), severity: e.severity(), labels: e.labels()}
		g, ok := groups[key]
		if !ok {
			g = &WindowSnapshot{
				Source:       key.source,
				Severity:     key.severity,
				Labels:       key.labels,
				Measurements: make(map[string]float64),
			}
			groups[key] = g
			order = append(order, key)
		}
		g.Count++
		for k, v := range e.Measurements {
			g.Measurements[k] += v
		}
	}

	snapshot := make([]WindowSnapshot, 0, len(order))
	for _, key := range order {
		snapshot = append(snapshot, *groups[key])
	}
	w.last = snapshot
	w.mu.Unlock()
}
