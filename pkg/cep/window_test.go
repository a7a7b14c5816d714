package cep

import (
	"testing"
	"time"
)

func TestWindowStatePrunesOldEntries(t *testing.T) {
	w := newWindowState(100 * time.Millisecond)
	base := time.Now().UTC()

	w.record(Event{Name: "a"}, base)
	w.record(Event{Name: "b"}, base.Add(50*time.Millisecond))

	count, _ := w.evaluate(base.Add(60 * time.Millisecond))
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	count, _ = w.evaluate(base.Add(200 * time.Millisecond))
	if count != 0 {
		t.Fatalf("count after expiry = %d, want 0", count)
	}
}

func TestWindowStateClear(t *testing.T) {
	w := newWindowState(time.Minute)
	now := time.Now().UTC()
	w.record(Event{Name: "a"}, now)
	w.clear()
	count, _ := w.evaluate(now)
	if count != 0 {
		t.Fatalf("count after clear = %d, want 0", count)
	}
}
