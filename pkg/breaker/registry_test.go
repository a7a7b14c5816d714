package breaker

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry_GetCreatesAndReuses(t *testing.T) {
	r := NewRegistry(nil)

	b1 := r.Get("provider-a", Config{MaxFailures: 2})
	b2 := r.Get("provider-a", Config{MaxFailures: 9})

	if b1 != b2 {
		t.Error("expected Get to return the same Breaker for the same service_id")
	}
}

func TestRegistry_SeparateServicesIsolated(t *testing.T) {
	r := NewRegistry(nil)

	a := r.Get("provider-a", Config{MaxFailures: 1})
	b := r.Get("provider-b", Config{MaxFailures: 1})

	a.Execute(context.Background(), func() error { return errors.New("fail") })

	if a.State() != StateOpen {
		t.Fatal("expected provider-a to be open")
	}
	if b.State() != StateClosed {
		t.Error("expected provider-b to remain closed, breakers are not isolated")
	}
}

func TestRegistry_SnapshotReportsAllBreakers(t *testing.T) {
	r := NewRegistry(nil)
	r.Get("provider-a", Config{})
	r.Get("provider-b", Config{})

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Errorf("snapshot has %d entries, want 2", len(snap))
	}
	if snap["provider-a"] != StateClosed || snap["provider-b"] != StateClosed {
		t.Errorf("unexpected snapshot states: %+v", snap)
	}
}

func TestRegistry_DefaultOnStateChangeApplied(t *testing.T) {
	var seen string
	r := NewRegistry(func(serviceID string, from, to State) {
		seen = serviceID
	})

	b := r.Get("provider-a", Config{MaxFailures: 1})
	b.Execute(context.Background(), func() error { return errors.New("fail") })

	if seen != "provider-a" {
		t.Errorf("registry default OnStateChange not invoked, seen = %q", seen)
	}
}
