package cep

import (
	"context"
	"testing"
	"time"
)

func TestHookMatchesRequiresAllFields(t *testing.T) {
	h := Hook{
		Pattern: map[string]Matcher{
			"severity": {Op: OpEq, Value: "high"},
			"source":   {Op: OpEq, Value: "s1"},
		},
	}
	match := h.matches(Event{Data: map[string]any{"severity": "high", "source": "s1"}})
	if !match {
		t.Fatal("expected match when all fields satisfy pattern")
	}
	noMatch := h.matches(Event{Data: map[string]any{"severity": "high", "source": "s2"}})
	if noMatch {
		t.Fatal("expected no match when one field differs")
	}
}

func TestHookMatchesMissingFieldNeverMatches(t *testing.T) {
	h := Hook{Pattern: map[string]Matcher{"severity": {Op: OpEq, Value: "high"}}}
	if h.matches(Event{Data: map[string]any{}}) {
		t.Fatal("missing field should never match")
	}
}

func TestSeverityRankComparesByRankNotLexically(t *testing.T) {
	m := Matcher{Op: OpGte, Value: "medium"}
	if !m.Match("severity", map[string]any{"severity": "high"}) {
		t.Error("high should rank >= medium")
	}
	if m.Match("severity", map[string]any{"severity": "low"}) {
		t.Error("low should not rank >= medium")
	}
}

func TestNestedFieldLookupViaJSONPath(t *testing.T) {
	m := Matcher{Op: OpEq, Value: "s1-worker"}
	data := map[string]any{"metadata": map[string]any{"source": "s1-worker"}}
	if !m.Match("metadata.source", data) {
		t.Error("expected nested field lookup to match")
	}
}

func TestEngineTriggersOnCountThreshold(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	triggered := make(chan Hook, 1)
	e.RegisterCallback("record", func(hook Hook, event Event) error {
		triggered <- hook
		return nil
	})

	hook := Hook{
		ID:        "h1",
		Name:      "burst",
		Enabled:   true,
		Pattern:   map[string]Matcher{"kind": {Op: OpEq, Value: "error"}},
		Threshold: Threshold{Count: 3, WindowMS: 60000},
		Action:    Action{Kind: ActionCallback, Callback: "record"},
	}
	if err := e.AddHook(hook); err != nil {
		t.Fatalf("AddHook: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		e.Process(ctx, Event{Data: map[string]any{"kind": "error"}, Timestamp: time.Now().UTC()})
	}
	select {
	case <-triggered:
		t.Fatal("hook fired before threshold reached")
	default:
	}

	e.Process(ctx, Event{Data: map[string]any{"kind": "error"}, Timestamp: time.Now().UTC()})
	select {
	case got := <-triggered:
		if got.ID != "h1" {
			t.Errorf("triggered hook ID = %q, want h1", got.ID)
		}
	default:
		t.Fatal("hook did not fire at threshold")
	}

	got, ok := e.Hook("h1")
	if !ok {
		t.Fatal("Hook: not found")
	}
	if got.TriggeredCount != 1 {
		t.Errorf("TriggeredCount = %d, want 1", got.TriggeredCount)
	}
}

func TestEngineCallbackPanicIsRecovered(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	e.RegisterCallback("boom", func(hook Hook, event Event) error {
		panic("callback exploded")
	})

	hook := Hook{
		ID:        "h2",
		Name:      "panicker",
		Enabled:   true,
		Pattern:   map[string]Matcher{"kind": {Op: OpEq, Value: "x"}},
		Threshold: Threshold{Count: 1, WindowMS: 60000},
		Action:    Action{Kind: ActionCallback, Callback: "boom"},
	}
	if err := e.AddHook(hook); err != nil {
		t.Fatalf("AddHook: %v", err)
	}

	e.Process(context.Background(), Event{Data: map[string]any{"kind": "x"}, Timestamp: time.Now().UTC()})
}

func TestEngineDisabledHookNeverFires(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	fired := false
	e.RegisterCallback("mark", func(hook Hook, event Event) error {
		fired = true
		return nil
	})

	hook := Hook{
		ID:        "h3",
		Enabled:   false,
		Pattern:   map[string]Matcher{"kind": {Op: OpEq, Value: "x"}},
		Threshold: Threshold{Count: 1, WindowMS: 60000},
		Action:    Action{Kind: ActionCallback, Callback: "mark"},
	}
	if err := e.AddHook(hook); err != nil {
		t.Fatalf("AddHook: %v", err)
	}
	e.Process(context.Background(), Event{Data: map[string]any{"kind": "x"}, Timestamp: time.Now().UTC()})
	if fired {
		t.Fatal("disabled hook should never fire")
	}
}
