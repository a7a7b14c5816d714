package cep

import "time"

// ActionKind names what a satisfied hook does.
type ActionKind string

const (
	ActionWorkflow ActionKind = "workflow"
	ActionNotify   ActionKind = "notify"
	ActionLog      ActionKind = "log"
	ActionCallback ActionKind = "callback"
)

// Action is the effect a hook triggers once its threshold is satisfied.
type Action struct {
	Kind ActionKind

	// Topic routes a workflow action's bus publish (default
	// "vsm.s2.coordinate" if empty).
	Topic string
	// Channel names a registered notify sink.
	Channel string
	// Callback names a registered func(Hook, Event) error.
	Callback string
}

// Hook is a declarative CEP rule: match events against Pattern, track a
// sliding window of matches, and fire Action once Threshold is met.
type Hook struct {
	ID      string
	Name    string
	Pattern map[string]Matcher

	Threshold Threshold
	Action    Action
	Enabled   bool

	TriggeredCount int
	LastTriggered  time.Time
}

// matches reports whether every field in Pattern matches event.Data. An
// empty pattern matches nothing, since a hook with no conditions would
// fire on every event.
func (h Hook) matches(event Event) bool {
	if len(h.Pattern) == 0 {
		return false
	}
	for field, matcher := range h.Pattern {
		if !matcher.Match(field, event.Data) {
			return false
		}
	}
	return true
}
