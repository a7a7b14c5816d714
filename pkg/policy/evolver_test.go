package policy

import (
	"context"
	"testing"
	"time"
)

const acceptAllScript = `
function evaluate(update) {
	return {decision: "accept", reason: "looks fine"};
}
`

const mutateScript = `
function evaluate(update) {
	return {decision: "mutate", mutated: {max_retries: 3}, reason: "capped"};
}
`

const infiniteLoopScript = `
function evaluate(update) {
	while (true) {}
}
`

func TestEvolverAcceptsUpdate(t *testing.T) {
	e := NewEvolver(acceptAllScript, time.Second)
	verdict, err := e.Evaluate(context.Background(), Update{PolicyName: "s4_llm_budget", ProposedBy: "s5"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Decision != DecisionAccept {
		t.Errorf("Decision = %v, want accept", verdict.Decision)
	}
}

func TestEvolverMutatesUpdate(t *testing.T) {
	e := NewEvolver(mutateScript, time.Second)
	verdict, err := e.Evaluate(context.Background(), Update{PolicyName: "retry_policy"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Decision != DecisionMutate {
		t.Fatalf("Decision = %v, want mutate", verdict.Decision)
	}
	if verdict.Mutated["max_retries"] != int64(3) {
		t.Errorf("Mutated[max_retries] = %v", verdict.Mutated["max_retries"])
	}
}

func TestEvolverNoScriptRejects(t *testing.T) {
	e := NewEvolver("", time.Second)
	verdict, err := e.Evaluate(context.Background(), Update{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Decision != DecisionReject {
		t.Errorf("Decision = %v, want reject", verdict.Decision)
	}
}

func TestEvolverInterruptsRunawayScript(t *testing.T) {
	e := NewEvolver(infiniteLoopScript, 100*time.Millisecond)
	_, err := e.Evaluate(context.Background(), Update{})
	if err == nil {
		t.Fatal("Evaluate: want timeout error for a script that never returns")
	}
}
