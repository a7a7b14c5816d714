package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
)

const defaultScriptTimeout = 2 * time.Second

// Evolver runs proposed policy updates through an operator-authored
// meta-policy script: a sandboxed JavaScript function named `evaluate`
// taking the update's proposed fields and returning one of
// {decision: "accept"|"reject"|"mutate", mutated, reason}.
type Evolver struct {
	script  string
	timeout time.Duration
}

// NewEvolver compiles nothing up front; script is re-parsed per Evaluate
// call since goja.Runtime is not safe for concurrent use and a fresh VM
// per call is the cheapest way to isolate one tenant's script run from
// another's.
func NewEvolver(script string, timeout time.Duration) *Evolver {
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	return &Evolver{script: script, timeout: timeout}
}

// Evaluate runs update through the meta-policy script under a bounded
// deadline. A script that runs past the deadline is interrupted and
// Evaluate returns an empty Verdict with a timeout error; a cancelled ctx
// likewise interrupts the script and returns ctx.Err().
func (e *Evolver) Evaluate(ctx context.Context, update Update) (Verdict, error) {
	if e.script == "" {
		return Verdict{Decision: DecisionReject, Reason: "no meta-policy script configured", At: time.Now().UTC()}, nil
	}

	type outcome struct {
		verdict Verdict
		err     error
	}

	vm := goja.New()
	done := make(chan outcome, 1)

	go func() {
		verdict, err := e.run(vm, update)
		done <- outcome{verdict, err}
	}()

	deadline := time.Duration(e.timeout)
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < deadline {
			deadline = remaining
		}
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.verdict, out.err
	case <-timer.C:
		vm.Interrupt("meta-policy script exceeded its execution deadline")
		<-done
		return Verdict{}, apierr.Timeout("policy_evolve")
	case <-ctx.Done():
		vm.Interrupt("context cancelled")
		<-done
		return Verdict{}, ctx.Err()
	}
}

func (e *Evolver) run(vm *goja.Runtime, update Update) (Verdict, error) {
	if _, err := vm.RunString(e.script); err != nil {
		return Verdict{}, apierr.Internal("compile meta-policy script", err)
	}

	evaluate, ok := goja.AssertFunction(vm.Get("evaluate"))
	if !ok {
		return Verdict{}, apierr.Internal("meta-policy script", fmt.Errorf("script does not define an evaluate function"))
	}

	arg := vm.ToValue(map[string]any{
		"policy_name": update.PolicyName,
		"proposed":    update.Proposed,
		"proposed_by": update.ProposedBy,
		"tenant_id":   update.TenantID,
	})

	result, err := evaluate(goja.Undefined(), arg)
	if err != nil {
		return Verdict{}, apierr.Internal("run meta-policy script", err)
	}

	exported, _ := result.Export().(map[string]interface{})
	return verdictFromExport(exported), nil
}

func verdictFromExport(exported map[string]interface{}) Verdict {
	verdict := Verdict{Decision: DecisionReject, At: time.Now().UTC()}

	if decision, ok := exported["decision"].(string); ok {
		switch Decision(decision) {
		case DecisionAccept, DecisionReject, DecisionMutate:
			verdict.Decision = Decision(decision)
		}
	}
	if reason, ok := exported["reason"].(string); ok {
		verdict.Reason = reason
	}
	if mutated, ok := exported["mutated"].(map[string]interface{}); ok {
		out := make(map[string]any, len(mutated))
		for k, v := range mutated {
			out[k] = v
		}
		verdict.Mutated = out
	}
	return verdict
}
