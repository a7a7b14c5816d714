package vsm

import (
	"context"
	"testing"
	"time"

	"github.com/viable-systems/control-plane/pkg/audit"
	"github.com/viable-systems/control-plane/pkg/bus"
	"github.com/viable-systems/control-plane/pkg/policy"
)

const acceptAllMetaPolicy = `function evaluate(update) { return {decision: "accept"}; }`
const rejectAllMetaPolicy = `function evaluate(update) { return {decision: "reject", reason: "denied by test policy"}; }`

func newTestS5(t *testing.T, script string) (*S5, *S3) {
	t.Helper()
	chain, err := audit.New(audit.Config{SigningKey: []byte("test-signing-key"), Sink: audit.NewMemorySink()})
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	s3, _ := newTestS3(t, S3Config{})
	evolver := policy.NewEvolver(script, time.Second)
	s5 := NewS5(newFakePublisher(), newFakeSubscriber(), evolver, s3, chain, testLogger())
	return s5, s3
}

func TestS5HandlePolicyUpdateAcceptedCascadesToS3(t *testing.T) {
	s5, s3 := newTestS5(t, acceptAllMetaPolicy)

	env, err := bus.New("vsm.s5.policy_update", "tenant-a", policy.Update{
		PolicyName: "rate_limits", Proposed: map[string]any{"max_rps": 25}, ProposedBy: "operator",
	}, "corr-1")
	if err != nil {
		t.Fatalf("bus.New: %v", err)
	}

	result := s5.handlePolicyUpdate(context.Background(), env)
	if result.Decision != bus.Ack {
		t.Fatalf("decision = %v, want Ack: %v", result.Decision, result.Err)
	}

	value, ok := s3.Policy("rate_limits")
	if !ok {
		t.Fatal("expected accepted policy update to cascade into S3's cache")
	}
	if value["max_rps"] != float64(25) {
		t.Errorf("max_rps = %v, want 25", value["max_rps"])
	}
}

func TestS5HandlePolicyUpdateRejectedDoesNotCascade(t *testing.T) {
	s5, s3 := newTestS5(t, rejectAllMetaPolicy)

	env, err := bus.New("vsm.s5.policy_update", "tenant-a", policy.Update{
		PolicyName: "rate_limits", Proposed: map[string]any{"max_rps": 25}, ProposedBy: "operator",
	}, "corr-2")
	if err != nil {
		t.Fatalf("bus.New: %v", err)
	}

	result := s5.handlePolicyUpdate(context.Background(), env)
	if result.Decision != bus.Ack {
		t.Fatalf("decision = %v, want Ack: %v", result.Decision, result.Err)
	}

	if _, ok := s3.Policy("rate_limits"); ok {
		t.Fatal("expected rejected policy update to not cascade into S3's cache")
	}
}

func TestS5HandleExplanationLogsAndAcks(t *testing.T) {
	s5, _ := newTestS5(t, acceptAllMetaPolicy)

	env, err := bus.New("vsm.s5.explanation", "tenant-a", explanationPayload{
		EpisodeID: "ep-1", Text: "root cause identified",
	}, "corr-3")
	if err != nil {
		t.Fatalf("bus.New: %v", err)
	}

	result := s5.handleExplanation(context.Background(), env)
	if result.Decision != bus.Ack {
		t.Fatalf("decision = %v, want Ack", result.Decision)
	}
}
