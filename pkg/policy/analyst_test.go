package policy

import (
	"context"
	"testing"

	"github.com/viable-systems/control-plane/pkg/llmrouter"
)

type stubAnalyzer struct {
	result llmrouter.Result
	err    error
}

func (s stubAnalyzer) Analyze(ctx context.Context, episode llmrouter.Episode, opts llmrouter.Options) (llmrouter.Result, error) {
	return s.result, s.err
}

func TestAnalystParsesJSONExplanation(t *testing.T) {
	a := NewAnalyst(stubAnalyzer{result: llmrouter.Result{Text: `{
		"summary": "budget overrun",
		"root_cause": "runaway retries",
		"impact": "s4_llm budget exhausted",
		"confidence": 0.82,
		"recommended_actions": ["throttle_input", "restart_component"],
		"sop_references": ["SOP-114"]
	}`}})

	explanation, err := a.Review(context.Background(), "tenant-a", KindComplianceCheck, "budget check", nil)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if explanation.Summary != "budget overrun" {
		t.Errorf("Summary = %q", explanation.Summary)
	}
	if explanation.Confidence != 0.82 {
		t.Errorf("Confidence = %v, want 0.82", explanation.Confidence)
	}
	if len(explanation.RecommendedActions) != 2 {
		t.Errorf("RecommendedActions = %v", explanation.RecommendedActions)
	}
}

func TestAnalystDegradesOnNonJSONResponse(t *testing.T) {
	a := NewAnalyst(stubAnalyzer{result: llmrouter.Result{Text: "plain text answer, not JSON"}})

	explanation, err := a.Review(context.Background(), "tenant-a", KindPolicyReview, "title", nil)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if explanation.Summary != "plain text answer, not JSON" {
		t.Errorf("Summary = %q", explanation.Summary)
	}
	if explanation.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0 for degraded explanation", explanation.Confidence)
	}
}

func TestAnalystPropagatesRouterError(t *testing.T) {
	sentinel := context.DeadlineExceeded
	a := NewAnalyst(stubAnalyzer{err: sentinel})
	_, err := a.Review(context.Background(), "tenant-a", KindPolicyReview, "title", nil)
	if err != sentinel {
		t.Errorf("err = %v, want %v", err, sentinel)
	}
}
