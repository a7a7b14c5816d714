package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/viable-systems/control-plane/pkg/llmrouter"
)

const (
	KindPolicyReview    = "policy_review"
	KindComplianceCheck = "compliance_check"
)

// Analyzer is the narrow dependency Analyst needs from the LLM router,
// kept separate from llmrouter.Router so a test double never has to stand
// up breakers, budgets, or a cache.
type Analyzer interface {
	Analyze(ctx context.Context, episode llmrouter.Episode, opts llmrouter.Options) (llmrouter.Result, error)
}

// Analyst submits governance questions to S4 and turns the response into
// a structured Explanation.
type Analyst struct {
	router Analyzer
}

func NewAnalyst(router Analyzer) *Analyst {
	return &Analyst{router: router}
}

// Review submits a policy_review or compliance_check episode and parses
// the provider's response. Providers are instructed (by the caller's
// prompt construction) to answer with a JSON object shaped like
// Explanation; a response that isn't valid JSON degrades to a low-
// confidence Explanation carrying the raw text as its summary rather than
// failing the whole analysis.
func (a *Analyst) Review(ctx context.Context, tenantID, kind, title string, payload map[string]any) (Explanation, error) {
	prompt := buildReviewPrompt(kind, title, payload)
	episode := llmrouter.Episode{
		ID:       fmt.Sprintf("%s-%d", tenantID, time.Now().UnixNano()),
		Kind:     kind,
		Prompt:   prompt,
		Priority: llmrouter.PriorityNormal,
		TenantID: tenantID,
	}

	result, err := a.router.Analyze(ctx, episode, llmrouter.Options{})
	if err != nil {
		return Explanation{}, err
	}

	return parseExplanation(episode.ID, result.Text), nil
}

func buildReviewPrompt(kind, title string, payload map[string]any) string {
	return fmt.Sprintf(
		"kind=%s\ntitle=%s\npayload=%v\nRespond with a JSON object: "+
			"{summary, root_cause, impact, recommended_actions[], confidence, sop_references[]}.",
		kind, title, payload,
	)
}

func parseExplanation(episodeID, text string) Explanation {
	parsed := gjson.Parse(text)
	if !parsed.IsObject() {
		return Explanation{
			EpisodeID:  episodeID,
			Summary:    text,
			Confidence: 0,
		}
	}

	explanation := Explanation{
		EpisodeID:  episodeID,
		Summary:    parsed.Get("summary").String(),
		RootCause:  parsed.Get("root_cause").String(),
		Impact:     parsed.Get("impact").String(),
		Confidence: parsed.Get("confidence").Float(),
	}
	for _, action := range parsed.Get("recommended_actions").Array() {
		explanation.RecommendedActions = append(explanation.RecommendedActions, action.String())
	}
	for _, ref := range parsed.Get("sop_references").Array() {
		explanation.SOPReferences = append(explanation.SOPReferences, ref.String())
	}
	return explanation
}
