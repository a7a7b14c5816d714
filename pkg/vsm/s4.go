package vsm

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/viable-systems/control-plane/pkg/bus"
	"github.com/viable-systems/control-plane/pkg/llmrouter"
)

const TopicS5 = "vsm.s5.explanation"

// TopicS4 is where S4 listens for analysis requests, whether routed
// through the bus internally or bridged in from the synchronous HTTP edge.
const TopicS4 = "vsm.s4.analyze"

// analyzeRequest is the expected payload of a "vsm.s4.analyze" envelope.
type analyzeRequest struct {
	EpisodeID string            `json:"episode_id"`
	Kind      string            `json:"kind"`
	Prompt    string            `json:"prompt"`
	Priority  string            `json:"priority"`
	Options   llmrouter.Options `json:"options"`
}

// S4 wraps the LLM router: it is the sole VSM tier that ever calls
// Router.Analyze, publishing the result downstream to S5 as an
// explanation artifact.
type S4 struct {
	tier
	router *llmrouter.Router
}

func NewS4(b Publisher, sub Subscriber, router *llmrouter.Router, log *zap.Logger) *S4 {
	s := &S4{tier: newTier("s4", b, sub, log), router: router}
	s.on(VerbAnalyze, s.handleAnalyze)
	return s
}

func (s *S4) handleAnalyze(ctx context.Context, env bus.Envelope) bus.Result {
	var req analyzeRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return bus.NackResult(err)
	}

	episode := llmrouter.Episode{
		ID:       req.EpisodeID,
		Kind:     req.Kind,
		Prompt:   req.Prompt,
		Priority: llmrouter.Priority(req.Priority),
		TenantID: env.TenantID,
	}

	result, err := s.router.Analyze(ctx, episode, req.Options)
	if err != nil {
		return bus.NackResult(err)
	}

	out, err := bus.New(TopicS5, env.TenantID, map[string]any{
		"episode_id": req.EpisodeID,
		"text":       result.Text,
		"provider":   result.Provider,
		"cache_hit":  result.CacheHit,
	}, env.CorrelationID)
	if err != nil {
		return bus.NackResult(err)
	}
	if err := s.publish(ctx, TopicS5, out); err != nil {
		return bus.NackResult(err)
	}
	return bus.AckResult()
}
