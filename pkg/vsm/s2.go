package vsm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/viable-systems/control-plane/pkg/bus"
)

const TopicS3 = "vsm.s3.sync"

// TopicS2CoordinationComplete is where a finished operation tells S2 to
// release a workflow's attention weight.
const TopicS2CoordinationComplete = "vsm.s2.coordination_complete"

// Weight is one workflow's attention weight: Focus multiplies Value and
// bumps LastSeen.
type Weight struct {
	Value    float64
	LastSeen time.Time
}

const focusMultiplier = 1.5

// S2 holds per-workflow attention weights and publishes coordination
// decisions to S3.
type S2 struct {
	tier

	mu      sync.Mutex
	weights map[string]*Weight
}

func NewS2(b Publisher, sub Subscriber, log *zap.Logger) *S2 {
	s := &S2{tier: newTier("s2", b, sub, log), weights: make(map[string]*Weight)}
	s.on(VerbCoordinate, s.handleCoordinate)
	s.on(VerbCoordinationComplete, s.handleCoordinationComplete)
	return s
}

// Focus multiplies workflowID's attention weight (creating it at 1.0 if
// unseen) and updates LastSeen to now.
func (s *S2) Focus(workflowID string) Weight {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.weights[workflowID]
	if !ok {
		w = &Weight{Value: 1.0}
		s.weights[workflowID] = w
	}
	w.Value *= focusMultiplier
	w.LastSeen = time.Now().UTC()
	return *w
}

// Snapshot returns a copy of the current attention weights for status
// reporting.
func (s *S2) Snapshot() map[string]Weight {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Weight, len(s.weights))
	for id, w := range s.weights {
		out[id] = *w
	}
	return out
}

func (s *S2) handleCoordinate(ctx context.Context, env bus.Envelope) bus.Result {
	workflowID := env.CorrelationID
	weight := s.Focus(workflowID)

	out, err := bus.New(TopicS3, env.TenantID, map[string]any{
		"workflow_id": workflowID,
		"weight":      weight.Value,
		"decision":    "coordinated",
	}, env.CorrelationID)
	if err != nil {
		return bus.NackResult(err)
	}
	if err := s.publish(ctx, TopicS3, out); err != nil {
		return bus.NackResult(err)
	}
	return bus.AckResult()
}

func (s *S2) handleCoordinationComplete(ctx context.Context, env bus.Envelope) bus.Result {
	s.mu.Lock()
	delete(s.weights, env.CorrelationID)
	s.mu.Unlock()
	return bus.AckResult()
}
