package vsm

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/viable-systems/control-plane/pkg/audit"
	"github.com/viable-systems/control-plane/pkg/bus"
	"github.com/viable-systems/control-plane/pkg/policy"
)

// explanationPayload is the expected payload of a "vsm.s5.explanation"
// envelope, published by S4.
type explanationPayload struct {
	EpisodeID string `json:"episode_id"`
	Text      string `json:"text"`
}

// TopicS5PolicyUpdate is where a proposed policy update is submitted for
// S5's meta-policy evolver to accept, mutate, or reject.
const TopicS5PolicyUpdate = "vsm.s5.policy_update"

// policyCache is S3's cache of accepted policy values; S5 cascades
// accepted updates into it.
type policyCache interface {
	SetPolicy(name string, value map[string]any)
}

// S5 wraps the policy/governance engine: it receives explanation
// artifacts from S4 and runs proposed policy updates through the
// meta-policy evolver, cascading accepted updates down into S3's policy
// cache.
type S5 struct {
	tier
	evolver  *policy.Evolver
	auditLog auditAppender
	cache    policyCache
}

// auditAppender is the narrow audit dependency S5 needs to record policy
// decisions.
type auditAppender interface {
	Append(ctx context.Context, eventType, actor, tenantID string, eventData map[string]any) (audit.Entry, error)
}

func NewS5(b Publisher, sub Subscriber, evolver *policy.Evolver, cache policyCache, auditLog auditAppender, log *zap.Logger) *S5 {
	s := &S5{tier: newTier("s5", b, sub, log), evolver: evolver, cache: cache, auditLog: auditLog}
	s.on(VerbExplanation, s.handleExplanation)
	s.on(VerbPolicyUpdate, s.handlePolicyUpdate)
	return s
}

func (s *S5) handleExplanation(ctx context.Context, env bus.Envelope) bus.Result {
	var payload explanationPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return bus.NackResult(err)
	}
	s.log.Info("explanation received", zap.String("episode_id", payload.EpisodeID))
	return bus.AckResult()
}

func (s *S5) handlePolicyUpdate(ctx context.Context, env bus.Envelope) bus.Result {
	var update policy.Update
	if err := json.Unmarshal(env.Payload, &update); err != nil {
		return bus.NackResult(err)
	}
	update.TenantID = env.TenantID

	verdict, err := s.evolver.Evaluate(ctx, update)
	if err != nil {
		return bus.NackResult(err)
	}

	if s.auditLog != nil {
		s.auditLog.Append(ctx, "policy_update_evaluated", "s5", env.TenantID, map[string]any{
			"policy_name": update.PolicyName,
			"decision":    string(verdict.Decision),
			"reason":      verdict.Reason,
		})
	}

	switch verdict.Decision {
	case policy.DecisionAccept:
		s.cascade(update.PolicyName, update.Proposed)
	case policy.DecisionMutate:
		s.cascade(update.PolicyName, verdict.Mutated)
	case policy.DecisionReject:
		s.log.Info("policy update rejected", zap.String("policy", update.PolicyName), zap.String("reason", verdict.Reason))
	}

	return bus.AckResult()
}

func (s *S5) cascade(name string, value map[string]any) {
	if s.cache == nil || value == nil {
		return
	}
	s.cache.SetPolicy(name, value)
}
