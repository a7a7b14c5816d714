package vsm

import (
	"context"

	"go.uber.org/zap"

	"github.com/viable-systems/control-plane/pkg/bus"
)

const (
	TopicS1 = "vsm.s1.*"
	TopicS2 = "vsm.s2.coordinate"
)

// S1 consumes operational events and forwards coordination requests
// upward to S2. It owns no state of its own: coordination state lives
// in S2.
type S1 struct {
	tier
}

// NewS1 wires an Operations tier publishing coordination requests through
// b and subscribing for operational events through sub.
func NewS1(b Publisher, sub Subscriber, log *zap.Logger) *S1 {
	s := &S1{tier: newTier("s1", b, sub, log)}
	s.on(VerbOperation, s.handleOperation)
	return s
}

func (s *S1) handleOperation(ctx context.Context, env bus.Envelope) bus.Result {
	out, err := bus.New(TopicS2, env.TenantID, map[string]any{
		"workflow_id":    env.CorrelationID,
		"origin":         env.Type,
		"origin_payload": env.Payload,
	}, env.CorrelationID)
	if err != nil {
		return bus.NackResult(err)
	}
	if err := s.publish(ctx, TopicS2, out); err != nil {
		return bus.NackResult(err)
	}
	return bus.AckResult()
}
