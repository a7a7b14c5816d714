// Package vsm implements the S1-S5 Viable System Model hierarchy (C11):
// per-tier consumer services dispatching on message-bus routing key verb,
// coordination attention state, budget/breaker authority, and the
// algedonic signal channel that bypasses the hierarchy straight to S3.
package vsm

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/viable-systems/control-plane/pkg/bus"
)

// Verb is the routing-key suffix a tier dispatches on, e.g. "coordinate"
// in "vsm.s2.coordinate".
type Verb string

const (
	VerbCoordinate           Verb = "coordinate"
	VerbCoordinationComplete Verb = "coordination_complete"
	VerbSync                 Verb = "sync"
	VerbStatusRequest        Verb = "status_request"
	VerbPolicyUpdate         Verb = "policy_update"
	VerbAnalyze              Verb = "analyze"
	VerbExplanation          Verb = "explanation"
	VerbAlgedonic            Verb = "algedonic"
	VerbOperation            Verb = "operation"
)

// HandlerFunc processes one envelope already routed to a tier's verb
// dispatch table.
type HandlerFunc func(ctx context.Context, env bus.Envelope) bus.Result

// Publisher is the narrow bus dependency a tier needs to emit downstream
// messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, env bus.Envelope) error
}

// Subscriber is the narrow bus dependency a tier needs to receive its
// inbound topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, bindingPatterns []string, handler bus.Handler) error
}

// tier is the shared actor scaffolding every Sn service embeds: a bounded
// handler dispatch table keyed by routing-key verb, wired to a bus
// subscription on "vsm.sN.*".
type tier struct {
	name     string
	bus      Publisher
	sub      Subscriber
	log      *zap.Logger
	handlers map[Verb]HandlerFunc
}

func newTier(name string, b Publisher, sub Subscriber, log *zap.Logger) tier {
	return tier{
		name:     name,
		bus:      b,
		sub:      sub,
		log:      log,
		handlers: make(map[Verb]HandlerFunc),
	}
}

func (t *tier) on(verb Verb, fn HandlerFunc) {
	t.handlers[verb] = fn
}

// Start subscribes to every topic in topics and dispatches each delivery
// to the handler registered for its routing-key verb. The underlying bus
// transports treat topic as a literal stream key rather than a glob, so a
// tier that handles more than one verb must be given one topic per verb
// (each producer publishes to the literal topic matching the verb it's
// sending, by convention the same string as the envelope's Type). An
// envelope whose verb has no registered handler is acked and logged
// rather than endlessly redelivered.
func (t *tier) Start(ctx context.Context, topics ...string) error {
	dispatch := func(ctx context.Context, env bus.Envelope) bus.Result {
		verb := verbOf(env.Type)
		handler, ok := t.handlers[verb]
		if !ok {
			t.log.Warn("unhandled routing key", zap.String("tier", t.name), zap.String("type", env.Type))
			return bus.AckResult()
		}
		return handler(ctx, env)
	}
	for _, topic := range topics {
		if err := t.sub.Subscribe(ctx, topic, []string{topic}, dispatch); err != nil {
			return err
		}
	}
	return nil
}

func (t *tier) publish(ctx context.Context, topic string, env bus.Envelope) error {
	return t.bus.Publish(ctx, topic, env)
}

// verbOf extracts the verb from a routing key of the form "vsm.sN.verb".
func verbOf(routingKey string) Verb {
	idx := strings.LastIndex(routingKey, ".")
	if idx < 0 {
		return Verb(routingKey)
	}
	return Verb(routingKey[idx+1:])
}
