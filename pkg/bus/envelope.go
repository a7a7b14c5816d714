// Package bus implements the C1 message bus client: durable publish/
// subscribe over a topic-routed broker, with ack/nack/retry-after,
// exponential-backoff requeue, dead-lettering, and nonce-based dedup so
// handlers can be idempotent under at-least-once delivery.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire format for every message on the bus:
// {type, payload, correlation_id, nonce, ts, tenant_id}.
type Envelope struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id"`
	Nonce         string          `json:"nonce"`
	Timestamp     time.Time       `json:"ts"`
	TenantID      string          `json:"tenant_id"`

	// deliveryCount is transport-local bookkeeping for retry/dead-letter
	// decisions; it is not part of the wire envelope.
	deliveryCount int
}

// New builds an Envelope with a fresh nonce and timestamp. correlationID may
// be empty for a new causal chain, in which case the nonce also serves as
// the correlation root.
func New(msgType, tenantID string, payload interface{}, correlationID string) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}

	nonce := uuid.NewString()
	if correlationID == "" {
		correlationID = nonce
	}

	return Envelope{
		Type:          msgType,
		Payload:       data,
		CorrelationID: correlationID,
		Nonce:         nonce,
		Timestamp:     time.Now().UTC(),
		TenantID:      tenantID,
	}, nil
}

// Decision is what a Handler returns after processing an Envelope.
type Decision int

const (
	// Ack confirms successful, final processing.
	Ack Decision = iota
	// Nack requests immediate requeue under the backoff schedule.
	Nack
	// RetryAfter requests requeue no sooner than the handler-specified
	// delay (e.g. a rate-limited downstream call asking for backpressure).
	RetryAfter
)

// Result is returned by a Handler.
type Result struct {
	Decision   Decision
	RetryDelay time.Duration // consulted only when Decision == RetryAfter
	Err        error         // recorded for dead-letter diagnostics
}

// AckResult, NackResult and RetryAfterResult are the common constructors a
// Handler returns.
func AckResult() Result { return Result{Decision: Ack} }

func NackResult(err error) Result { return Result{Decision: Nack, Err: err} }

func RetryAfterResult(delay time.Duration, err error) Result {
	return Result{Decision: RetryAfter, RetryDelay: delay, Err: err}
}

// Handler processes a single Envelope delivered one-at-a-time per consumer.
// Handlers MUST be idempotent, keyed by Envelope.Nonce, since delivery is
// at-least-once.
type Handler func(ctx context.Context, env Envelope) Result
