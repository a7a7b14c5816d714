package bus

import (
	"context"
	"time"
)

// DeadLetterHandler is invoked once an Envelope exhausts its retry budget.
type DeadLetterHandler func(ctx context.Context, env Envelope, cause error)

// ClientConfig bounds the requeue-with-backoff schedule before an Envelope
// is dead-lettered.
type ClientConfig struct {
	// MaxRetries is the number of nack/retry-after cycles allowed before
	// dead-lettering: handlers convert all exceptions to nack+dead-letter
	// after N retries (default 5).
	MaxRetries int

	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

func (c ClientConfig) backoffFor(attempt int) time.Duration {
	delay := c.BaseBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return delay
}

// Client is the durable publish/subscribe facade used by every VSM tier. It
// owns retry/backoff/dead-letter policy uniformly across transports and
// drops duplicate deliveries via a shared NonceLedger.
type Client struct {
	transport    Transport
	nonces       *NonceLedger
	cfg          ClientConfig
	onDeadLetter DeadLetterHandler
}

// NewClient wires a Client around transport. onDeadLetter may be nil.
func NewClient(transport Transport, cfg ClientConfig, onDeadLetter DeadLetterHandler) *Client {
	return &Client{
		transport:    transport,
		nonces:       NewNonceLedger(0),
		cfg:          cfg.withDefaults(),
		onDeadLetter: onDeadLetter,
	}
}

// Publish sends env durably to topic.
func (c *Client) Publish(ctx context.Context, topic string, env Envelope) error {
	return c.transport.Publish(ctx, topic, env)
}

// Subscribe delivers messages on topic matching bindingPatterns to handler,
// one at a time per consumer. Duplicate (tenant_id, nonce) pairs are
// dropped (acked without invoking handler).
func (c *Client) Subscribe(ctx context.Context, topic string, bindingPatterns []string, handler Handler) error {
	return c.transport.subscribe(ctx, topic, bindingPatterns, func(rd rawDelivery) {
		if c.nonces.Seen(rd.env.TenantID, rd.env.Nonce) {
			rd.ack()
			return
		}

		result := handler(ctx, rd.env)
		switch result.Decision {
		case Ack:
			c.nonces.Record(rd.env.TenantID, rd.env.Nonce)
			rd.ack()
		case Nack:
			c.requeueOrDeadLetter(ctx, rd, result.Err)
		case RetryAfter:
			c.retryAfter(ctx, rd, result.RetryDelay, result.Err)
		}
	})
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) requeueOrDeadLetter(ctx context.Context, rd rawDelivery, cause error) {
	rd.env.deliveryCount++
	if rd.env.deliveryCount > c.cfg.MaxRetries {
		rd.deadLine()
		if c.onDeadLetter != nil {
			c.onDeadLetter(ctx, rd.env, cause)
		}
		return
	}

	delay := c.cfg.backoffFor(rd.env.deliveryCount)
	c.scheduleRequeue(rd, delay)
}

func (c *Client) retryAfter(ctx context.Context, rd rawDelivery, delay time.Duration, cause error) {
	rd.env.deliveryCount++
	if rd.env.deliveryCount > c.cfg.MaxRetries {
		rd.deadLine()
		if c.onDeadLetter != nil {
			c.onDeadLetter(ctx, rd.env, cause)
		}
		return
	}
	if delay <= 0 {
		delay = c.cfg.backoffFor(rd.env.deliveryCount)
	}
	c.scheduleRequeue(rd, delay)
}

func (c *Client) scheduleRequeue(rd rawDelivery, delay time.Duration) {
	if delay <= 0 {
		rd.nack()
		return
	}
	time.AfterFunc(delay, func() {
		rd.nack()
	})
}
