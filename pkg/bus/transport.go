package bus

import "context"

// rawDelivery is what a Transport hands to the Client for each message: the
// Envelope plus transport-specific ack/nack primitives the Client drives
// based on the Handler's Result.
type rawDelivery struct {
	env      Envelope
	ack      func() error
	nack     func() error
	deadLine func() error // move straight to dead-letter, bypassing requeue
}

// Transport is the durability/delivery layer under Client. Two transports
// are provided: Redis Streams (consumer groups give ack/nack/dead-letter
// for free) and Postgres LISTEN/NOTIFY (no native redelivery, so the
// Client's own retry bookkeeping carries more weight there).
type Transport interface {
	// Publish delivers env on topic, durably, returning only once the
	// broker has confirmed receipt.
	Publish(ctx context.Context, topic string, env Envelope) error

	// subscribe registers deliveries fn for topic, matching binding
	// patterns. Delivery is one-at-a-time per consumer; fn must call
	// exactly one of the rawDelivery's ack/nack/deadLine functions.
	subscribe(ctx context.Context, topic string, bindingPatterns []string, fn func(rawDelivery)) error

	// Close releases transport resources and stops delivering.
	Close() error
}
