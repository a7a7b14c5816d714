package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisTransport implements Transport over Redis Streams. Each topic stream
// gets the consumer group named at construction (binding patterns are not
// used) and deliveries are acked with XACK; dead-lettering acks the entry
// and adds it to a "<topic>.dead" stream. Pending entries are never
// claimed (no XCLAIM).
type RedisTransport struct {
	client *redis.Client
	group  string

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisTransport creates a transport over an existing redis.Client.
// group names the consumer group shared by every subscriber of this
// process (e.g. the service name), so after a restart the group continues
// with entries it has not yet delivered instead of replaying the stream
// from the start; entries delivered but never acked stay pending.
func NewRedisTransport(client *redis.Client, group string) *RedisTransport {
	return &RedisTransport{client: client, group: group}
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}
	return t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{"envelope": data},
	}).Err()
}

func (t *RedisTransport) subscribe(ctx context.Context, topic string, _ []string, fn func(rawDelivery)) error {
	if err := t.client.XGroupCreateMkStream(ctx, topic, t.group, "0").Err(); err != nil {
		// BUSYGROUP means the group already exists, which is expected on
		// every subscribe after the first.
		if err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("bus: create consumer group: %w", err)
		}
	}

	consumerName := fmt.Sprintf("%s-%d", t.group, time.Now().UnixNano())

	subCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.readLoop(subCtx, topic, consumerName, fn)
	return nil
}

func (t *RedisTransport) readLoop(ctx context.Context, topic, consumerName string, fn func(rawDelivery)) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    t.group,
			Consumer: consumerName,
			Streams:  []string{topic, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				t.dispatch(ctx, topic, msg, fn)
			}
		}
	}
}

func (t *RedisTransport) dispatch(ctx context.Context, topic string, msg redis.XMessage, fn func(rawDelivery)) {
	raw, _ := msg.Values["envelope"].(string)
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.client.XAck(ctx, topic, t.group, msg.ID)
		return
	}

	fn(rawDelivery{
		env: env,
		ack: func() error {
			return t.client.XAck(ctx, topic, t.group, msg.ID).Err()
		},
		nack: func() error {
			// Leaving the entry unacked makes it reappear via XReadGroup
			// for this consumer (and claimable by others) until XAck'd;
			// re-publish keeps the retry visible as a fresh stream entry
			// carrying the updated delivery count.
			t.client.XAck(ctx, topic, t.group, msg.ID)
			return t.Publish(ctx, topic, env)
		},
		deadLine: func() error {
			t.client.XAck(ctx, topic, t.group, msg.ID)
			return t.Publish(ctx, topic+".dead", env)
		},
	})
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	return nil
}
