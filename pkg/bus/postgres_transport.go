package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

// PostgresTransport implements Transport over PostgreSQL LISTEN/NOTIFY,
// adapted from a NOTIFY-based pub/sub bus: pg_notify for publish, a
// reconnecting pq.Listener for subscribe. NOTIFY has no native redelivery
// or consumer groups, so nack/dead-letter here are modeled as ordinary
// re-publishes onto the same (or a ".dead") channel; Client's retry
// bookkeeping carries the actual at-least-once guarantee.
type PostgresTransport struct {
	db       *sql.DB
	listener *pq.Listener

	mu       sync.RWMutex
	handlers map[string][]func(rawDelivery)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPostgresTransport opens dsn and starts the listener goroutine.
func NewPostgresTransport(dsn string) (*PostgresTransport, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("bus: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("bus: ping: %w", err)
	}
	return NewPostgresTransportWithDB(db, dsn)
}

// NewPostgresTransportWithDB wraps an existing *sql.DB.
func NewPostgresTransportWithDB(db *sql.DB, dsn string) (*PostgresTransport, error) {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t := &PostgresTransport{
		db:       db,
		listener: listener,
		handlers: make(map[string][]func(rawDelivery)),
		ctx:      ctx,
		cancel:   cancel,
	}

	t.wg.Add(1)
	go t.listen()
	return t, nil
}

func (t *PostgresTransport) Publish(ctx context.Context, topic string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}
	_, err = t.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", topic, string(data))
	if err != nil {
		return fmt.Errorf("bus: notify: %w", err)
	}
	return nil
}

func (t *PostgresTransport) subscribe(_ context.Context, topic string, _ []string, fn func(rawDelivery)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.handlers[topic]) == 0 {
		if err := t.listener.Listen(topic); err != nil {
			return fmt.Errorf("bus: listen: %w", err)
		}
	}
	t.handlers[topic] = append(t.handlers[topic], fn)
	return nil
}

func (t *PostgresTransport) Close() error {
	t.cancel()
	t.wg.Wait()
	return t.listener.Close()
}

func (t *PostgresTransport) listen() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case notification := <-t.listener.Notify:
			if notification == nil {
				continue // connection lost, pq.Listener reconnects on its own
			}
			t.deliver(notification)
		case <-time.After(90 * time.Second):
			t.listener.Ping()
		}
	}
}

func (t *PostgresTransport) deliver(notification *pq.Notification) {
	var env Envelope
	if err := json.Unmarshal([]byte(notification.Extra), &env); err != nil {
		return
	}

	t.mu.RLock()
	fns := make([]func(rawDelivery), len(t.handlers[notification.Channel]))
	copy(fns, t.handlers[notification.Channel])
	t.mu.RUnlock()

	channel := notification.Channel
	for _, fn := range fns {
		fn(rawDelivery{
			env: env,
			ack: func() error { return nil },
			nack: func() error {
				return t.Publish(context.Background(), channel, env)
			},
			deadLine: func() error {
				return t.Publish(context.Background(), channel+".dead", env)
			},
		})
	}
}
