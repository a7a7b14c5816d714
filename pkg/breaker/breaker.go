// Package breaker provides per-service circuit breaking backed by
// github.com/sony/gobreaker/v2, extended with the doubling-cooldown
// behavior required of a control plane that fronts many external
// providers with wildly different failure profiles.
package breaker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State mirrors gobreaker.State so callers never need to import gobreaker
// directly.
type State int

const (
	StateClosed State = State(gobreaker.StateClosed)
	StateOpen   State = State(gobreaker.StateOpen)
	// StateHalfOpen is entered after Timeout elapses; exactly one probe
	// request is allowed through before the breaker decides closed or open.
	StateHalfOpen State = State(gobreaker.StateHalfOpen)
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
	errForcedTrip      = errors.New("breaker forced open")
)

// Config describes a single breaker's trip and recovery thresholds.
type Config struct {
	// ServiceID identifies the guarded endpoint; used as the gobreaker name
	// and passed to OnStateChange.
	ServiceID string

	// MaxFailures is the number of consecutive failures that trips the
	// breaker from closed to open.
	MaxFailures int

	// Timeout is the base cooldown spent in the open state before a single
	// probe request is allowed through (half-open).
	Timeout time.Duration

	// MaxTimeout caps the cooldown growth described below. Zero means no
	// cap beyond a hardcoded sane ceiling.
	MaxTimeout time.Duration

	// HalfOpenMax bounds concurrent probes allowed while half-open. The
	// spec's single-probe recovery model wants this at 1; higher values are
	// accepted for callers with looser recovery requirements.
	HalfOpenMax int

	// OnStateChange is invoked on every transition, synchronously, before
	// the new state takes effect for new callers. Used to emit telemetry.
	OnStateChange func(serviceID string, from, to State)
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = 10 * time.Minute
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 1
	}
	return c
}

// Breaker wraps a gobreaker.CircuitBreaker and implements doubling cooldown:
// every time a half-open probe fails (half-open -> open), the next open
// period is twice as long as the last, capped at Config.MaxTimeout. A
// successful return to closed resets the cooldown back to Config.Timeout.
//
// gobreaker fixes its Timeout at construction, so the doubling is
// implemented by atomically swapping in a freshly built CircuitBreaker
// whenever the cooldown changes. The swap happens inside gobreaker's own
// OnStateChange callback, which is why an atomic.Pointer is used instead of
// a mutex guarding both the old and new breaker.
type Breaker struct {
	cfg     Config
	gb      atomic.Pointer[gobreaker.CircuitBreaker[any]]
	timeout atomic.Int64 // current cooldown, nanoseconds
}

// New creates a Breaker for a single service endpoint.
func New(cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{cfg: cfg}
	b.timeout.Store(int64(cfg.Timeout))
	b.gb.Store(b.build(cfg.Timeout))
	return b
}

func (b *Breaker) build(timeout time.Duration) *gobreaker.CircuitBreaker[any] {
	maxFailures := uint32(b.cfg.MaxFailures)
	settings := gobreaker.Settings{
		Name:        b.cfg.ServiceID,
		MaxRequests: uint32(b.cfg.HalfOpenMax),
		Interval:    0,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: b.onStateChange,
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}

func (b *Breaker) onStateChange(_ string, from, to gobreaker.State) {
	fromState, toState := State(from), State(to)

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.ServiceID, fromState, toState)
	}

	switch {
	case fromState == StateHalfOpen && toState == StateOpen:
		next := time.Duration(b.timeout.Load()) * 2
		if next > b.cfg.MaxTimeout {
			next = b.cfg.MaxTimeout
		}
		b.timeout.Store(int64(next))
		// A rebuilt breaker starts closed; fail it open with the caller's
		// callback muted so the failed probe leaves the breaker open for
		// the doubled cooldown.
		nb := b.build(next)
		notify := b.cfg.OnStateChange
		b.cfg.OnStateChange = nil
		for i := 0; i < b.cfg.MaxFailures; i++ {
			_, _ = nb.Execute(func() (any, error) { return nil, errForcedTrip })
		}
		b.cfg.OnStateChange = notify
		b.gb.Store(nb)
	case toState == StateClosed:
		b.timeout.Store(int64(b.cfg.Timeout))
		b.gb.Store(b.build(b.cfg.Timeout))
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	return State(b.gb.Load().State())
}

// Cooldown returns the cooldown that will be applied the next time the
// breaker trips open, reflecting any doubling already in effect.
func (b *Breaker) Cooldown() time.Duration {
	return time.Duration(b.timeout.Load())
}

// Trip forces the breaker open regardless of its failure count, for an
// administrative decision made outside the guarded call itself (S3's
// compliance checker opening a breaker on a declared-policy violation).
// It consumes MaxFailures consecutive synthetic failures against the
// live breaker so the transition still runs through the normal
// OnStateChange/doubling-cooldown path.
func (b *Breaker) Trip() {
	for i := 0; i < b.cfg.MaxFailures && b.State() != StateOpen; i++ {
		_ = b.Execute(context.Background(), func() error {
			return errForcedTrip
		})
	}
}

// Execute runs fn under circuit breaker protection. Context cancellation is
// the caller's responsibility via fn itself; gobreaker has no ctx-awareness.
func (b *Breaker) Execute(_ context.Context, fn func() error) error {
	gb := b.gb.Load()
	_, err := gb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		return ErrCircuitOpen
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrTooManyRequests
	}
	return err
}
