package vsm

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/viable-systems/control-plane/internal/platform/state"
	"github.com/viable-systems/control-plane/pkg/audit"
	"github.com/viable-systems/control-plane/pkg/breaker"
	"github.com/viable-systems/control-plane/pkg/bus"
	"github.com/viable-systems/control-plane/pkg/ratelimit"
)

// GlobalState is S3's own health state, driven by algedonic signals and
// declared-policy compliance.
type GlobalState string

const (
	StateNormal      GlobalState = "normal"
	StateWarning     GlobalState = "warning"
	StateCritical    GlobalState = "critical"
	StateIntervening GlobalState = "intervening"
)

// stateRank orders GlobalState so escalation/de-escalation can move one
// step at a time.
var stateRank = map[GlobalState]int{
	StateNormal:      0,
	StateWarning:     1,
	StateCritical:    2,
	StateIntervening: 3,
}

var stateByRank = []GlobalState{StateNormal, StateWarning, StateCritical, StateIntervening}

var _ policyCache = (*S3)(nil)

// InterventionKind enumerates the intervention actions S3 can take.
type InterventionKind string

const (
	InterventionRestartComponent InterventionKind = "restart_component"
	InterventionThrottleInput    InterventionKind = "throttle_input"
	InterventionPolicyUpdate     InterventionKind = "policy_update"
)

// ComplianceCheck is one declared policy S3's compliance checker
// re-evaluates on its cron schedule. A violation names the breaker (if
// any) that should trip in response.
type ComplianceCheck struct {
	Name        string
	Evaluate    func(ctx context.Context) (violated bool, reason string)
	TripBreaker string // service_id to force-open on violation; empty to skip
}

// S3Config bounds S3's hysteresis and compliance-check cadence.
type S3Config struct {
	// HysteresisWindow is how long painLevel must go without a fresh pain
	// signal before it starts decaying (default 2 minutes).
	HysteresisWindow time.Duration
	// DecayInterval is how often the decay/compliance cron tick fires.
	DecayInterval time.Duration
	// PainThreshold maps each non-normal state to the painLevel that
	// triggers entry into it.
	PainThreshold map[GlobalState]float64
	// ComplianceSpec is a cron/v3 schedule spec for re-evaluating checks;
	// defaults to every 5 minutes.
	ComplianceSpec string
	// PolicyStore persists the accepted-policy cache across restarts;
	// defaults to a process-local MemoryBackend, so a deployment that
	// doesn't wire a durable one just loses the cache on restart instead
	// of failing to start.
	PolicyStore state.PersistenceBackend
}

func (c S3Config) withDefaults() S3Config {
	if c.HysteresisWindow <= 0 {
		c.HysteresisWindow = 2 * time.Minute
	}
	if c.DecayInterval <= 0 {
		c.DecayInterval = 15 * time.Second
	}
	if c.PainThreshold == nil {
		c.PainThreshold = map[GlobalState]float64{
			StateWarning:     0.25,
			StateCritical:    0.5,
			StateIntervening: 0.8,
		}
	}
	if c.ComplianceSpec == "" {
		c.ComplianceSpec = "@every 5m"
	}
	if c.PolicyStore == nil {
		c.PolicyStore = state.NewMemoryBackend(0)
	}
	return c
}

// S3 hosts the rate limiter and breaker registry S4 queries before every
// LLM call, tracks global health state via algedonic signals with
// hysteresis decay, and runs a periodic compliance checker.
type S3 struct {
	tier

	limiter  *ratelimit.Limiter
	breakers *breaker.Registry
	auditLog *audit.Chain
	log      *zap.Logger
	cfg      S3Config
	cron     *cron.Cron

	mu         sync.Mutex
	state      GlobalState
	painLevel  float64
	lastPainAt time.Time

	checksMu sync.Mutex
	checks   []ComplianceCheck

	policyMu sync.Mutex
	policies map[string]map[string]any
}

// NewS3 wires the Control tier to the shared rate limiter, breaker
// registry, and audit chain an S4 deployment also depends on.
func NewS3(b Publisher, sub Subscriber, limiter *ratelimit.Limiter, breakers *breaker.Registry, auditLog *audit.Chain, log *zap.Logger, cfg S3Config) *S3 {
	cfg = cfg.withDefaults()
	s := &S3{
		tier:     newTier("s3", b, sub, log),
		limiter:  limiter,
		breakers: breakers,
		auditLog: auditLog,
		log:      log,
		cfg:      cfg,
		state:    StateNormal,
		cron:     cron.New(),
		policies: loadPolicies(cfg.PolicyStore, log),
	}
	s.on(VerbSync, s.handleSync)
	s.on(VerbStatusRequest, s.handleStatusRequest)
	if _, err := s.cron.AddFunc(every(s.cfg.DecayInterval), func() { s.decay(time.Now().UTC()) }); err != nil {
		log.Error("failed to schedule hysteresis decay tick", zap.Error(err))
	}
	if _, err := s.cron.AddFunc(s.cfg.ComplianceSpec, func() { s.runComplianceChecks(context.Background()) }); err != nil {
		log.Error("failed to schedule compliance checker", zap.Error(err))
	}
	return s
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

const policyStoreKey = "vsm:s3:policies"

// loadPolicies recovers the cached policy set a prior process persisted,
// starting empty if the store has nothing yet (or fails to load).
func loadPolicies(store state.PersistenceBackend, log *zap.Logger) map[string]map[string]any {
	policies := make(map[string]map[string]any)
	data, err := store.Load(context.Background(), policyStoreKey)
	if err != nil {
		return policies
	}
	if err := json.Unmarshal(data, &policies); err != nil {
		log.Warn("discarding corrupt persisted policy cache", zap.Error(err))
		return make(map[string]map[string]any)
	}
	return policies
}

// Limiter returns the shared budget authority for S4 to query before LLM
// calls.
func (s *S3) Limiter() *ratelimit.Limiter { return s.limiter }

// Breakers returns the shared breaker registry for S4 to query before
// provider calls.
func (s *S3) Breakers() *breaker.Registry { return s.breakers }

// State returns the current global health state.
func (s *S3) State() GlobalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetPolicy overwrites S3's cached value for a policy name, implementing
// the policyCache interface S5 cascades accepted updates into.
func (s *S3) SetPolicy(name string, value map[string]any) {
	s.policyMu.Lock()
	defer s.policyMu.Unlock()
	s.policies[name] = value

	data, err := json.Marshal(s.policies)
	if err != nil {
		s.log.Warn("failed to encode policy cache for persistence", zap.Error(err))
		return
	}
	if err := s.cfg.PolicyStore.Save(context.Background(), policyStoreKey, data); err != nil {
		s.log.Warn("failed to persist policy cache", zap.Error(err))
	}
}

// Policy returns S3's current cached value for a policy name.
func (s *S3) Policy(name string) (map[string]any, bool) {
	s.policyMu.Lock()
	defer s.policyMu.Unlock()
	value, ok := s.policies[name]
	return value, ok
}

// RegisterComplianceCheck adds a declared policy to the periodic
// compliance sweep.
func (s *S3) RegisterComplianceCheck(c ComplianceCheck) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	s.checks = append(s.checks, c)
}

// Start begins the cron-driven decay/compliance ticks in addition to the
// tier's own bus subscription.
func (s *S3) Start(ctx context.Context, topics ...string) error {
	s.cron.Start()
	return s.tier.Start(ctx, topics...)
}

// Stop halts the cron-driven ticks.
func (s *S3) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ProcessSignal applies an algedonic signal directly, bypassing the bus
// dispatch table entirely: algedonic signals bypass the hierarchy and
// go directly to S3.
func (s *S3) ProcessSignal(ctx context.Context, sig Signal) {
	severity := clampSeverity(sig.Severity)

	s.mu.Lock()
	if sig.Kind == SignalPain {
		s.painLevel += severity
		if s.painLevel > 1 {
			s.painLevel = 1
		}
		s.lastPainAt = time.Now().UTC()
	} else {
		s.painLevel -= severity
		if s.painLevel < 0 {
			s.painLevel = 0
		}
	}
	newState := s.stateForPainLocked()
	oldState := s.state
	s.state = newState
	s.mu.Unlock()

	if newState != oldState {
		s.onStateTransition(ctx, oldState, newState, sig)
	}
}

// stateForPainLocked derives the state an escalating painLevel demands.
// Escalation can jump straight to the matching band; de-escalation is
// handled separately by decay, one step at a time.
func (s *S3) stateForPainLocked() GlobalState {
	target := StateNormal
	for gs, threshold := range s.cfg.PainThreshold {
		if s.painLevel >= threshold && stateRank[gs] > stateRank[target] {
			target = gs
		}
	}
	if stateRank[target] > stateRank[s.state] {
		return target
	}
	return s.state
}

// decay runs on every cron tick: once HysteresisWindow has elapsed since
// the last pain signal, painLevel decays toward zero and the state
// downgrades at most one step per tick, per the Open Question resolution
// in DESIGN.md.
func (s *S3) decay(now time.Time) {
	s.mu.Lock()
	if now.Sub(s.lastPainAt) <= s.cfg.HysteresisWindow {
		s.mu.Unlock()
		return
	}

	s.painLevel -= 0.1
	if s.painLevel < 0 {
		s.painLevel = 0
	}

	oldState := s.state
	newState := oldState
	if rank := stateRank[oldState]; rank > 0 {
		lowerThreshold := thresholdBelow(s.cfg.PainThreshold, oldState)
		if s.painLevel < lowerThreshold {
			newState = stateByRank[rank-1]
		}
	}
	s.state = newState
	s.mu.Unlock()

	if newState != oldState {
		s.onStateTransition(context.Background(), oldState, newState, Signal{})
	}
}

func thresholdBelow(thresholds map[GlobalState]float64, gs GlobalState) float64 {
	rank := stateRank[gs]
	if rank == 0 {
		return 0
	}
	return thresholds[gs]
}

func (s *S3) onStateTransition(ctx context.Context, from, to GlobalState, sig Signal) {
	s.log.Info("global state transition",
		zap.String("from", string(from)), zap.String("to", string(to)), zap.Float64("pain_level", s.painLevel))

	if stateRank[to] > stateRank[from] && to == StateIntervening {
		s.intervene(ctx, InterventionThrottleInput, sig.TenantID, "intervening state entered")
	}
}

// intervene records an intervention's start/end in the audit chain around
// running it. Running an intervention here means recording intent; the
// actual restart/throttle/policy-update side effect is left to whatever
// component owns that resource, triggered by the audit entry or a direct
// callback registered by the deployment.
func (s *S3) intervene(ctx context.Context, kind InterventionKind, tenantID, reason string) {
	if s.auditLog == nil {
		return
	}
	entry, err := s.auditLog.Append(ctx, "intervention_started", "s3", tenantID, map[string]any{
		"kind": string(kind), "reason": reason,
	})
	if err != nil {
		s.log.Error("failed to record intervention start", zap.Error(err))
		return
	}
	s.auditLog.Append(ctx, "intervention_completed", "s3", tenantID, map[string]any{
		"kind": string(kind), "previous_entry": entry.ID,
	})
}

func (s *S3) runComplianceChecks(ctx context.Context) {
	s.checksMu.Lock()
	checks := make([]ComplianceCheck, len(s.checks))
	copy(checks, s.checks)
	s.checksMu.Unlock()

	for _, check := range checks {
		violated, reason := check.Evaluate(ctx)
		if !violated {
			continue
		}
		s.log.Warn("compliance check violated", zap.String("check", check.Name), zap.String("reason", reason))
		if s.auditLog != nil {
			s.auditLog.Append(ctx, "compliance_violation", "s3", "", map[string]any{
				"check": check.Name, "reason": reason,
			})
		}
		if check.TripBreaker != "" && s.breakers != nil {
			s.breakers.Get(check.TripBreaker, breaker.Config{}).Trip()
		}
	}
}

// TopicStatusResponse is where S3 publishes the answer to a status_request,
// mirroring the downward S4->S5 reply direction used elsewhere in the
// hierarchy.
const TopicStatusResponse = "vsm.s2.status_response"

// TopicS3StatusRequest is where S3 listens for requests for its current
// global state, e.g. from an operator tool polling system health.
const TopicS3StatusRequest = "vsm.s3.status_request"

type syncPayload struct {
	WorkflowID string  `json:"workflow_id"`
	Weight     float64 `json:"weight"`
	Decision   string  `json:"decision"`
}

// handleSync records S2's coordination decision for a workflow. A
// "rejected" decision carries forward as a mild pain signal: it indicates
// S2 could not reconcile the workflow's competing attention weights, which
// is exactly the kind of friction S3's hysteresis tracks.
func (s *S3) handleSync(ctx context.Context, env bus.Envelope) bus.Result {
	var payload syncPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return bus.NackResult(err)
	}

	s.log.Info("coordination sync",
		zap.String("workflow_id", payload.WorkflowID),
		zap.Float64("weight", payload.Weight),
		zap.String("decision", payload.Decision))

	if payload.Decision == "rejected" {
		s.ProcessSignal(ctx, Signal{
			Kind: SignalPain, Severity: 0.1, Source: "s2_sync",
			TenantID: env.TenantID, At: time.Now().UTC(),
		})
	}
	return bus.AckResult()
}

type statusResponsePayload struct {
	State         GlobalState `json:"state"`
	PainLevel     float64     `json:"pain_level"`
	ComplianceRun int         `json:"compliance_checks_registered"`
}

// handleStatusRequest answers a status_request with S3's current global
// health snapshot, published back to S2.
func (s *S3) handleStatusRequest(ctx context.Context, env bus.Envelope) bus.Result {
	s.mu.Lock()
	gs := s.state
	pain := s.painLevel
	s.mu.Unlock()

	s.checksMu.Lock()
	registered := len(s.checks)
	s.checksMu.Unlock()

	out, err := bus.New(TopicStatusResponse, env.TenantID, statusResponsePayload{
		State: gs, PainLevel: pain, ComplianceRun: registered,
	}, env.CorrelationID)
	if err != nil {
		return bus.NackResult(err)
	}
	if err := s.publish(ctx, TopicStatusResponse, out); err != nil {
		return bus.NackResult(err)
	}
	return bus.AckResult()
}
