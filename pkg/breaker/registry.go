package breaker

import "sync"

// Registry keeps one Breaker per service_id so unrelated callers guarding
// the same downstream endpoint share trip state. Both the LLM router's
// provider calls and the message bus's transport reconnect logic pull
// their breaker from the same Registry instance.
type Registry struct {
	mu            sync.RWMutex
	breakers      map[string]*Breaker
	onStateChange func(serviceID string, from, to State)
}

// NewRegistry creates an empty Registry. onStateChange, if non-nil, is
// attached to every Breaker the registry creates unless the caller supplies
// its own in Config.OnStateChange.
func NewRegistry(onStateChange func(serviceID string, from, to State)) *Registry {
	return &Registry{
		breakers:      make(map[string]*Breaker),
		onStateChange: onStateChange,
	}
}

// Get returns the existing Breaker for serviceID, or creates one from cfg.
// cfg is only consulted on first creation; later calls with a different cfg
// for the same serviceID are ignored and the original Breaker is returned.
func (r *Registry) Get(serviceID string, cfg Config) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[serviceID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[serviceID]; ok {
		return b
	}

	cfg.ServiceID = serviceID
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = r.onStateChange
	}
	b = New(cfg)
	r.breakers[serviceID] = b
	return b
}

// Snapshot returns the current state of every registered breaker, keyed by
// service_id, for health and status reporting.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.State()
	}
	return out
}
