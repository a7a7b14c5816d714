// Package llmrouter implements the S4 core: episode-driven routing across
// LLM provider fallback chains, wired to this repo's circuit breaker
// (pkg/breaker), rate limiter (pkg/ratelimit), and cache (pkg/cache).
// Grounded on the provider-call/option shape of an agent framework's LLM
// client abstraction and a runtime's client-decorator composition idiom.
package llmrouter

import "time"

// Priority carries through to the rate limiter's priority-boosted budget.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Episode is one analysis request routed through a fallback chain keyed
// by Kind.
type Episode struct {
	ID       string
	Kind     string
	Prompt   string
	Priority Priority
	TenantID string
	Metadata map[string]any
}

// Options carries per-call knobs the router never inspects beyond
// OverrideChain and ModelPolicy; Stream/ToolUse are opaque passthroughs
// to the provider adapter.
type Options struct {
	OverrideChain string
	ModelPolicy   string
	Stream        bool
	ToolUse       map[string]any
}

// Turn is one exchange retained in an episode's bounded memory ring.
type Turn struct {
	Role     string
	Content  string
	Metadata map[string]any
	At       time.Time
}

// Usage reports token accounting for one provider call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is what Router.Analyze returns on success.
type Result struct {
	Text      string
	Usage     Usage
	Provider  string
	CacheHit  bool
	Fallbacks int
}
