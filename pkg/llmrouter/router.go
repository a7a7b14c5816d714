package llmrouter

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
	"github.com/viable-systems/control-plane/pkg/breaker"
	"github.com/viable-systems/control-plane/pkg/cache"
	"github.com/viable-systems/control-plane/pkg/ratelimit"
)

const (
	llmBudget       = "s4_llm"
	breakerMaxDelay = 30 * time.Second
	defaultCacheTTL = 10 * time.Minute
)

// Logger is the narrow telemetry dependency the router emits events
// through; satisfied by *telemetry.Bus without importing it.
type Logger interface {
	Emit(eventName string, measurements map[string]float64, metadata map[string]any)
}

// Router holds provider chains keyed by episode kind and the shared
// breaker/budget/cache authorities an S4 deployment wires in from S3 (C6,
// C5) and C7.
type Router struct {
	chains    map[string]Chain
	providers map[string]Provider

	breakers *breaker.Registry
	limits   *ratelimit.Limiter
	cache    *cache.Cache
	logger   Logger
	memory   *Memory

	breakerConfig breaker.Config
	backoffBase   time.Duration

	// fpMu/fingerprints index the episode-kind/prompt/model-policy
	// fingerprint onto the cache's content-addressed key, since Cache
	// itself only ever keys by SHA-256 of the stored bytes.
	fpMu         sync.Mutex
	fingerprints map[string]string
}

// NewRouter wires a Router to its breaker registry, rate limiter, cache,
// and telemetry logger. Any of breakers/limits/cache/logger may be nil to
// disable that concern (useful in tests that exercise only the fallback
// loop).
func NewRouter(breakers *breaker.Registry, limits *ratelimit.Limiter, c *cache.Cache, logger Logger) *Router {
	return &Router{
		chains:       make(map[string]Chain),
		providers:    make(map[string]Provider),
		breakers:     breakers,
		limits:       limits,
		cache:        c,
		logger:       logger,
		memory:       NewMemory(0),
		fingerprints: make(map[string]string),
		backoffBase:  time.Second,
		breakerConfig: breaker.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			MaxTimeout:  breakerMaxDelay,
		},
	}
}

// RegisterProvider makes a provider callable by ID from any chain.
func (r *Router) RegisterProvider(p Provider) {
	r.providers[p.ID()] = p
}

// SetBackoffBase overrides the base unit used in sleepBackoff's
// exponential delay (default 1s); tests shrink it to keep fallback
// coverage fast.
func (r *Router) SetBackoffBase(d time.Duration) {
	if d > 0 {
		r.backoffBase = d
	}
}

// SetChain declares the fallback order tried for episodes of the given
// kind. Use defaultChainKind to set the chain used when no kind-specific
// chain is registered and opts.OverrideChain is empty.
func (r *Router) SetChain(kind string, chain Chain) {
	r.chains[kind] = chain
}

func (r *Router) chainFor(kind, override string) Chain {
	if override != "" {
		if c, ok := r.chains[override]; ok {
			return c
		}
		return Chain{override}
	}
	if c, ok := r.chains[kind]; ok {
		return c
	}
	return r.chains[defaultChainKind]
}

// Analyze routes episode through its fallback chain: a cache hit
// short-circuits the chain entirely; otherwise each provider in order
// is tried behind its own breaker and budget, with exponential
// backoff between transient failures, until one succeeds or the chain is
// exhausted.
func (r *Router) Analyze(ctx context.Context, episode Episode, opts Options) (Result, error) {
	history := r.memory.History(episode.ID)
	prompt := composePrompt(history, episode.Prompt)

	// Fingerprinted on the episode's own prompt, not the history-composed
	// one: two episodes asking the identical question should cache-hit
	// regardless of which conversation carried them here.
	fingerprint := cache.Fingerprint(episode.Kind, normalizePrompt(episode.Prompt), opts.ModelPolicy)

	if r.cache != nil {
		if cacheKey, ok := r.lookupFingerprint(fingerprint); ok {
			if data, contentType, ok := r.cache.Get(cacheKey); ok {
				result := Result{Text: string(data), Provider: ":cache", CacheHit: true}
				r.emit("llmrouter.analyze", map[string]float64{"cache_hit": 1}, map[string]any{
					"episode_id": episode.ID, "episode_kind": episode.Kind, "content_type": contentType,
				})
				r.recordTurns(episode.ID, episode.Prompt, result.Text)
				return result, nil
			}
		}
	}

	chain := r.chainFor(episode.Kind, opts.OverrideChain)
	if len(chain) == 0 {
		return Result{}, apierr.AllProvidersFailed()
	}

	episodeWithHistory := episode
	episodeWithHistory.Prompt = prompt

	var attempts int
	var fallbacks int
	for _, providerID := range chain {
		provider, ok := r.providers[providerID]
		if !ok {
			fallbacks++
			continue
		}

		result, err := r.tryProvider(ctx, provider, episodeWithHistory, opts)
		if err == nil {
			result.Fallbacks = fallbacks
			if r.cache != nil {
				cacheKey := r.cache.Put([]byte(result.Text), defaultCacheTTL, "text/plain")
				r.storeFingerprint(fingerprint, cacheKey)
			}
			r.recordTurns(episode.ID, episode.Prompt, result.Text)
			return result, nil
		}

		svcErr := apierr.As(err)
		if svcErr == nil || !svcErr.Kind.Transient() {
			return Result{}, err
		}

		fallbacks++
		r.emit("llmrouter.fallback", map[string]float64{"attempt": float64(attempts + 1)}, map[string]any{
			"episode_id": episode.ID, "provider": providerID, "kind": string(svcErr.Kind),
		})

		if err := sleepBackoff(ctx, attempts, r.backoffBase); err != nil {
			return Result{}, apierr.Timeout("llmrouter_backoff")
		}
		attempts++
	}

	return Result{}, apierr.AllProvidersFailed()
}

func (r *Router) tryProvider(ctx context.Context, provider Provider, episode Episode, opts Options) (Result, error) {
	if r.breakers != nil {
		b := r.breakers.Get(provider.ID(), r.breakerConfig)
		var result Result
		var callErr error
		execErr := b.Execute(ctx, func() error {
			result, callErr = r.callWithBudget(ctx, provider, episode, opts)
			return callErr
		})
		if execErr == breaker.ErrCircuitOpen || execErr == breaker.ErrTooManyRequests {
			return Result{}, apierr.CircuitOpen(provider.ID())
		}
		return result, callErr
	}
	return r.callWithBudget(ctx, provider, episode, opts)
}

func (r *Router) callWithBudget(ctx context.Context, provider Provider, episode Episode, opts Options) (Result, error) {
	if r.limits != nil {
		priority := ratelimit.Priority(episode.Priority)
		if err := r.limits.RequestTokens(ctx, llmBudget, provider.ID(), priority, 1); err != nil {
			return Result{}, apierr.RateLimited(llmBudget, provider.ID())
		}
	}

	result, err := provider.AnalyzeEpisode(ctx, episode, opts)
	if err != nil {
		return Result{}, err
	}
	r.emit("llmrouter.analyze", map[string]float64{"cache_hit": 0}, map[string]any{
		"episode_id": episode.ID, "episode_kind": episode.Kind, "provider": provider.ID(),
	})
	return result, nil
}

func (r *Router) lookupFingerprint(fingerprint string) (string, bool) {
	r.fpMu.Lock()
	defer r.fpMu.Unlock()
	cacheKey, ok := r.fingerprints[fingerprint]
	return cacheKey, ok
}

func (r *Router) storeFingerprint(fingerprint, cacheKey string) {
	r.fpMu.Lock()
	defer r.fpMu.Unlock()
	r.fingerprints[fingerprint] = cacheKey
}

func (r *Router) emit(name string, measurements map[string]float64, metadata map[string]any) {
	if r.logger == nil {
		return
	}
	r.logger.Emit(name, measurements, metadata)
}

func (r *Router) recordTurns(episodeID, prompt, response string) {
	now := time.Now().UTC()
	r.memory.Append(episodeID, Turn{Role: "user", Content: prompt, At: now})
	r.memory.Append(episodeID, Turn{Role: "assistant", Content: response, At: now})
}

func composePrompt(history []Turn, prompt string) string {
	if len(history) == 0 {
		return prompt
	}
	var b []byte
	for _, turn := range history {
		b = append(b, turn.Role...)
		b = append(b, ": "...)
		b = append(b, turn.Content...)
		b = append(b, '\n')
	}
	b = append(b, prompt...)
	return string(b)
}

// sleepBackoff waits min(2^attempts*base, 30s) plus jitter in
// [0, 0.5*delay), or returns ctx.Err() if the context is cancelled
// first.
func sleepBackoff(ctx context.Context, attempts int, base time.Duration) error {
	delay := time.Duration(1) << uint(attempts) * base
	if delay > breakerMaxDelay || delay <= 0 {
		delay = breakerMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	timer := time.NewTimer(delay + jitter)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
