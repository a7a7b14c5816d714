package llmrouter

import (
	"context"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
)

// Provider is one LLM backend. Real wire protocols are out of scope;
// adapters here are thin stubs whose Call is expected to be replaced
// per deployment, but whose ID/classification behavior is real and
// exercised by the router.
type Provider interface {
	ID() string
	AnalyzeEpisode(ctx context.Context, episode Episode, opts Options) (Result, error)
}

// ErrorClassifier maps a provider-specific error to one of this
// package's canonical kinds, since each vendor SDK surfaces failures
// differently.
type ErrorClassifier func(err error) *apierr.ServiceError

// StubProvider is a pluggable provider adapter: Call does the actual
// vendor request (left to the caller to wire in a real client), Classify
// maps its errors to canonical kinds. A nil Call always fails with
// KindRequestFailed, useful for wiring a chain before a provider's real
// client exists.
type StubProvider struct {
	Name     string
	Call     func(ctx context.Context, episode Episode, opts Options) (Result, error)
	Classify ErrorClassifier
}

func (p *StubProvider) ID() string { return p.Name }

func (p *StubProvider) AnalyzeEpisode(ctx context.Context, episode Episode, opts Options) (Result, error) {
	if p.Call == nil {
		return Result{}, apierr.RequestFailed(errProviderUnconfigured(p.Name))
	}
	result, err := p.Call(ctx, episode, opts)
	if err == nil {
		result.Provider = p.Name
		return result, nil
	}
	if svcErr := apierr.As(err); svcErr != nil {
		return result, svcErr
	}
	if p.Classify != nil {
		if svcErr := p.Classify(err); svcErr != nil {
			return result, svcErr
		}
	}
	return result, apierr.RequestFailed(err)
}

type unconfiguredProviderError struct{ name string }

func (e unconfiguredProviderError) Error() string {
	return "llmrouter: provider " + e.name + " has no Call configured"
}

func errProviderUnconfigured(name string) error {
	return unconfiguredProviderError{name: name}
}

// NewAnthropicProvider, NewOpenAIProvider, NewTogetherProvider, and
// NewOllamaProvider return named stub adapters ready to have Call wired
// to each vendor's real client; the router only depends on the Provider
// interface, never on these constructors.
func NewAnthropicProvider(call func(ctx context.Context, episode Episode, opts Options) (Result, error)) *StubProvider {
	return &StubProvider{Name: "anthropic", Call: call}
}

func NewOpenAIProvider(call func(ctx context.Context, episode Episode, opts Options) (Result, error)) *StubProvider {
	return &StubProvider{Name: "openai", Call: call}
}

func NewTogetherProvider(call func(ctx context.Context, episode Episode, opts Options) (Result, error)) *StubProvider {
	return &StubProvider{Name: "together", Call: call}
}

func NewOllamaProvider(call func(ctx context.Context, episode Episode, opts Options) (Result, error)) *StubProvider {
	return &StubProvider{Name: "ollama", Call: call}
}
