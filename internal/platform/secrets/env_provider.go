package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvProvider is the default Provider for deployments with no secrets
// store configured: it resolves a secret name against an environment
// variable named SECRET_<UPPER_SNAKE_NAME>. userID is accepted for
// interface compatibility but ignored — environment variables are
// process-wide, not per-tenant.
type EnvProvider struct {
	// Prefix overrides the default "SECRET_" lookup prefix.
	Prefix string
}

// NewEnvProvider returns an EnvProvider using the default "SECRET_" prefix.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{Prefix: "SECRET_"}
}

func (p *EnvProvider) GetSecret(ctx context.Context, userID, name string) (string, error) {
	prefix := p.Prefix
	if prefix == "" {
		prefix = "SECRET_"
	}
	key := prefix + envKey(name)
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	return "", ErrNotFound
}

// envKey upper-cases name and replaces non-alphanumeric runs with
// underscores, so "openai-api-key" resolves SECRET_OPENAI_API_KEY.
func envKey(name string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range strings.ToUpper(name) {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

var _ Provider = (*EnvProvider)(nil)
