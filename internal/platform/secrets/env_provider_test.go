package secrets

import (
	"context"
	"errors"
	"testing"
)

func TestEnvProviderResolvesNormalizedName(t *testing.T) {
	t.Setenv("SECRET_OPENAI_API_KEY", "sk-test")

	p := NewEnvProvider()
	v, err := p.GetSecret(context.Background(), "ignored-user", "openai-api-key")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if v != "sk-test" {
		t.Fatalf("unexpected value: %s", v)
	}
}

func TestEnvProviderMissingReturnsNotFound(t *testing.T) {
	p := NewEnvProvider()
	_, err := p.GetSecret(context.Background(), "ignored-user", "does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestEnvProviderCustomPrefix(t *testing.T) {
	t.Setenv("VENDOR_API_KEY", "vendor-value")

	p := &EnvProvider{Prefix: "VENDOR_"}
	v, err := p.GetSecret(context.Background(), "", "api_key")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if v != "vendor-value" {
		t.Fatalf("unexpected value: %s", v)
	}
}
