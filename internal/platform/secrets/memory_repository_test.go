package secrets

import (
	"context"
	"testing"
)

func TestMemoryRepositoryRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Put("user-1", "api_key", []byte("ciphertext"))
	repo.SetAllowedServices("user-1", "api_key", []string{"neooracle"})

	s, err := repo.GetSecretByName(context.Background(), "user-1", "api_key")
	if err != nil {
		t.Fatalf("GetSecretByName: %v", err)
	}
	if s == nil || string(s.EncryptedValue) != "ciphertext" {
		t.Fatalf("unexpected secret: %+v", s)
	}

	services, err := repo.GetAllowedServices(context.Background(), "user-1", "api_key")
	if err != nil {
		t.Fatalf("GetAllowedServices: %v", err)
	}
	if len(services) != 1 || services[0] != "neooracle" {
		t.Fatalf("unexpected services: %v", services)
	}

	if err := repo.CreateAuditLog(context.Background(), &AuditLog{UserID: "user-1", SecretName: "api_key", Action: "read", Success: true}); err != nil {
		t.Fatalf("CreateAuditLog: %v", err)
	}
	logs := repo.AuditLogs()
	if len(logs) != 1 || logs[0].Action != "read" {
		t.Fatalf("unexpected audit logs: %v", logs)
	}
}

func TestMemoryRepositoryUnknownSecretReturnsNil(t *testing.T) {
	repo := NewMemoryRepository()
	s, err := repo.GetSecretByName(context.Background(), "user-1", "missing")
	if err != nil {
		t.Fatalf("GetSecretByName: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil secret, got %+v", s)
	}
}
