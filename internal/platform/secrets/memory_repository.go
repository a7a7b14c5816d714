package secrets

import (
	"context"
	"sync"
)

// MemoryRepository is an in-process Repository for tests and single-node
// deployments without Postgres configured. Secrets and per-secret service
// policies are seeded through Put/SetAllowedServices rather than a write
// path, since nothing in the serving surface creates secrets at runtime.
type MemoryRepository struct {
	mu       sync.Mutex
	secrets  map[string]Secret
	policies map[string][]string
	audit    []AuditLog
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		secrets:  make(map[string]Secret),
		policies: make(map[string][]string),
	}
}

func secretKey(userID, name string) string { return userID + "\x00" + name }

// Put seeds or replaces a secret's envelope-encrypted value.
func (m *MemoryRepository) Put(userID, name string, encryptedValue []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[secretKey(userID, name)] = Secret{UserID: userID, Name: name, EncryptedValue: encryptedValue}
}

// SetAllowedServices replaces the allowed-service list for a secret.
func (m *MemoryRepository) SetAllowedServices(userID, name string, services []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[secretKey(userID, name)] = services
}

func (m *MemoryRepository) GetSecretByName(ctx context.Context, userID, name string) (*Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[secretKey(userID, name)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryRepository) GetAllowedServices(ctx context.Context, userID, secretName string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policies[secretKey(userID, secretName)], nil
}

func (m *MemoryRepository) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *log)
	return nil
}

// AuditLogs returns every audit entry recorded so far, oldest first.
func (m *MemoryRepository) AuditLogs() []AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditLog, len(m.audit))
	copy(out, m.audit)
	return out
}
