package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
)

// MemoryStore is an in-process Store for tests and single-node
// deployments without Postgres configured.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]User // keyed by tenant_id + "/" + username
	sessions map[string]Session
	apiKeys  map[string]APIKey // keyed by key_hash
	failures map[string][]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		sessions: make(map[string]Session),
		apiKeys:  make(map[string]APIKey),
		failures: make(map[string][]time.Time),
	}
}

// PutUser seeds a user; exported for tests and bootstrap wiring since
// MemoryStore has no migration-backed insert path of its own.
func (m *MemoryStore) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userKey(u.TenantID, u.Username)] = u
}

func userKey(tenantID, username string) string {
	return tenantID + "/" + username
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, tenantID, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userKey(tenantID, username)]
	if !ok {
		return User{}, apierr.NotFound("user", username)
	}
	return u, nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, apierr.NotFound("session", sessionID)
	}
	return s, nil
}

func (m *MemoryStore) GetSessionByRefreshHash(ctx context.Context, refreshTokenHash string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RefreshTokenHash == refreshTokenHash {
			return s, nil
		}
	}
	return Session{}, apierr.NotFound("session", "by-refresh-token")
}

func (m *MemoryStore) RevokeSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return apierr.NotFound("session", sessionID)
	}
	now := time.Now().UTC()
	s.RevokedAt = &now
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) ReplaceSession(ctx context.Context, oldID string, next Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.sessions[oldID]; ok {
		now := time.Now().UTC()
		old.RevokedAt = &now
		m.sessions[oldID] = old
	}
	m.sessions[next.ID] = next
	return nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, tenantID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0)
	for _, s := range m.sessions {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateAPIKey(ctx context.Context, k APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKeys[k.KeyHash] = k
	return nil
}

func (m *MemoryStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[keyHash]
	if !ok {
		return APIKey{}, apierr.NotFound("api_key", "by-hash")
	}
	return k, nil
}

func (m *MemoryStore) RevokeAPIKey(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, k := range m.apiKeys {
		if k.ID == id && k.TenantID == tenantID {
			now := time.Now().UTC()
			k.RevokedAt = &now
			m.apiKeys[hash] = k
			return nil
		}
	}
	return apierr.NotFound("api_key", id)
}

func (m *MemoryStore) RecordFailure(ctx context.Context, tenantID, subject string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "/" + subject
	m.failures[key] = append(m.failures[key], at)
	return nil
}

func (m *MemoryStore) CountFailures(ctx context.Context, tenantID, subject string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "/" + subject
	n := 0
	for _, t := range m.failures[key] {
		if t.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) PruneFailures(ctx context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, ts := range m.failures {
		kept := ts[:0]
		for _, t := range ts {
			if t.After(before) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(m.failures, key)
		} else {
			m.failures[key] = kept
		}
	}
	return nil
}
