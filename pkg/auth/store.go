package auth

import (
	"context"
	"time"
)

// User is a tenant-scoped login identity with an Argon2id password hash.
type User struct {
	ID           string   `db:"id" json:"id"`
	TenantID     string   `db:"tenant_id" json:"tenant_id"`
	Username     string   `db:"username" json:"username"`
	PasswordHash string   `db:"password_hash" json:"-"`
	Roles        []string `db:"-" json:"roles"`
}

// Session backs both the fast-path token lookup and refresh rotation.
type Session struct {
	ID               string     `db:"id" json:"id"`
	TenantID         string     `db:"tenant_id" json:"tenant_id"`
	UserID           string     `db:"user_id" json:"user_id"`
	Roles            []string   `db:"-" json:"roles"`
	RefreshTokenHash string     `db:"refresh_token_hash" json:"-"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expires_at"`
	RevokedAt        *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// Expired reports whether the session is unusable as of now.
func (s Session) Expired(now time.Time) bool {
	return s.RevokedAt != nil || now.After(s.ExpiresAt)
}

// APIKey stores the HMAC of a caller-presented key, never the plaintext.
type APIKey struct {
	ID        string     `db:"id" json:"id"`
	TenantID  string     `db:"tenant_id" json:"tenant_id"`
	Name      string     `db:"name" json:"name"`
	KeyHash   string     `db:"key_hash" json:"-"`
	Roles     []string   `db:"-" json:"roles"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// Revoked reports whether the key has been revoked.
func (k APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// Expired reports whether the key's optional expiry has passed.
func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Store is the persistence surface for C2: users, sessions, API keys, and
// the authentication-failure ledger the rate limiter consults. User
// lookups, session listings, API-key revocation and the failure ledger
// take a tenant_id; sessions are fetched by ID or refresh-token hash and
// API keys by key hash with no tenant filter, and the row returned
// carries its own tenant_id.
type Store interface {
	GetUserByUsername(ctx context.Context, tenantID, username string) (User, error)

	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	GetSessionByRefreshHash(ctx context.Context, refreshTokenHash string) (Session, error)
	RevokeSession(ctx context.Context, sessionID string) error
	ReplaceSession(ctx context.Context, oldID string, next Session) error
	ListSessions(ctx context.Context, tenantID string) ([]Session, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error)

	CreateAPIKey(ctx context.Context, k APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (APIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, id string) error

	RecordFailure(ctx context.Context, tenantID, subject string, at time.Time) error
	CountFailures(ctx context.Context, tenantID, subject string, since time.Time) (int, error)
	PruneFailures(ctx context.Context, before time.Time) error
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
