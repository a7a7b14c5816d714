package auth

import (
	"encoding/json"
	"time"

	"context"

	"github.com/jmoiron/sqlx"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
)

// PostgresStore persists users, sessions, API keys, and the
// authentication-failure ledger through sqlx, matching
// 0001_init.sql/0005_auth_sessions.sql's schema. Roles round-trip through
// a JSONB column the same way pkg/containers serializes metadata.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an existing connection.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func toJSONB(v any) []byte {
	if v == nil {
		return []byte("[]")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("[]")
	}
	return b
}

func fromJSONB(raw []byte) []string {
	var out []string
	_ = json.Unmarshal(raw, &out)
	return out
}

func (p *PostgresStore) GetUserByUsername(ctx context.Context, tenantID, username string) (User, error) {
	var u User
	var rawRoles []byte
	row := p.db.QueryRowxContext(ctx, `
		SELECT id, tenant_id, username, password_hash, roles
		FROM users WHERE tenant_id = $1 AND username = $2`,
		tenantID, username)
	if err := row.Scan(&u.ID, &u.TenantID, &u.Username, &u.PasswordHash, &rawRoles); err != nil {
		return User{}, apierr.NotFound("user", username)
	}
	u.Roles = fromJSONB(rawRoles)
	return u, nil
}

func (p *PostgresStore) CreateSession(ctx context.Context, s Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, tenant_id, user_id, roles, refresh_token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.TenantID, s.UserID, toJSONB(s.Roles), s.RefreshTokenHash, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return apierr.StorageError("create_session", err)
	}
	return nil
}

func (p *PostgresStore) scanSession(row *sqlx.Row) (Session, error) {
	var s Session
	var rawRoles []byte
	err := row.Scan(&s.ID, &s.TenantID, &s.UserID, &rawRoles, &s.RefreshTokenHash, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt)
	if err != nil {
		return Session{}, err
	}
	s.Roles = fromJSONB(rawRoles)
	return s, nil
}

func (p *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := p.db.QueryRowxContext(ctx, `
		SELECT id, tenant_id, user_id, roles, COALESCE(refresh_token_hash, ''), created_at, expires_at, revoked_at
		FROM sessions WHERE id = $1`, sessionID)
	s, err := p.scanSession(row)
	if err != nil {
		return Session{}, apierr.NotFound("session", sessionID)
	}
	return s, nil
}

func (p *PostgresStore) GetSessionByRefreshHash(ctx context.Context, refreshTokenHash string) (Session, error) {
	row := p.db.QueryRowxContext(ctx, `
		SELECT id, tenant_id, user_id, roles, COALESCE(refresh_token_hash, ''), created_at, expires_at, revoked_at
		FROM sessions WHERE refresh_token_hash = $1`, refreshTokenHash)
	s, err := p.scanSession(row)
	if err != nil {
		return Session{}, apierr.NotFound("session", "by-refresh-token")
	}
	return s, nil
}

func (p *PostgresStore) RevokeSession(ctx context.Context, sessionID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = now() WHERE id = $1`, sessionID)
	if err != nil {
		return apierr.StorageError("revoke_session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.StorageError("revoke_session", err)
	}
	if n == 0 {
		return apierr.NotFound("session", sessionID)
	}
	return nil
}

func (p *PostgresStore) ReplaceSession(ctx context.Context, oldID string, next Session) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return apierr.StorageError("replace_session", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked_at = now() WHERE id = $1`, oldID); err != nil {
		return apierr.StorageError("replace_session", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, tenant_id, user_id, roles, refresh_token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		next.ID, next.TenantID, next.UserID, toJSONB(next.Roles), next.RefreshTokenHash, next.CreatedAt, next.ExpiresAt)
	if err != nil {
		return apierr.StorageError("replace_session", err)
	}
	if err := tx.Commit(); err != nil {
		return apierr.StorageError("replace_session", err)
	}
	return nil
}

func (p *PostgresStore) ListSessions(ctx context.Context, tenantID string) ([]Session, error) {
	rows, err := p.db.QueryxContext(ctx, `
		SELECT id, tenant_id, user_id, roles, COALESCE(refresh_token_hash, ''), created_at, expires_at, revoked_at
		FROM sessions WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, apierr.StorageError("list_sessions", err)
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		var s Session
		var rawRoles []byte
		if err := rows.Scan(&s.ID, &s.TenantID, &s.UserID, &rawRoles, &s.RefreshTokenHash, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt); err != nil {
			return nil, apierr.StorageError("list_sessions", err)
		}
		s.Roles = fromJSONB(rawRoles)
		out = append(out, s)
	}
	return out, nil
}

func (p *PostgresStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, apierr.StorageError("delete_expired_sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apierr.StorageError("delete_expired_sessions", err)
	}
	return int(n), nil
}

func (p *PostgresStore) CreateAPIKey(ctx context.Context, k APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, tenant_id, key_hash, role, name, roles, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.ID, k.TenantID, k.KeyHash, primaryRole(k.Roles), k.Name, toJSONB(k.Roles), k.CreatedAt, k.ExpiresAt)
	if err != nil {
		return apierr.StorageError("create_api_key", err)
	}
	return nil
}

func primaryRole(roles []string) string {
	if len(roles) == 0 {
		return "member"
	}
	return roles[0]
}

func (p *PostgresStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (APIKey, error) {
	var k APIKey
	var rawRoles []byte
	row := p.db.QueryRowxContext(ctx, `
		SELECT id, tenant_id, key_hash, name, roles, created_at, expires_at, revoked_at
		FROM api_keys WHERE key_hash = $1`, keyHash)
	if err := row.Scan(&k.ID, &k.TenantID, &k.KeyHash, &k.Name, &rawRoles, &k.CreatedAt, &k.ExpiresAt, &k.RevokedAt); err != nil {
		return APIKey{}, apierr.NotFound("api_key", "by-hash")
	}
	k.Roles = fromJSONB(rawRoles)
	return k, nil
}

func (p *PostgresStore) RevokeAPIKey(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return apierr.StorageError("revoke_api_key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.StorageError("revoke_api_key", err)
	}
	if n == 0 {
		return apierr.NotFound("api_key", id)
	}
	return nil
}

func (p *PostgresStore) RecordFailure(ctx context.Context, tenantID, subject string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO auth_failures (tenant_id, subject, occurred_at) VALUES ($1, $2, $3)`,
		tenantID, subject, at)
	if err != nil {
		return apierr.StorageError("record_failure", err)
	}
	return nil
}

func (p *PostgresStore) CountFailures(ctx context.Context, tenantID, subject string, since time.Time) (int, error) {
	var n int
	err := p.db.GetContext(ctx, &n, `
		SELECT count(*) FROM auth_failures WHERE tenant_id = $1 AND subject = $2 AND occurred_at > $3`,
		tenantID, subject, since)
	if err != nil {
		return 0, apierr.StorageError("count_failures", err)
	}
	return n, nil
}

func (p *PostgresStore) PruneFailures(ctx context.Context, before time.Time) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM auth_failures WHERE occurred_at < $1`, before)
	if err != nil {
		return apierr.StorageError("prune_failures", err)
	}
	return nil
}
