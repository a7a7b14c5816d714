package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
	"github.com/viable-systems/control-plane/internal/platform/rbac"
)

// Config parameterizes a Manager. Zero-value fields are filled with
// package defaults.
type Config struct {
	SessionTTL        time.Duration
	RefreshTTL        time.Duration
	FailureWindow     time.Duration
	FailureThreshold  int
	FailurePruneAfter time.Duration
	SweepInterval     time.Duration
	QueueSize         int
	PasswordParams    PasswordParams
	// TokenSecret signs internally-issued session JWTs and HMACs refresh
	// tokens and API keys. It never leaves the process.
	TokenSecret []byte
	// ExternalJWTKeys maps a "kid" header value to the RSA public key used
	// to verify externally-issued RS256 tokens (the slow path).
	ExternalJWTKeys map[string]jwtPublicKey
}

// jwtPublicKey is any key type jwt.Parse accepts for RS256 verification;
// kept as an alias so callers don't need to import crypto/rsa directly.
type jwtPublicKey = interface{}

func (c *Config) withDefaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = time.Hour
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 30 * 24 * time.Hour
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 5 * time.Minute
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.FailurePruneAfter <= 0 {
		c.FailurePruneAfter = time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.PasswordParams == (PasswordParams{}) {
		c.PasswordParams = DefaultPasswordParams()
	}
}

// AuthContext is what every authenticated call carries forward: who, which
// tenant, and the resolved permission set.
type AuthContext struct {
	Subject     string
	TenantID    string
	SessionID   string
	Roles       []string
	Permissions map[rbac.Permission]struct{}
	ExpiresAt   time.Time
}

// AuthResult is returned by Authenticate and RefreshToken.
type AuthResult struct {
	Token        string
	RefreshToken string
	ExpiresIn    int64
}

type sessionClaims struct {
	SessionID string   `json:"session_id"`
	TenantID  string   `json:"tenant_id"`
	Roles     []string `json:"roles"`
	jwt.RegisteredClaims
}

// authRequest is one unit of work dispatched to the manager's owning
// goroutine. fn runs entirely inside that goroutine, so it can touch
// in-memory state (the expiry heap) without locking.
type authRequest struct {
	ctx  context.Context
	fn   func(ctx context.Context) (interface{}, error)
	resp chan authResponse
}

type authResponse struct {
	val interface{}
	err error
}

// Manager is a single-owner actor: one goroutine owns the session store,
// the expiry index, and issues every response. Every exported method builds a
// request and hands it to that goroutine over a bounded channel; the
// channel's buffer is the queue, so calls issued before run() starts its
// select loop are held rather than dropped.
type Manager struct {
	store  Store
	cfg    Config
	log    *zap.Logger
	reqCh  chan authRequest
	stopCh chan struct{}
	doneCh chan struct{}

	// expiryIndex is touched only from inside the actor goroutine (by
	// run()'s sweep and by request closures dispatched through reqCh),
	// which is what makes it safe without its own lock.
	expiryIndex *sessionExpiryIndex
}

// NewManager creates a Manager and starts its owning goroutine.
func NewManager(store Store, cfg Config, log *zap.Logger) *Manager {
	cfg.withDefaults()
	m := &Manager{
		store:       store,
		cfg:         cfg,
		log:         log,
		reqCh:       make(chan authRequest, cfg.QueueSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		expiryIndex: newSessionExpiryIndex(),
	}
	go m.run()
	return m
}

// Stop halts the owning goroutine after any in-flight request completes.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case req := <-m.reqCh:
			val, err := req.fn(req.ctx)
			req.resp <- authResponse{val: val, err: err}
		case now := <-ticker.C:
			m.sweep(context.Background(), now.UTC())
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweep(ctx context.Context, now time.Time) {
	ids := m.expiryIndex.popExpired(now)
	for _, id := range ids {
		if err := m.store.RevokeSession(ctx, id); err != nil {
			m.log.Warn("failed to revoke expired session", zap.String("session_id", id), zap.Error(err))
		}
	}
	if n, err := m.store.DeleteExpiredSessions(ctx, now); err != nil {
		m.log.Warn("failed to delete expired sessions", zap.Error(err))
	} else if n > 0 {
		m.log.Debug("swept expired sessions", zap.Int("count", n))
	}
	if err := m.store.PruneFailures(ctx, now.Add(-m.cfg.FailurePruneAfter)); err != nil {
		m.log.Warn("failed to prune auth failures", zap.Error(err))
	}
}

// dispatch enqueues fn on the actor's channel and blocks for its result,
// bounded by ctx. A full queue surfaces as apierr.Internal rather than
// blocking the caller forever.
func (m *Manager) dispatch(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	req := authRequest{ctx: ctx, fn: fn, resp: make(chan authResponse, 1)}
	select {
	case m.reqCh <- req:
	default:
		return nil, apierr.Internal("auth manager request queue full", nil)
	}
	select {
	case r := <-req.resp:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) issueAccessToken(s Session) (string, error) {
	now := time.Now().UTC()
	claims := sessionClaims{
		SessionID: s.ID,
		TenantID:  s.TenantID,
		Roles:     s.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			// NumericDate keeps whole seconds only; rounding up keeps the
			// claim from lapsing before the session row, whose exact expiry
			// validateSessionToken checks.
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt.Add(time.Second)),
			Issuer:    "cybernetic-core",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.cfg.TokenSecret)
}

// Authenticate is the username/password path. Every credential failure
// returns the same invalid_credentials kind so a caller can't
// distinguish "no such user" from "wrong password".
func (m *Manager) Authenticate(ctx context.Context, tenantID, username, password string) (AuthResult, error) {
	v, err := m.dispatch(ctx, func(ctx context.Context) (interface{}, error) {
		since := time.Now().UTC().Add(-m.cfg.FailureWindow)
		failures, ferr := m.store.CountFailures(ctx, tenantID, username, since)
		if ferr != nil {
			return nil, apierr.Internal("count auth failures", ferr)
		}
		if failures >= m.cfg.FailureThreshold {
			return nil, apierr.TooManyAttempts()
		}

		user, uerr := m.store.GetUserByUsername(ctx, tenantID, username)
		if uerr != nil || !VerifyPassword(password, user.PasswordHash) {
			_ = m.store.RecordFailure(ctx, tenantID, username, time.Now().UTC())
			return nil, apierr.InvalidCredentials()
		}

		now := time.Now().UTC()
		refreshPlain, refreshHash, rerr := GenerateAPIKey(m.cfg.TokenSecret)
		if rerr != nil {
			return nil, apierr.Internal("generate refresh token", rerr)
		}
		session := Session{
			ID:               uuid.NewString(),
			TenantID:         tenantID,
			UserID:           user.ID,
			Roles:            user.Roles,
			RefreshTokenHash: refreshHash,
			CreatedAt:        now,
			ExpiresAt:        now.Add(m.cfg.SessionTTL),
		}
		if err := m.store.CreateSession(ctx, session); err != nil {
			return nil, apierr.Internal("create session", err)
		}
		m.expiryIndex.add(session.ID, session.ExpiresAt)
		token, terr := m.issueAccessToken(session)
		if terr != nil {
			return nil, apierr.Internal("issue access token", terr)
		}
		return AuthResult{Token: token, RefreshToken: refreshPlain, ExpiresIn: int64(m.cfg.SessionTTL.Seconds())}, nil
	})
	if err != nil {
		return AuthResult{}, err
	}
	return v.(AuthResult), nil
}

// AuthenticateAPIKey is the API key authentication path.
func (m *Manager) AuthenticateAPIKey(ctx context.Context, key string) (AuthContext, error) {
	v, err := m.dispatch(ctx, func(ctx context.Context) (interface{}, error) {
		hash := HashAPIKey(m.cfg.TokenSecret, key)
		k, kerr := m.store.GetAPIKeyByHash(ctx, hash)
		if kerr != nil || k.Revoked() {
			return nil, apierr.New(apierr.KindInvalidToken, "invalid api key")
		}
		now := time.Now().UTC()
		if k.Expired(now) {
			return nil, apierr.TokenExpired()
		}
		return AuthContext{
			Subject:     k.ID,
			TenantID:    k.TenantID,
			Roles:       k.Roles,
			Permissions: rbac.Grants(k.Roles),
		}, nil
	})
	if err != nil {
		return AuthContext{}, err
	}
	return v.(AuthContext), nil
}

// ValidateToken implements the fast (session table) and slow
// (externally-issued RS256) verification paths.
func (m *Manager) ValidateToken(ctx context.Context, token string) (AuthContext, error) {
	v, err := m.dispatch(ctx, func(ctx context.Context) (interface{}, error) {
		return m.validateTokenLocked(ctx, token)
	})
	if err != nil {
		return AuthContext{}, err
	}
	return v.(AuthContext), nil
}

func (m *Manager) validateTokenLocked(ctx context.Context, token string) (AuthContext, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &sessionClaims{})
	if err != nil {
		return AuthContext{}, apierr.InvalidToken(err)
	}

	switch parsed.Method.Alg() {
	case "HS256":
		return m.validateSessionToken(ctx, token)
	case "RS256":
		return m.validateExternalToken(token)
	default:
		return AuthContext{}, apierr.New(apierr.KindInvalidToken, "unsupported signing algorithm")
	}
}

// validateSessionToken is the fast path: the JWT signature is checked and
// its session_id claim is looked up directly in the session table, so an
// internally-issued token that has been revoked stops working immediately
// even though the signature still verifies.
func (m *Manager) validateSessionToken(ctx context.Context, token string) (AuthContext, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.cfg.TokenSecret, nil
	})
	if err != nil {
		return AuthContext{}, apierr.InvalidToken(err)
	}

	session, serr := m.store.GetSession(ctx, claims.SessionID)
	if serr != nil {
		return AuthContext{}, apierr.SessionExpired()
	}
	if session.Expired(time.Now().UTC()) {
		return AuthContext{}, apierr.SessionExpired()
	}
	return AuthContext{
		Subject:     session.UserID,
		TenantID:    session.TenantID,
		SessionID:   session.ID,
		Roles:       session.Roles,
		Permissions: rbac.Grants(session.Roles),
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// validateExternalToken is the slow path: RS256 signature verification
// against a configured public key, no session-table lookup. The session
// HMAC secret is never used here, so an HS256 token can never masquerade
// as an externally-issued one.
func (m *Manager) validateExternalToken(token string) (AuthContext, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		key, ok := m.cfg.ExternalJWTKeys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		return key, nil
	})
	if err != nil || !parsed.Valid {
		return AuthContext{}, apierr.InvalidToken(err)
	}
	return AuthContext{
		Subject:     claims.Subject,
		TenantID:    claims.TenantID,
		Roles:       claims.Roles,
		Permissions: rbac.Grants(claims.Roles),
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// RefreshToken rotates both the access and refresh token atomically; the
// old refresh token is invalidated even if the caller never presents it
// again.
func (m *Manager) RefreshToken(ctx context.Context, refreshToken string) (AuthResult, error) {
	v, err := m.dispatch(ctx, func(ctx context.Context) (interface{}, error) {
		hash := HashAPIKey(m.cfg.TokenSecret, refreshToken)
		old, oerr := m.store.GetSessionByRefreshHash(ctx, hash)
		if oerr != nil || old.Expired(time.Now().UTC()) {
			return nil, apierr.InvalidToken(oerr)
		}

		now := time.Now().UTC()
		nextRefreshPlain, nextRefreshHash, rerr := GenerateAPIKey(m.cfg.TokenSecret)
		if rerr != nil {
			return nil, apierr.Internal("generate refresh token", rerr)
		}
		next := Session{
			ID:               uuid.NewString(),
			TenantID:         old.TenantID,
			UserID:           old.UserID,
			Roles:            old.Roles,
			RefreshTokenHash: nextRefreshHash,
			CreatedAt:        now,
			ExpiresAt:        now.Add(m.cfg.SessionTTL),
		}
		if err := m.store.ReplaceSession(ctx, old.ID, next); err != nil {
			return nil, apierr.Internal("replace session", err)
		}
		m.expiryIndex.add(next.ID, next.ExpiresAt)
		token, terr := m.issueAccessToken(next)
		if terr != nil {
			return nil, apierr.Internal("issue access token", terr)
		}
		return AuthResult{Token: token, RefreshToken: nextRefreshPlain, ExpiresIn: int64(m.cfg.SessionTTL.Seconds())}, nil
	})
	if err != nil {
		return AuthResult{}, err
	}
	return v.(AuthResult), nil
}

// Authorize is the permission check: the "all"
// permission grants everything, otherwise resource:action must be a
// permission the context carries and must be a permission the rbac
// registry recognizes in the first place.
func (m *Manager) Authorize(authCtx AuthContext, resource, action string) error {
	perm, err := rbac.Parse(resource, action)
	if err != nil {
		return apierr.PermissionDenied(resource, action)
	}
	if !rbac.Allows(authCtx.Permissions, perm) {
		return apierr.PermissionDenied(resource, action)
	}
	return nil
}

// CreateAPIKeyOptions configures CreateAPIKey.
type CreateAPIKeyOptions struct {
	ExpiresAt *time.Time
}

// CreateAPIKey mints a new key and returns its plaintext exactly once.
func (m *Manager) CreateAPIKey(ctx context.Context, tenantID, name string, roles []string, opts CreateAPIKeyOptions) (plaintext string, key APIKey, err error) {
	v, err := m.dispatch(ctx, func(ctx context.Context) (interface{}, error) {
		plain, hash, gerr := GenerateAPIKey(m.cfg.TokenSecret)
		if gerr != nil {
			return nil, apierr.Internal("generate api key", gerr)
		}
		k := APIKey{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			Name:      name,
			KeyHash:   hash,
			Roles:     roles,
			CreatedAt: time.Now().UTC(),
			ExpiresAt: opts.ExpiresAt,
		}
		if err := m.store.CreateAPIKey(ctx, k); err != nil {
			return nil, apierr.Internal("create api key", err)
		}
		return struct {
			Plain string
			Key   APIKey
		}{plain, k}, nil
	})
	if err != nil {
		return "", APIKey{}, err
	}
	pair := v.(struct {
		Plain string
		Key   APIKey
	})
	return pair.Plain, pair.Key, nil
}

// Revoke invalidates a session of tenantID (by session ID) or an API key
// (by tenant+id).
func (m *Manager) Revoke(ctx context.Context, tenantID, sessionOrKeyID string) error {
	_, err := m.dispatch(ctx, func(ctx context.Context) (interface{}, error) {
		if s, serr := m.store.GetSession(ctx, sessionOrKeyID); serr == nil && s.TenantID == tenantID {
			if err := m.store.RevokeSession(ctx, sessionOrKeyID); err == nil {
				return nil, nil
			}
		}
		if err := m.store.RevokeAPIKey(ctx, tenantID, sessionOrKeyID); err != nil {
			return nil, apierr.NotFound("session_or_api_key", sessionOrKeyID)
		}
		return nil, nil
	})
	return err
}

// ListSessions returns every stored session for a tenant, oldest first;
// revoked sessions are included, and expired ones until the sweep deletes
// them.
func (m *Manager) ListSessions(ctx context.Context, tenantID string) ([]Session, error) {
	v, err := m.dispatch(ctx, func(ctx context.Context) (interface{}, error) {
		return m.store.ListSessions(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Session), nil
}
