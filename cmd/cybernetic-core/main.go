// Command cybernetic-core runs the control plane: the bus-connected
// S1-S5 VSM hierarchy, the LLM router, the audit chain, and the HTTP/SSE
// edge, all wired from a single process for single-node deployment.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/viable-systems/control-plane/internal/platform/config"
	"github.com/viable-systems/control-plane/internal/platform/database"
	httputil "github.com/viable-systems/control-plane/internal/platform/httpclient"
	"github.com/viable-systems/control-plane/internal/platform/middleware"
	"github.com/viable-systems/control-plane/internal/platform/migrations"
	"github.com/viable-systems/control-plane/internal/platform/secrets"
	"github.com/viable-systems/control-plane/internal/platform/state"
	"github.com/viable-systems/control-plane/internal/platform/tracing"
	"github.com/viable-systems/control-plane/internal/platform/version"
	"github.com/viable-systems/control-plane/pkg/audit"
	"github.com/viable-systems/control-plane/pkg/auth"
	"github.com/viable-systems/control-plane/pkg/breaker"
	"github.com/viable-systems/control-plane/pkg/bus"
	"github.com/viable-systems/control-plane/pkg/cache"
	"github.com/viable-systems/control-plane/pkg/cep"
	"github.com/viable-systems/control-plane/pkg/containers"
	"github.com/viable-systems/control-plane/pkg/httpapi"
	"github.com/viable-systems/control-plane/pkg/llmrouter"
	"github.com/viable-systems/control-plane/pkg/policy"
	"github.com/viable-systems/control-plane/pkg/ratelimit"
	"github.com/viable-systems/control-plane/pkg/telemetry"
	"github.com/viable-systems/control-plane/pkg/vsm"
)

// systemTenantID scopes the accounts CYBERNETIC_USER_* env vars bootstrap,
// since those are operator/service identities rather than tenant data.
const systemTenantID = "system"

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config/env)")
	configPath := flag.String("config", "", "path to configuration file (YAML or JSON)")
	runMigrations := flag.Bool("migrate", true, "apply embedded database migrations on startup")
	flag.Parse()

	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		os.Setenv("CONFIG_FILE", trimmed)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	rootCtx := context.Background()

	shutdownTracing := func(context.Context) error { return nil }
	if strings.TrimSpace(cfg.Tracing.Endpoint) != "" {
		_, shutdown, err := tracing.NewOTLPTracerProvider(rootCtx, tracing.OTLPConfig{
			Endpoint:           cfg.Tracing.Endpoint,
			Insecure:           cfg.Tracing.Insecure,
			ServiceName:        cfg.Tracing.ServiceName,
			ResourceAttributes: cfg.Tracing.ResourceAttributes,
		})
		if err != nil {
			logger.Warn("otlp tracing disabled", zap.Error(err))
		} else {
			shutdownTracing = shutdown
		}
	}

	var db *sql.DB
	dsn := resolveDSN(cfg)
	if dsn != "" {
		db, err = database.Open(rootCtx, dsn)
		if err != nil {
			logger.Fatal("connect to postgres", zap.Error(err))
		}
		defer db.Close()
		configurePool(db, cfg)
		if *runMigrations && cfg.Database.MigrateOnStart {
			if err := migrations.Apply(rootCtx, db); err != nil {
				logger.Fatal("apply migrations", zap.Error(err))
			}
		}
	}

	secretsProvider := buildSecretsProvider(db, logger)

	var redisClient *redis.Client
	if cfg.Bus.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Bus.RedisAddr})
	}

	busClient, err := buildBusClient(cfg, db, redisClient, logger)
	if err != nil {
		logger.Fatal("build bus client", zap.Error(err))
	}

	telemetryBus := telemetry.New()
	stopAggregation := telemetryBus.StartAggregation()
	defer stopAggregation()

	auditChain, err := buildAuditChain(rootCtx, cfg, db, telemetryBus, secretsProvider)
	if err != nil {
		logger.Fatal("build audit chain", zap.Error(err))
	}
	auditScheduler, err := audit.NewScheduler(auditChain, "@daily")
	if err != nil {
		logger.Warn("audit rotation scheduler disabled", zap.Error(err))
	} else {
		auditScheduler.Start()
		defer auditScheduler.Stop()
	}

	policyStore := buildPolicyStore(cfg)

	contentCache := cache.New(cache.Config{})

	limiter := buildLimiter(cfg, redisClient)
	limiter.Declare(ratelimit.BudgetConfig{Name: "s4_llm", Limit: 60, Window: time.Minute})
	limiter.Declare(ratelimit.BudgetConfig{
		Name:   "telegram.webhook",
		Limit:  cfg.Edge.TelegramChatBudget,
		Window: time.Minute,
	})

	// s3Ref is set once S3 is constructed; the breaker registry's
	// OnStateChange callback is wired before S3 exists, so the pain
	// signal feed closes over this pointer rather than S3 itself.
	var s3Ref *vsm.S3
	breakers := breaker.NewRegistry(func(serviceID string, from, to breaker.State) {
		logger.Info("breaker state change", zap.String("service_id", serviceID), zap.String("from", from.String()), zap.String("to", to.String()))
		if s3Ref == nil || to != breaker.StateOpen {
			return
		}
		s3Ref.ProcessSignal(rootCtx, vsm.Signal{
			Kind:     vsm.SignalPain,
			Severity: 0.6,
			Source:   "breaker:" + serviceID,
			At:       time.Now().UTC(),
		})
	})

	router := llmrouter.NewRouter(breakers, limiter, contentCache, telemetryBus)
	registerProviders(rootCtx, router, cfg.Providers, secretsProvider)

	evolver := policy.NewEvolver(strings.TrimSpace(os.Getenv("POLICY_EVOLVER_SCRIPT")), 0)

	containerSink := buildContainerSink(db)

	authStore := buildAuthStore(db)
	authManager := buildAuthManager(authStore, cfg, logger)
	defer authManager.Stop()

	if err := bootstrapUsers(rootCtx, db, authStore, cfg.Cybernetic.Users); err != nil {
		logger.Warn("bootstrap cybernetic users", zap.Error(err))
	}

	s1 := vsm.NewS1(busClient, busClient, logger)
	s2 := vsm.NewS2(busClient, busClient, logger)
	s3 := vsm.NewS3(busClient, busClient, limiter, breakers, auditChain, logger, vsm.S3Config{PolicyStore: policyStore})
	s3Ref = s3
	s4 := vsm.NewS4(busClient, busClient, router, logger)
	s5 := vsm.NewS5(busClient, busClient, evolver, s3, auditChain, logger)

	for _, start := range []func() error{
		func() error { return s1.Start(rootCtx, vsm.TopicS1) },
		func() error { return s2.Start(rootCtx, vsm.TopicS2, vsm.TopicS2CoordinationComplete) },
		func() error { return s3.Start(rootCtx, vsm.TopicS3, vsm.TopicS3StatusRequest) },
		func() error { return s4.Start(rootCtx, vsm.TopicS4) },
		func() error { return s5.Start(rootCtx, vsm.TopicS5, vsm.TopicS5PolicyUpdate) },
	} {
		if err := start(); err != nil {
			logger.Fatal("start vsm tier", zap.Error(err))
		}
	}

	notifier := cep.NewWebhookNotifier(parseWebhookChannels(os.Environ()))
	cepEngine := cep.NewEngine(busClient, notifier, telemetryBus)
	cepEngine.Start()
	defer cepEngine.Stop()
	telemetryBus.Attach("cep-bridge", "", func(ev telemetry.Event) {
		cepEngine.Process(rootCtx, cep.Event{
			Name:      ev.Name,
			Data:      mergeEventData(ev.Measurements, ev.Metadata),
			Timestamp: ev.Timestamp,
		})
	})

	health := httpapi.NewDeepHealthChecker(5 * time.Second)
	if db != nil {
		health.Register("database", func(ctx context.Context) *httpapi.ComponentHealth {
			status, message := "healthy", ""
			if err := db.PingContext(ctx); err != nil {
				status, message = "unhealthy", err.Error()
			}
			return &httpapi.ComponentHealth{Name: "database", Status: status, Message: message, CheckedAt: time.Now().UTC()}
		})
	}
	health.Register("vsm", func(ctx context.Context) *httpapi.ComponentHealth {
		status := "healthy"
		if s3.State() != vsm.StateNormal {
			status = "degraded"
		}
		return &httpapi.ComponentHealth{
			Name:      "vsm",
			Status:    status,
			Details:   map[string]any{"s3_state": string(s3.State())},
			CheckedAt: time.Now().UTC(),
		}
	})

	probes := httpapi.NewProbeManager(30 * time.Second)
	probes.SetLive(true)

	listenAddr := strings.TrimSpace(*addr)
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	server := httpapi.NewServer(httpapi.Config{
		Addr:                  listenAddr,
		TLSCertFile:           cfg.Edge.TLSCertFile,
		TLSKeyFile:            cfg.Edge.TLSKeyFile,
		TelegramWebhookSecret: cfg.Edge.TelegramWebhookSecret,
		TelegramChatBudget: ratelimit.BudgetConfig{
			Name: "telegram.webhook", Limit: cfg.Edge.TelegramChatBudget, Window: time.Minute,
		},
		CORS: middleware.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		},
	}, httpapi.Deps{
		Auth:       authManager,
		Router:     router,
		Telemetry:  telemetryBus,
		Bus:        busClient,
		Limiter:    limiter,
		Containers: containerSink,
		Health:     health,
		Probes:     probes,
		Version:    version.Version,
	}, logger)

	if err := server.Start(rootCtx); err != nil {
		logger.Fatal("start http server", zap.Error(err))
	}
	probes.SetReady(true)
	logger.Info("cybernetic-core listening", zap.String("addr", listenAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	probes.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown http server", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("shutdown tracing provider", zap.Error(err))
	}
	s1.Stop()
	s2.Stop()
	s3.Stop()
	s4.Stop()
	s5.Stop()
}

// buildLogger constructs a zap.Logger whose level and encoding follow
// cfg; "json"/anything else maps to production encoding, "text" to a
// console encoder, matching the LOG_FORMAT convention.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if strings.EqualFold(cfg.Format, "text") {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	if strings.EqualFold(cfg.Output, "stdout") || cfg.Output == "" {
		zcfg.OutputPaths = []string{"stdout"}
		zcfg.ErrorOutputPaths = []string{"stderr"}
	}
	return zcfg.Build()
}

// resolveDSN prefers an explicit DSN over the host/port fields, matching
// a DATABASE_URL-overrides-everything precedence.
func resolveDSN(cfg *config.Config) string {
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn
	}
	if cfg.Database.Host == "" {
		return ""
	}
	return cfg.Database.ConnectionString()
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}

func buildBusClient(cfg *config.Config, db *sql.DB, redisClient *redis.Client, logger *zap.Logger) (*bus.Client, error) {
	var transport bus.Transport
	switch cfg.Bus.Transport {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("bus: redis transport selected but no redis_addr configured")
		}
		transport = bus.NewRedisTransport(redisClient, cfg.Bus.RedisGroup)
	default:
		if db != nil {
			pgTransport, err := bus.NewPostgresTransportWithDB(db, cfg.Bus.PostgresDSN)
			if err != nil {
				return nil, err
			}
			transport = pgTransport
		} else {
			pgTransport, err := bus.NewPostgresTransport(cfg.Bus.PostgresDSN)
			if err != nil {
				return nil, err
			}
			transport = pgTransport
		}
	}

	onDeadLetter := func(ctx context.Context, env bus.Envelope, cause error) {
		logger.Error("message dead-lettered",
			zap.String("type", env.Type), zap.String("tenant_id", env.TenantID), zap.Error(cause))
	}
	return bus.NewClient(transport, bus.ClientConfig{MaxRetries: cfg.Bus.MaxRetries}, onDeadLetter), nil
}

// buildSecretsProvider resolves the secrets.Provider used to custody
// AUDIT_SIGNING_KEY and LLM provider API keys. With SECRETS_MASTER_KEY set
// it builds an envelope-encryption Manager over Postgres (or an in-memory
// repository without a database) and wraps it in a ServiceProvider, which
// enforces per-secret service allowlists. Without a master key it falls
// back to EnvProvider, which resolves SECRET_<NAME> directly from the
// process environment.
func buildSecretsProvider(db *sql.DB, logger *zap.Logger) secrets.Provider {
	rawKey := strings.TrimSpace(os.Getenv(secrets.MasterKeyEnv))
	if rawKey == "" {
		return secrets.NewEnvProvider()
	}

	var repo secrets.Repository
	if db != nil {
		repo = secrets.NewPostgresRepository(db)
	} else {
		repo = secrets.NewMemoryRepository()
	}

	manager, err := secrets.NewManager(repo, []byte(rawKey))
	if err != nil {
		logger.Warn("secrets manager disabled, falling back to env provider", zap.Error(err))
		return secrets.NewEnvProvider()
	}
	return secrets.ServiceProvider{Manager: manager, ServiceID: "cybernetic-core"}
}

// resolveSecret prefers a value custodied by provider over fallback,
// leaving fallback untouched when the provider has nothing under name.
func resolveSecret(ctx context.Context, provider secrets.Provider, name, fallback string) string {
	if provider == nil {
		return fallback
	}
	if v, err := provider.GetSecret(ctx, systemTenantID, name); err == nil && v != "" {
		return v
	}
	return fallback
}

func buildAuditChain(ctx context.Context, cfg *config.Config, db *sql.DB, alerter audit.Alerter, secretsProvider secrets.Provider) (*audit.Chain, error) {
	signingKey := resolveSecret(ctx, secretsProvider, "AUDIT_SIGNING_KEY", strings.TrimSpace(cfg.Cybernetic.AuditSigningKey))
	if signingKey == "" {
		return nil, fmt.Errorf("audit: AUDIT_SIGNING_KEY is required")
	}

	var sink audit.Sink
	if db != nil {
		sink = audit.NewPostgresSink(db)
	} else {
		sink = audit.NewMemorySink()
	}

	return audit.New(audit.Config{
		SigningKey: []byte(signingKey),
		Sink:       sink,
		Alerter:    alerter,
	})
}

func buildPolicyStore(cfg *config.Config) state.PersistenceBackend {
	return state.NewMemoryBackend(0)
}

func buildLimiter(cfg *config.Config, redisClient *redis.Client) *ratelimit.Limiter {
	if redisClient == nil {
		return ratelimit.New(nil)
	}
	return ratelimit.New(ratelimit.NewRedisMirror(redisClient, "cybernetic:ratelimit:"))
}

func buildContainerSink(db *sql.DB) containers.Sink {
	if db != nil {
		return containers.NewSink(containers.NewPostgresStore(sqlx.NewDb(db, "postgres")))
	}
	return containers.NewSink(containers.NewMemoryStore())
}

func buildAuthStore(db *sql.DB) auth.Store {
	if db != nil {
		return auth.NewPostgresStore(sqlx.NewDb(db, "postgres"))
	}
	return auth.NewMemoryStore()
}

func buildAuthManager(store auth.Store, cfg *config.Config, logger *zap.Logger) *auth.Manager {
	externalKeys := make(map[string]interface{}, len(cfg.Auth.ExternalJWTPublicKeysPEM))
	for kid, pemBytes := range cfg.Auth.ExternalJWTPublicKeysPEM {
		key, err := auth.ParseRSAPublicKeyFromPEM([]byte(pemBytes))
		if err != nil {
			logger.Warn("skipping invalid external jwt key", zap.String("kid", kid), zap.Error(err))
			continue
		}
		externalKeys[kid] = key
	}

	tokenSecret := cfg.Auth.TokenSecret
	if tokenSecret == "" {
		tokenSecret = cfg.Cybernetic.JWTSecret
	}

	return auth.NewManager(store, auth.Config{
		SessionTTL:      time.Duration(cfg.Auth.SessionTTLSeconds) * time.Second,
		RefreshTTL:      time.Duration(cfg.Auth.RefreshTTLSeconds) * time.Second,
		TokenSecret:     []byte(tokenSecret),
		ExternalJWTKeys: externalKeys,
	}, logger)
}

// bootstrapUsers seeds the operator/service accounts named by
// CYBERNETIC_USER_<NAME> env vars (config.parseCyberneticUsers) into
// whichever store backs auth.Manager. Postgres gets an idempotent upsert;
// MemoryStore gets a direct PutUser since it exposes no SQL surface.
func bootstrapUsers(ctx context.Context, db *sql.DB, store auth.Store, users []config.UserSpec) error {
	if len(users) == 0 {
		return nil
	}

	for _, u := range users {
		hash, err := auth.HashPassword(u.Password, auth.DefaultPasswordParams())
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.Username, err)
		}
		roles := u.Roles
		if len(roles) == 0 && u.Role != "" {
			roles = []string{u.Role}
		}

		switch s := store.(type) {
		case *auth.MemoryStore:
			s.PutUser(auth.User{
				ID:           systemTenantID + "/" + u.Username,
				TenantID:     systemTenantID,
				Username:     u.Username,
				PasswordHash: hash,
				Roles:        roles,
			})
		default:
			if db == nil {
				continue
			}
			rolesJSON, err := marshalRoles(roles)
			if err != nil {
				return err
			}
			if _, err := db.ExecContext(ctx, `
				INSERT INTO users (id, tenant_id, username, password_hash, roles)
				VALUES (gen_random_uuid(), $1, $2, $3, $4)
				ON CONFLICT (tenant_id, username)
				DO UPDATE SET password_hash = EXCLUDED.password_hash, roles = EXCLUDED.roles`,
				systemTenantID, u.Username, hash, rolesJSON); err != nil {
				return fmt.Errorf("upsert user %s: %w", u.Username, err)
			}
		}
	}
	return nil
}

func marshalRoles(roles []string) ([]byte, error) {
	if len(roles) == 0 {
		return []byte("[]"), nil
	}
	quoted := make([]string, len(roles))
	for i, r := range roles {
		quoted[i] = fmt.Sprintf("%q", r)
	}
	return []byte("[" + strings.Join(quoted, ",") + "]"), nil
}

// registerProviders wires one llmrouter.StubProvider per configured
// vendor, each backed by a real httputil-constructed HTTP client, and
// sets a single "default" fallback chain across whichever providers have
// credentials. API keys are resolved through secretsProvider first (so a
// deployment can custody them as SECRET_ANTHROPIC_API_KEY and similar
// rather than plaintext config/env), falling back to the plain config
// value. Vendor wire formats are intentionally not modeled (pkg/llmrouter's
// own doc comment: "real wire protocols are out of scope"); each Call does
// a generic JSON completion request instead of the vendor's actual API
// shape, so a real deployment replaces Call with its own SDK client.
func registerProviders(ctx context.Context, router *llmrouter.Router, cfg config.ProvidersConfig, secretsProvider secrets.Provider) {
	var chain llmrouter.Chain

	anthropicKey := resolveSecret(ctx, secretsProvider, "ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	if anthropicKey != "" {
		provider := llmrouter.NewAnthropicProvider(genericCompletionCall("https://api.anthropic.com", anthropicKey, "X-Api-Key"))
		router.RegisterProvider(provider)
		chain = append(chain, provider.ID())
	}
	openAIKey := resolveSecret(ctx, secretsProvider, "OPENAI_API_KEY", cfg.OpenAIAPIKey)
	if openAIKey != "" {
		provider := llmrouter.NewOpenAIProvider(genericCompletionCall("https://api.openai.com", openAIKey, "Authorization"))
		router.RegisterProvider(provider)
		chain = append(chain, provider.ID())
	}
	togetherKey := resolveSecret(ctx, secretsProvider, "TOGETHER_API_KEY", cfg.TogetherAPIKey)
	if togetherKey != "" {
		provider := llmrouter.NewTogetherProvider(genericCompletionCall("https://api.together.xyz", togetherKey, "Authorization"))
		router.RegisterProvider(provider)
		chain = append(chain, provider.ID())
	}
	if cfg.OllamaBaseURL != "" {
		provider := llmrouter.NewOllamaProvider(genericCompletionCall(cfg.OllamaBaseURL, "", ""))
		router.RegisterProvider(provider)
		chain = append(chain, provider.ID())
	}

	if len(chain) > 0 {
		router.SetChain("default", chain)
	}
}

type completionRequestBody struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

type completionResponseBody struct {
	Text  string `json:"text"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// genericCompletionCall builds a Call func that POSTs to baseURL/v1/complete
// with apiKey carried in authHeader (skipped when either is empty, as with
// a local Ollama deployment).
func genericCompletionCall(baseURL, apiKey, authHeader string) func(ctx context.Context, episode llmrouter.Episode, opts llmrouter.Options) (llmrouter.Result, error) {
	client, normalizedBaseURL, err := httputil.NewClientWithBaseURL(httputil.ClientConfig{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}, httputil.DefaultClientDefaults())
	if err != nil {
		return func(ctx context.Context, episode llmrouter.Episode, opts llmrouter.Options) (llmrouter.Result, error) {
			return llmrouter.Result{}, fmt.Errorf("llmrouter: invalid base url %q: %w", baseURL, err)
		}
	}

	return func(ctx context.Context, episode llmrouter.Episode, opts llmrouter.Options) (llmrouter.Result, error) {
		reqBytes, err := json.Marshal(completionRequestBody{Prompt: episode.Prompt, Model: opts.ModelPolicy})
		if err != nil {
			return llmrouter.Result{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, normalizedBaseURL+"/v1/complete", bytes.NewReader(reqBytes))
		if err != nil {
			return llmrouter.Result{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())
		if apiKey != "" && authHeader != "" {
			if authHeader == "Authorization" {
				req.Header.Set(authHeader, "Bearer "+apiKey)
			} else {
				req.Header.Set(authHeader, apiKey)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return llmrouter.Result{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return llmrouter.Result{}, fmt.Errorf("llmrouter: provider responded %d", resp.StatusCode)
		}

		var body completionResponseBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return llmrouter.Result{}, err
		}
		return llmrouter.Result{
			Text: body.Text,
			Usage: llmrouter.Usage{
				PromptTokens:     body.Usage.PromptTokens,
				CompletionTokens: body.Usage.CompletionTokens,
				TotalTokens:      body.Usage.PromptTokens + body.Usage.CompletionTokens,
			},
		}, nil
	}
}

// parseWebhookChannels scans CEP_NOTIFY_<NAME>=<url> pairs out of environ,
// the same convention config.parseCyberneticUsers uses for
// CYBERNETIC_USER_<NAME>, since a hook's notify channel set is sparse and
// deployment-specific rather than worth a dedicated config section.
func parseWebhookChannels(environ []string) map[string]string {
	const prefix = "CEP_NOTIFY_"
	channels := make(map[string]string)
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 || !strings.HasPrefix(kv, prefix) {
			continue
		}
		name := strings.ToLower(kv[len(prefix):eq])
		url := kv[eq+1:]
		if name == "" || url == "" {
			continue
		}
		channels[name] = url
	}
	return channels
}

func mergeEventData(measurements map[string]float64, metadata map[string]any) map[string]any {
	data := make(map[string]any, len(measurements)+len(metadata))
	for k, v := range metadata {
		data[k] = v
	}
	for k, v := range measurements {
		data[k] = v
	}
	return data
}
