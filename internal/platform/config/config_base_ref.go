package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// SecurityConfig controls encryption-specific parameters.
type SecurityConfig struct {
	SecretEncryptionKey string `json:"secret_encryption_key" env:"SECRET_ENCRYPTION_KEY"`
}

// AuthConfig controls HTTP API authentication.
type AuthConfig struct {
	Tokens              []string   `json:"tokens"`
	JWTSecret           string     `json:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Users               []UserSpec `json:"users"`
	SupabaseJWTSecret   string     `json:"supabase_jwt_secret" env:"SUPABASE_JWT_SECRET"`
	SupabaseJWTAud      string     `json:"supabase_jwt_aud" env:"SUPABASE_JWT_AUD"`
	SupabaseAdminRoles  []string   `json:"supabase_admin_roles" env:"SUPABASE_ADMIN_ROLES"`
	SupabaseTenantClaim string     `json:"supabase_tenant_claim" env:"SUPABASE_TENANT_CLAIM"`
	SupabaseRoleClaim   string     `json:"supabase_role_claim" env:"SUPABASE_ROLE_CLAIM"`
	SupabaseGoTrueURL   string     `json:"supabase_gotrue_url" env:"SUPABASE_GOTRUE_URL"`

	// TokenSecret signs the session manager's internally-issued HS256
	// tokens and HMACs API keys/refresh tokens. Required in production.
	TokenSecret string `json:"token_secret" env:"AUTH_TOKEN_SECRET"`
	// SessionTTLSeconds/RefreshTTLSeconds size the auth manager's issued
	// tokens; zero means the manager's own defaults apply.
	SessionTTLSeconds int `json:"session_ttl_seconds" env:"AUTH_SESSION_TTL_SECONDS"`
	RefreshTTLSeconds int `json:"refresh_ttl_seconds" env:"AUTH_REFRESH_TTL_SECONDS"`
	// ExternalJWTPublicKeysPEM maps a "kid" to a PEM-encoded RSA public
	// key for verifying externally-issued RS256 tokens.
	ExternalJWTPublicKeysPEM map[string]string `json:"external_jwt_public_keys"`
}

// BusConfig selects and configures the message bus transport (C1).
type BusConfig struct {
	// Transport is "redis" or "postgres"; postgres is the single-node
	// default since it needs no extra infrastructure.
	Transport   string `json:"transport" env:"BUS_TRANSPORT"`
	RedisAddr   string `json:"redis_addr" env:"BUS_REDIS_ADDR"`
	RedisGroup  string `json:"redis_group" env:"BUS_REDIS_GROUP"`
	PostgresDSN string `json:"postgres_dsn" env:"BUS_POSTGRES_DSN"`
	MaxRetries  int    `json:"max_retries" env:"BUS_MAX_RETRIES"`
}

// ProvidersConfig carries the per-adapter LLM provider credentials the
// router's fallback chain calls out to (C10).
type ProvidersConfig struct {
	AnthropicAPIKey string `json:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `json:"openai_api_key" env:"OPENAI_API_KEY"`
	TogetherAPIKey  string `json:"together_api_key" env:"TOGETHER_API_KEY"`
	OllamaBaseURL   string `json:"ollama_base_url" env:"OLLAMA_BASE_URL"`
}

// CyberneticConfig names this system's own environment variables
// verbatim, kept separate from the existing AUTH_*/SUPABASE_* knobs
// above since those predate this system and still back the legacy
// external-JWT verification path.
type CyberneticConfig struct {
	JWTSecret       string `json:"jwt_secret" env:"JWT_SECRET"`
	PasswordSalt    string `json:"password_salt" env:"PASSWORD_SALT"`
	AuditSigningKey string `json:"audit_signing_key" env:"AUDIT_SIGNING_KEY"`
	SystemAPIKey    string `json:"system_api_key" env:"CYBERNETIC_SYSTEM_API_KEY"`

	// Users is populated from CYBERNETIC_USER_<NAME>=<password>:<role,role>
	// pairs by parseCyberneticUsers, since envdecode can't bind a dynamic
	// set of env var names to a single tagged field.
	Users []UserSpec `json:"users"`
}

// EdgeConfig controls the C14 external interfaces: TLS and the Telegram
// webhook's shared secret and per-chat budget.
type EdgeConfig struct {
	TLSCertFile           string `json:"tls_cert_file" env:"EDGE_TLS_CERT_FILE"`
	TLSKeyFile            string `json:"tls_key_file" env:"EDGE_TLS_KEY_FILE"`
	TelegramWebhookSecret string `json:"telegram_webhook_secret" env:"TELEGRAM_WEBHOOK_SECRET"`
	TelegramChatBudget    int    `json:"telegram_chat_budget_per_minute" env:"TELEGRAM_CHAT_BUDGET_PER_MINUTE"`
}

// SupabaseConfig holds self-hosted Supabase connection settings.
type SupabaseConfig struct {
	ProjectURL     string `json:"project_url" env:"SUPABASE_URL"`
	AnonKey        string `json:"anon_key" env:"SUPABASE_ANON_KEY"`
	ServiceRoleKey string `json:"service_role_key" env:"SUPABASE_SERVICE_ROLE_KEY"`
	StorageURL     string `json:"storage_url" env:"SUPABASE_STORAGE_URL"`
}

// TracingConfig configures OTLP/Tracing exporters.
type TracingConfig struct {
	Endpoint           string            `json:"endpoint" env:"TRACING_OTLP_ENDPOINT"`
	Insecure           bool              `json:"insecure" env:"TRACING_OTLP_INSECURE"`
	ServiceName        string            `json:"service_name" env:"TRACING_SERVICE_NAME"`
	ResourceAttributes map[string]string `json:"resource_attributes" mapstructure:"resource_attributes"`
	AttributesEnv      string            `json:"-" yaml:"-" env:"TRACING_OTLP_ATTRIBUTES"`
}

type UserSpec struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Role     string   `json:"role"`
	Roles    []string `json:"roles"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Logging  LoggingConfig  `json:"logging"`
	Security SecurityConfig `json:"security"`
	Auth     AuthConfig     `json:"auth"`
	Supabase SupabaseConfig `json:"supabase"`
	Tracing  TracingConfig  `json:"tracing"`

	Bus        BusConfig        `json:"bus"`
	Providers  ProvidersConfig  `json:"providers"`
	Cybernetic CyberneticConfig `json:"cybernetic"`
	Edge       EdgeConfig       `json:"edge"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "service-layer",
		},
		Security: SecurityConfig{},
		Auth:     AuthConfig{},
		Supabase: SupabaseConfig{},
		Tracing:  TracingConfig{},
		Bus: BusConfig{
			Transport:  "postgres",
			RedisGroup: "cybernetic-core",
			MaxRetries: 5,
		},
		Providers:  ProvidersConfig{},
		Cybernetic: CyberneticConfig{},
		Edge: EdgeConfig{
			TelegramChatBudget: 20,
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	cfg.normalize()

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig is a helper used by tests to load JSON config snippets.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

// applyDatabaseURLOverride lets a non-empty DATABASE_URL override any
// file-based DSN to reduce setup friction.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

func (t *TracingConfig) normalize() {
	if t == nil {
		return
	}
	t.MergeAttributes(t.AttributesEnv)
}

// MergeAttributes merges comma-separated key=value pairs into ResourceAttributes.
func (t *TracingConfig) MergeAttributes(raw string) {
	if t == nil {
		return
	}
	pairs := parseAttributePairs(raw)
	if len(pairs) == 0 {
		return
	}
	if t.ResourceAttributes == nil {
		t.ResourceAttributes = make(map[string]string, len(pairs))
	}
	for k, v := range pairs {
		if k == "" {
			continue
		}
		t.ResourceAttributes[k] = v
	}
}

func parseAttributePairs(raw string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		val := ""
		if len(kv) > 1 {
			val = strings.TrimSpace(kv[1])
		}
		result[key] = val
	}
	return result
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	c.Tracing.normalize()
	c.Cybernetic.Users = append(c.Cybernetic.Users, parseCyberneticUsers(os.Environ())...)
}

// parseCyberneticUsers scans environ for CYBERNETIC_USER_<NAME>=<password>:<role,role>
// pairs, the per-user bootstrap variable convention. Malformed entries
// (missing the ":role" separator) are skipped rather than rejected outright,
// since one bad entry shouldn't block every other user from loading.
func parseCyberneticUsers(environ []string) []UserSpec {
	const prefix = "CYBERNETIC_USER_"
	var users []UserSpec
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 || !strings.HasPrefix(kv, prefix) {
			continue
		}
		name := kv[len(prefix):eq]
		rest := kv[eq+1:]
		sep := strings.LastIndexByte(rest, ':')
		if name == "" || sep < 0 {
			continue
		}
		password := rest[:sep]
		var roles []string
		for _, r := range strings.Split(rest[sep+1:], ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		role := ""
		if len(roles) > 0 {
			role = roles[0]
		}
		users = append(users, UserSpec{
			Username: strings.ToLower(name),
			Password: password,
			Role:     role,
			Roles:    roles,
		})
	}
	return users
}
