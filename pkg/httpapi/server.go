// Package httpapi exposes the control plane's external interfaces: a
// Bearer-authenticated generate endpoint forwarding to S4, a topic-filtered
// SSE telemetry stream, an HMAC-verified Telegram webhook forwarding to S1,
// Prometheus metrics, and liveness/readiness health checks.
//
// Grounded on internal/app/httpapi's handler-bundle and
// Service lifecycle shape, rebuilt on gin-gonic/gin instead of a raw
// net/http.ServeMux.
package httpapi

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
	"github.com/viable-systems/control-plane/internal/platform/middleware"
	"github.com/viable-systems/control-plane/internal/platform/security"
	"github.com/viable-systems/control-plane/pkg/auth"
	"github.com/viable-systems/control-plane/pkg/bus"
	"github.com/viable-systems/control-plane/pkg/ingest"
	"github.com/viable-systems/control-plane/pkg/llmrouter"
	"github.com/viable-systems/control-plane/pkg/metrics"
	"github.com/viable-systems/control-plane/pkg/ratelimit"
	"github.com/viable-systems/control-plane/pkg/telemetry"
)

// Config controls the external-facing HTTP server.
type Config struct {
	Addr         string
	TLSCertFile  string
	TLSKeyFile   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TelegramWebhookSecret signs inbound Telegram webhook payloads;
	// empty disables the webhook route entirely.
	TelegramWebhookSecret string
	// TelegramChatBudget bounds webhook throughput per chat ID.
	TelegramChatBudget ratelimit.BudgetConfig

	// CORS configures allowed browser origins; zero value allows none.
	CORS middleware.CORSConfig
	// MaxRequestBodyBytes caps inbound request bodies; zero applies the
	// middleware package's own default.
	MaxRequestBodyBytes int64
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.TelegramChatBudget.Name == "" {
		c.TelegramChatBudget = ratelimit.BudgetConfig{Name: "telegram.webhook", Limit: 20, Window: time.Minute}
	}
	return c
}

// Publisher is the narrow bus dependency the webhook route needs, matching
// the accept-an-interface idiom pkg/vsm's tiers use for the same client.
type Publisher interface {
	Publish(ctx context.Context, topic string, env bus.Envelope) error
}

// Deps bundles the components the edge forwards requests into.
type Deps struct {
	Auth       *auth.Manager
	Router     *llmrouter.Router
	Telemetry  *telemetry.Bus
	Bus        Publisher
	Limiter    *ratelimit.Limiter
	Containers ingest.ContainerSink
	Health     *DeepHealthChecker
	Probes     *ProbeManager
	Version    string
}

// Server wraps a gin.Engine with the lifecycle shape the system manager
// expects: Start launches the listener in a background goroutine and
// returns without waiting for it to bind, Stop drains in-flight requests
// against the caller's context deadline.
type Server struct {
	cfg           Config
	deps          Deps
	engine        *gin.Engine
	server        *http.Server
	log           *zap.Logger
	webhookReplay *security.ReplayProtection
}

// NewServer builds the routed engine. Routes are registered eagerly so the
// returned Server is ready for Start.
func NewServer(cfg Config, deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if deps.Limiter != nil {
		deps.Limiter.Declare(cfg.TelegramChatBudget)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		requestLogger(log),
		wrapStdMiddleware(middleware.NewSecurityHeadersMiddleware(nil).Handler),
		wrapStdMiddleware(middleware.NewBodyLimitMiddleware(cfg.MaxRequestBodyBytes).Handler),
		wrapStdMiddleware(middleware.NewCORSMiddleware(&cfg.CORS).Handler),
	)

	s := &Server{cfg: cfg, deps: deps, engine: engine, log: log}
	if cfg.TelegramWebhookSecret != "" {
		s.webhookReplay = security.NewReplayProtection(telegramReplayWindow, nil)
	}
	s.routes()
	return s
}

// wrapStdMiddleware adapts a standard func(http.Handler) http.Handler
// middleware into gin's chain, matching the accept-an-http.Handler idiom
// internal/platform/middleware uses throughout.
func wrapStdMiddleware(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		called := false
		mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)
		if !called {
			c.Abort()
		}
	}
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.engine.Group("/v1")
	v1.Use(s.requireBearer())
	v1.POST("/generate", s.handleGenerate)
	v1.POST("/ingest", s.handleIngest)
	v1.GET("/events", s.handleEvents)

	if s.cfg.TelegramWebhookSecret != "" {
		s.engine.POST("/telegram/webhook", s.handleTelegramWebhook)
	}
}

// Handler returns the request-metrics-instrumented http.Handler.
func (s *Server) Handler() http.Handler { return metrics.InstrumentHandler(s.engine) }

// Start begins listening in a background goroutine, matching the
// fire-and-log lifecycle the rest of this repo's services use.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		TLSConfig:    &tls.Config{MinVersion: tls.VersionTLS12},
	}

	go func() {
		var err error
		if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
			err = s.server.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", zap.Error(err))
		}
	}()
	if s.deps.Probes != nil {
		s.deps.Probes.SetReady(true)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.deps.Probes != nil {
		s.deps.Probes.SetReady(false)
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// writeError renders err as a JSON body using its apierr.Kind-derived
// status, defaulting to 500 for errors the edge doesn't recognize.
func writeError(c *gin.Context, err error) {
	status := apierr.GetHTTPStatus(err)
	svcErr := apierr.As(err)
	body := gin.H{"error": err.Error()}
	if svcErr != nil {
		body["error"] = svcErr.Message
		body["kind"] = string(svcErr.Kind)
	}
	c.AbortWithStatusJSON(status, body)
}
