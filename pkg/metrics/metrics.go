package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cybernetic_core",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybernetic_core",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cybernetic_core",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	vsmMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybernetic_core",
			Subsystem: "vsm",
			Name:      "messages_total",
			Help:      "Total number of messages handled by each VSM tier.",
		},
		[]string{"tier", "type", "result"},
	)

	vsmQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cybernetic_core",
			Subsystem: "vsm",
			Name:      "queue_depth",
			Help:      "Current mailbox depth for a VSM tier actor.",
		},
		[]string{"tier"},
	)

	algedonicSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybernetic_core",
			Subsystem: "vsm",
			Name:      "algedonic_signals_total",
			Help:      "Total algedonic (pain/pleasure) signals routed to S5.",
		},
		[]string{"severity"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cybernetic_core",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state per service (0=closed,1=open,2=half-open).",
		},
		[]string{"service_id"},
	)

	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybernetic_core",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Total circuit breaker state transitions.",
		},
		[]string{"service_id", "from", "to"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybernetic_core",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Response cache lookups by outcome.",
		},
		[]string{"outcome"}, // hit|miss|bloom_negative
	)

	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybernetic_core",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Response cache entries evicted, by reason.",
		},
		[]string{"reason"}, // ttl|lru|count_ceiling|byte_ceiling
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybernetic_core",
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Requests rejected by the named-budget rate limiter.",
		},
		[]string{"budget", "priority"},
	)

	providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybernetic_core",
			Subsystem: "llmrouter",
			Name:      "provider_calls_total",
			Help:      "LLM provider call attempts by outcome.",
		},
		[]string{"provider", "model", "outcome"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cybernetic_core",
			Subsystem: "llmrouter",
			Name:      "provider_latency_seconds",
			Help:      "LLM provider call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"provider", "model"},
	)

	auditAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybernetic_core",
			Subsystem: "audit",
			Name:      "appends_total",
			Help:      "Audit chain append operations by outcome.",
		},
		[]string{"outcome"}, // ok|verify_failed
	)

	busFanout = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybernetic_core",
			Subsystem: "bus",
			Name:      "deliveries_total",
			Help:      "Message bus deliveries by topic and result.",
		},
		[]string{"topic", "result"}, // ok|nack|dead_letter
	)

	ingestFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybernetic_core",
			Subsystem: "ingest",
			Name:      "fetches_total",
			Help:      "Ingest pipeline fetch attempts by outcome.",
		},
		[]string{"outcome"}, // ok|blocked_ssrf|timeout|error
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		vsmMessages,
		vsmQueueDepth,
		algedonicSignals,
		breakerState,
		breakerTransitions,
		cacheHits,
		cacheEvictions,
		rateLimited,
		providerCalls,
		providerLatency,
		auditAppends,
		busFanout,
		ingestFetches,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordVSMMessage records a message handled by a VSM tier actor.
func RecordVSMMessage(tier, msgType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	vsmMessages.WithLabelValues(tier, msgType, result).Inc()
}

// SetVSMQueueDepth publishes the current mailbox depth for tier.
func SetVSMQueueDepth(tier string, depth int) {
	vsmQueueDepth.WithLabelValues(tier).Set(float64(depth))
}

// RecordAlgedonicSignal counts a pain/pleasure signal escalated toward S5.
func RecordAlgedonicSignal(severity string) {
	if severity == "" {
		severity = "unknown"
	}
	algedonicSignals.WithLabelValues(severity).Inc()
}

// breakerStateValue maps a breaker state name to the gauge encoding used by
// dashboards (0=closed, 1=open, 2=half-open).
func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}

// RecordBreakerTransition publishes a circuit breaker state transition.
func RecordBreakerTransition(serviceID, from, to string) {
	breakerTransitions.WithLabelValues(serviceID, from, to).Inc()
	breakerState.WithLabelValues(serviceID).Set(breakerStateValue(to))
}

// RecordCacheLookup records a cache lookup outcome (hit|miss|bloom_negative).
func RecordCacheLookup(outcome string) {
	cacheHits.WithLabelValues(outcome).Inc()
}

// RecordCacheEviction records a cache eviction by reason.
func RecordCacheEviction(reason string) {
	cacheEvictions.WithLabelValues(reason).Inc()
}

// RecordRateLimitRejection records a request rejected by a named budget.
func RecordRateLimitRejection(budget, priority string) {
	rateLimited.WithLabelValues(budget, priority).Inc()
}

// RecordProviderCall records an LLM provider call outcome and latency.
func RecordProviderCall(provider, model, outcome string, dur time.Duration) {
	if dur <= 0 {
		dur = time.Millisecond
	}
	providerCalls.WithLabelValues(provider, model, outcome).Inc()
	providerLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}

// RecordAuditAppend records an audit chain append outcome.
func RecordAuditAppend(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "verify_failed"
	}
	auditAppends.WithLabelValues(outcome).Inc()
}

// RecordBusDelivery records a message bus delivery outcome for topic.
func RecordBusDelivery(topic, result string) {
	busFanout.WithLabelValues(topic, result).Inc()
}

// RecordIngestFetch records an ingest pipeline fetch outcome.
func RecordIngestFetch(outcome string) {
	ingestFetches.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path segments that look like identifiers so
// per-route cardinality stays bounded (e.g. /tenants/abc-123/runs/9 becomes
// /tenants/:id/runs/:id).
func canonicalPath(raw string) string {
	segments := strings.Split(raw, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if looksLikeIdentifier(seg) {
			segments[i] = ":id"
		}
	}
	joined := strings.Join(segments, "/")
	if joined == "" {
		return "/"
	}
	return joined
}

func looksLikeIdentifier(seg string) bool {
	if len(seg) == 0 {
		return false
	}
	hasDigit := false
	hasDash := false
	for _, r := range seg {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '-':
			hasDash = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		default:
			return false
		}
	}
	return hasDigit || (hasDash && len(seg) >= 8)
}
