package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digitagro_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "digitagro_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	eventsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digitagro_notifications_created_total",
			Help: "Notifications persisted by kind and creation mode",
		},
		[]string{"kind", "mode"},
	)

	fanoutPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digitagro_fanout_publishes_total",
			Help: "Live pushes handed to the channel layer by result",
		},
		[]string{"result"},
	)

	fanoutLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "digitagro_fanout_publish_seconds",
			Help:    "Time spent publishing one live push",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "digitagro_ws_sessions_active",
			Help: "Currently open real-time sessions",
		},
	)

	sessionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digitagro_ws_sessions_rejected_total",
			Help: "Session attempts refused before subscribing",
		},
		[]string{"reason"},
	)

	sessionActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digitagro_ws_actions_total",
			Help: "Client actions received over real-time sessions",
		},
		[]string{"action"},
	)

	sessionPushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "digitagro_ws_pushes_total",
			Help: "Live pushes written to session sockets",
		},
	)

	bridgeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digitagro_sqs_bridge_messages_total",
			Help: "Messages consumed from the instance SQS queue by result",
		},
		[]string{"result"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "digitagro_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "digitagro_idempotency_hits_total",
			Help: "Producer calls served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digitagro_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"scope"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "digitagro_db_connections_active",
			Help: "Acquired database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEventCreated counts a persisted notification. mode is "single" or "bulk".
func RecordEventCreated(kind, mode string) {
	eventsCreated.WithLabelValues(kind, mode).Inc()
}

// RecordFanout records one publish attempt. result is "ok" or "error".
func RecordFanout(result string, duration time.Duration) {
	fanoutPublishes.WithLabelValues(result).Inc()
	fanoutLatency.Observe(duration.Seconds())
}

func SessionOpened() { sessionsActive.Inc() }

func SessionClosed() { sessionsActive.Dec() }

// RecordSessionRejected counts a refused session attempt.
func RecordSessionRejected(reason string) {
	sessionsRejected.WithLabelValues(reason).Inc()
}

// RecordSessionAction counts a client action. Unrecognised actions are
// recorded as "unknown" to keep label cardinality bounded.
func RecordSessionAction(action string) {
	sessionActions.WithLabelValues(action).Inc()
}

func RecordSessionPush() { sessionPushes.Inc() }

// RecordBridgeMessage counts a consumed SQS message by result.
func RecordBridgeMessage(result string) {
	bridgeMessages.WithLabelValues(result).Inc()
}

// SetCircuitState publishes a breaker's state.
func SetCircuitState(name string, state int) {
	circuitState.WithLabelValues(name).Set(float64(state))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// SetDBConnections sets acquired database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by chi route pattern so path parameters don't explode
// cardinality. The wrapped writer keeps http.Hijacker for websocket upgrades.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, routePattern(r), status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
