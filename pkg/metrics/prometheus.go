// Package metrics provides Prometheus metrics for the birdscore judge console.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector birdscore exposes.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Auth guard
	logins       *prometheus.CounterVec
	logouts      prometheus.Counter
	forcedLogout prometheus.Counter
	authState    prometheus.Gauge

	// Session lifecycle
	sessionsCreated    prometheus.Counter
	roundsAdvanced     *prometheus.CounterVec
	sessionsCompleted  prometheus.Counter
	sequenceViolations prometheus.Counter
	validationFailures *prometheus.CounterVec
	busyRejections     prometheus.Counter
	staleDiscards      *prometheus.CounterVec
	openSessions       prometheus.Gauge

	// Scoring backend
	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec

	// HTTP console
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager. Collectors are registered on the
// configured registry, prometheus.DefaultRegisterer when none is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "birdscore",
		subsystem:        "console",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	auto := promauto.With(m.registry)

	m.logins = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "logins_total",
		Help:      "Login attempts by outcome (ok, rejected, transport, stale)",
	}, []string{"result"})

	m.logouts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "logouts_total",
		Help:      "Explicit logouts",
	})

	m.forcedLogout = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "forced_logouts_total",
		Help:      "Logouts forced by an expired or rejected credential",
	})

	m.authState = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "authenticated",
		Help:      "1 when a judge identity is held, 0 otherwise",
	})

	m.sessionsCreated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_created_total",
		Help:      "Competition sessions created",
	})

	m.roundsAdvanced = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rounds_advanced_total",
		Help:      "Rounds recorded, by round number",
	}, []string{"round"})

	m.sessionsCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_completed_total",
		Help:      "Sessions that reached the completed status",
	})

	m.sequenceViolations = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sequence_violations_total",
		Help:      "Out-of-order round submissions rejected",
	})

	m.validationFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "validation_failures_total",
		Help:      "Rejected user input, by field",
	}, []string{"field"})

	m.busyRejections = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "busy_rejections_total",
		Help:      "Mutations rejected because another one was in flight",
	})

	m.staleDiscards = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stale_results_total",
		Help:      "Async results discarded because state moved on, by operation",
	}, []string{"op"})

	m.openSessions = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "open_sessions",
		Help:      "Sessions not yet completed",
	})

	m.backendCalls = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "backend",
		Name:      "calls_total",
		Help:      "Calls to the scoring backend by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	m.backendLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "backend",
		Name:      "call_duration_milliseconds",
		Help:      "Scoring backend call latency in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Console HTTP requests",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_milliseconds",
		Help:      "Console HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

// RecordLogin counts a login attempt with its outcome.
func RecordLogin(result string) {
	globalManager.logins.WithLabelValues(result).Inc()
}

// RecordLogout counts an explicit logout.
func RecordLogout() {
	globalManager.logouts.Inc()
}

// RecordForcedLogout counts a logout caused by a credential failure.
func RecordForcedLogout() {
	globalManager.forcedLogout.Inc()
}

// SetAuthenticated flips the authenticated gauge.
func SetAuthenticated(ok bool) {
	if ok {
		globalManager.authState.Set(1)
		return
	}
	globalManager.authState.Set(0)
}

// RecordSessionCreated counts a new session.
func RecordSessionCreated() {
	globalManager.sessionsCreated.Inc()
}

// RecordRoundAdvanced counts a recorded round.
func RecordRoundAdvanced(round string) {
	globalManager.roundsAdvanced.WithLabelValues(round).Inc()
}

// RecordSessionCompleted counts a finished session.
func RecordSessionCompleted() {
	globalManager.sessionsCompleted.Inc()
}

// RecordSequenceViolation counts an out-of-order round.
func RecordSequenceViolation() {
	globalManager.sequenceViolations.Inc()
}

// RecordValidationFailure counts rejected input for field.
func RecordValidationFailure(field string) {
	globalManager.validationFailures.WithLabelValues(field).Inc()
}

// RecordBusyRejection counts a mutation refused while another was in flight.
func RecordBusyRejection() {
	globalManager.busyRejections.Inc()
}

// RecordStaleDiscard counts a discarded async result.
func RecordStaleDiscard(op string) {
	globalManager.staleDiscards.WithLabelValues(op).Inc()
}

// UpdateOpenSessions sets the open sessions gauge.
func UpdateOpenSessions(n int) {
	globalManager.openSessions.Set(float64(n))
}

// RecordBackendCall records one scoring backend call.
func RecordBackendCall(endpoint, outcome string, latencyMs float64) {
	globalManager.backendCalls.WithLabelValues(endpoint, outcome).Inc()
	globalManager.backendLatency.WithLabelValues(endpoint).Observe(latencyMs)
}

// RecordHTTPRequest counts a console HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records console HTTP latency in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the registry served on /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
