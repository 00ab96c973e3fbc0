package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	requests     *prometheus.CounterVec
	requestTime  *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	tickRuns     *prometheus.CounterVec
	tickDuration prometheus.Histogram
	transitions  *prometheus.CounterVec
	pinned       *prometheus.CounterVec
	warnings     *prometheus.CounterVec
	escalations  prometheus.Counter
	skipped      *prometheus.CounterVec
}

// NewMetrics registers collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		requestTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "HTTP error responses by error code.",
		}, []string{"method", "path", "code"}),
		tickRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_tick_runs_total",
			Help: "SLA tick invocations by outcome.",
		}, []string{"outcome"}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sla_tick_duration_seconds",
			Help:    "Duration of completed SLA ticks.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_transitions_total",
			Help: "SLA metric transitions by metric, new status and trigger.",
		}, []string{"metric", "status", "trigger"}),
		pinned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_tickets_pinned_total",
			Help: "Tickets pinned, by whether a rule applied.",
		}, []string{"outcome"}),
		warnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_warnings_total",
			Help: "Approaching-breach warnings emitted.",
		}, []string{"metric"}),
		escalations: f.NewCounter(prometheus.CounterOpts{
			Name: "sla_escalations_total",
			Help: "Tickets escalated after their escalation deadline.",
		}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_tickets_skipped_total",
			Help: "Tickets skipped inside a batch, by reason.",
		}, []string{"reason"}),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestTime.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, path, code).Inc()
}

// RecordTick records a tick outcome: completed, skipped or failed.
func (m *Metrics) RecordTick(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.tickRuns.WithLabelValues(outcome).Inc()
	if outcome == "completed" {
		m.tickDuration.Observe(duration.Seconds())
	}
}

// RecordTransition counts a metric moving to status; trigger is event or tick.
func (m *Metrics) RecordTransition(metric, status, trigger string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(metric, status, trigger).Inc()
}

// RecordPinned counts a pinned ticket; outcome is rule or no_rule.
func (m *Metrics) RecordPinned(outcome string) {
	if m == nil {
		return
	}
	m.pinned.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordWarning(metric string) {
	if m == nil {
		return
	}
	m.warnings.WithLabelValues(metric).Inc()
}

func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// RecordSkipped counts a ticket skipped inside a batch.
func (m *Metrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}
