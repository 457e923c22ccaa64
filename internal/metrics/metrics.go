// Package metrics exposes Prometheus instruments for the diagnostic monitors.
//
// Every method is safe on a nil *Metrics, so monitors can be built without a
// registry in tests and tooling.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diagd"

// Metrics holds every instrument registered by New.
type Metrics struct {
	// EventsTotal counts events recorded by the Logger.
	// Labels: level, category
	EventsTotal *prometheus.CounterVec

	// ThresholdNoticesTotal counts threshold-exceeded notices.
	// Labels: level
	ThresholdNoticesTotal *prometheus.CounterVec

	// ForwardFailuresTotal counts CRITICAL/FATAL events that could not be forwarded.
	ForwardFailuresTotal prometheus.Counter

	// CallDurationSeconds measures intercepted outbound HTTP calls.
	// Labels: method, status (HTTP code, "0" for transport failures)
	CallDurationSeconds *prometheus.HistogramVec

	// QueryDurationSeconds measures intercepted persistence operations.
	// Labels: model, action, outcome (ok, error)
	QueryDurationSeconds *prometheus.HistogramVec

	// StateViolationsTotal counts failed state rules.
	// Labels: type
	StateViolationsTotal *prometheus.CounterVec

	// ReceivedEventsTotal counts events accepted by the collector.
	// Labels: level
	ReceivedEventsTotal *prometheus.CounterVec

	// HealthStatus is 1 for the current health verdict and 0 for the others.
	// Labels: status (healthy, degraded, critical)
	HealthStatus *prometheus.GaugeVec
}

// New creates and registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logger",
			Name:      "events_total",
			Help:      "Diagnostic events recorded by level and category",
		}, []string{"level", "category"}),
		ThresholdNoticesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logger",
			Name:      "threshold_notices_total",
			Help:      "Threshold-exceeded notices by level",
		}, []string{"level"}),
		ForwardFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logger",
			Name:      "forward_failures_total",
			Help:      "Critical events that failed to reach the collector",
		}),
		CallDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "duration_seconds",
			Help:      "Intercepted outbound HTTP call duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 3, 5, 10, 30},
		}, []string{"method", "status"}),
		QueryDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queries",
			Name:      "duration_seconds",
			Help:      "Intercepted persistence operation duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"model", "action", "outcome"}),
		StateViolationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "violations_total",
			Help:      "State rule violations by type",
		}, []string{"type"}),
		ReceivedEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "received_total",
			Help:      "Events received by the collector by level",
		}, []string{"level"}),
		HealthStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Current health verdict (1 = active)",
		}, []string{"status"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveEvent(level, category string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(level, category).Inc()
}

func (m *Metrics) ObserveThreshold(level string) {
	if m == nil {
		return
	}
	m.ThresholdNoticesTotal.WithLabelValues(level).Inc()
}

func (m *Metrics) ObserveForwardFailure() {
	if m == nil {
		return
	}
	m.ForwardFailuresTotal.Inc()
}

func (m *Metrics) ObserveCall(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.CallDurationSeconds.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) ObserveQuery(model, action string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.QueryDurationSeconds.WithLabelValues(model, action, outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveViolation(kind string) {
	if m == nil {
		return
	}
	m.StateViolationsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveReceived(level string) {
	if m == nil {
		return
	}
	m.ReceivedEventsTotal.WithLabelValues(level).Inc()
}

// SetHealth marks status as the active verdict.
func (m *Metrics) SetHealth(status string) {
	if m == nil {
		return
	}
	for _, s := range []string{"healthy", "degraded", "critical"} {
		v := 0.0
		if s == status {
			v = 1
		}
		m.HealthStatus.WithLabelValues(s).Set(v)
	}
}
