package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry       *prometheus.Registry
	registryOnce   sync.Once
	metricsEnabled = true

	// Detection metrics
	DetectionsTotal   *prometheus.CounterVec
	ScoreDistribution prometheus.Histogram

	// Session metrics
	SessionsActive       prometheus.Gauge
	ConfirmationOutcomes *prometheus.CounterVec
	CooldownSuppressed   prometheus.Counter
	AutoEscalationsTotal prometheus.Counter

	// Dispatch metrics
	AlertsDispatched *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Audit metrics
	AuditRecordsWritten *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		DetectionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_detections_total",
				Help: "Total number of scored messages by resulting severity",
			},
			[]string{"severity"},
		)

		ScoreDistribution = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "guardian_risk_score",
				Help:    "Distribution of computed risk scores",
				Buckets: prometheus.LinearBuckets(0, 20, 10),
			},
		)

		SessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "guardian_sessions_active",
				Help: "Number of open confirmation sessions",
			},
		)

		ConfirmationOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_confirmation_outcomes_total",
				Help: "Confirmation dialogue outcomes",
			},
			[]string{"outcome"},
		)

		CooldownSuppressed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "guardian_cooldown_suppressed_total",
				Help: "Detections suppressed by the per-user cooldown window",
			},
		)

		AutoEscalationsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "guardian_auto_escalations_total",
				Help: "Sessions escalated after an unanswered confirmation deadline",
			},
		)

		AlertsDispatched = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_alerts_dispatched_total",
				Help: "Alert dispatch attempts by channel and delivery status",
			},
			[]string{"channel", "status"},
		)

		DispatchDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guardian_dispatch_duration_seconds",
				Help:    "Time taken by notification channel sends",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		)

		AuditRecordsWritten = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_audit_records_total",
				Help: "Audit records by write status (published or buffered)",
			},
			[]string{"status"},
		)

		registry.MustRegister(
			DetectionsTotal,
			ScoreDistribution,
			SessionsActive,
			ConfirmationOutcomes,
			CooldownSuppressed,
			AutoEscalationsTotal,
			AlertsDispatched,
			DispatchDuration,
			AuditRecordsWritten,
		)

		logger.Info("Metrics registry initialized")
	})
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetMetricsEnabled enables or disables metrics collection
func SetMetricsEnabled(enabled bool) {
	metricsEnabled = enabled
}

// RecordDetection records a scored message
func RecordDetection(severity string, score int) {
	if metricsEnabled && DetectionsTotal != nil {
		DetectionsTotal.WithLabelValues(severity).Inc()
		ScoreDistribution.Observe(float64(score))
	}
}

// SetActiveSessions updates the open-session gauge
func SetActiveSessions(count int) {
	if metricsEnabled && SessionsActive != nil {
		SessionsActive.Set(float64(count))
	}
}

// RecordConfirmationOutcome records how a confirmation dialogue ended
func RecordConfirmationOutcome(outcome string) {
	if metricsEnabled && ConfirmationOutcomes != nil {
		ConfirmationOutcomes.WithLabelValues(outcome).Inc()
	}
}

// RecordCooldownSuppressed records a detection suppressed by cooldown
func RecordCooldownSuppressed() {
	if metricsEnabled && CooldownSuppressed != nil {
		CooldownSuppressed.Inc()
	}
}

// RecordAutoEscalation records a timeout-driven escalation
func RecordAutoEscalation() {
	if metricsEnabled && AutoEscalationsTotal != nil {
		AutoEscalationsTotal.Inc()
	}
}

// RecordDispatch records one channel send attempt
func RecordDispatch(channel string, delivered bool) {
	if metricsEnabled && AlertsDispatched != nil {
		status := "failed"
		if delivered {
			status = "delivered"
		}
		AlertsDispatched.WithLabelValues(channel, status).Inc()
	}
}

// ObserveDispatch returns a timer function recording the send duration
func ObserveDispatch(channel string) func() {
	if !metricsEnabled || DispatchDuration == nil {
		return func() {}
	}

	timer := prometheus.NewTimer(DispatchDuration.WithLabelValues(channel))
	return func() { timer.ObserveDuration() }
}

// RecordAuditWrite records an audit record write by status
func RecordAuditWrite(status string) {
	if metricsEnabled && AuditRecordsWritten != nil {
		AuditRecordsWritten.WithLabelValues(status).Inc()
	}
}
