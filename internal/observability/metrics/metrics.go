package metrics

import (
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "carewatch_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	evaluationLatency prometheus.Histogram
	snapshotErrors    *prometheus.CounterVec

	admitOutcomes   *prometheus.CounterVec
	alertEvents     *prometheus.CounterVec
	escalationSteps *prometheus.CounterVec

	activeAlerts prometheus.Gauge
)

// Init registers observability metrics.
func Init(logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "vitals_requests_total",
				Help: "Total vitals ingest requests by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "vitals_latency_seconds",
				Help:    "Vitals ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		evaluationLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluation_latency_seconds",
				Help:    "Rule evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		snapshotErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "snapshot_errors_total",
				Help: "Skipped vital readings by reason",
			},
			[]string{"reason"},
		)

		admitOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_admissions_total",
				Help: "Alert store admissions by outcome",
			},
			[]string{"outcome"},
		)
		alertEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Alert lifecycle events by type",
			},
			[]string{"type"},
		)
		escalationSteps = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "escalation_steps_total",
				Help: "Fired escalation steps by method and result",
			},
			[]string{"method", "result"},
		)

		activeAlerts = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_alerts",
				Help: "Alerts currently in active status",
			},
		)

		collectors := []prometheus.Collector{
			ingestRequests,
			ingestLatency,
			evaluationLatency,
			snapshotErrors,
			admitOutcomes,
			alertEvents,
			escalationSteps,
			activeAlerts,
		}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if logger != nil {
					logger.Printf("metrics register error: %v", err)
				}
			}
		}
	})
}

// IncIngest counts a vitals ingest request.
func IncIngest(success bool, seconds float64) {
	if ingestRequests == nil {
		return
	}
	result := resultSuccess
	if !success {
		result = resultError
	}
	ingestRequests.WithLabelValues(result).Inc()
	ingestLatency.WithLabelValues(result).Observe(seconds)
}

// ObserveEvaluation records one rule evaluation pass.
func ObserveEvaluation(seconds float64) {
	if evaluationLatency == nil {
		return
	}
	evaluationLatency.Observe(seconds)
}

// IncSnapshotError counts a skipped vital reading.
func IncSnapshotError(reason string) {
	if snapshotErrors == nil {
		return
	}
	snapshotErrors.WithLabelValues(reason).Inc()
}

// IncAdmitOutcome counts a store admission decision.
func IncAdmitOutcome(outcome string) {
	if admitOutcomes == nil {
		return
	}
	admitOutcomes.WithLabelValues(outcome).Inc()
}

// IncAlertEvent counts an emitted lifecycle event.
func IncAlertEvent(eventType string) {
	if alertEvents == nil {
		return
	}
	alertEvents.WithLabelValues(eventType).Inc()
}

// IncEscalationStep counts a fired escalation step.
func IncEscalationStep(method, result string) {
	if escalationSteps == nil {
		return
	}
	escalationSteps.WithLabelValues(method, result).Inc()
}

// SetActiveAlerts updates the active alert gauge.
func SetActiveAlerts(count int) {
	if activeAlerts == nil {
		return
	}
	activeAlerts.Set(float64(count))
}
