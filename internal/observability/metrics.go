// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Settlement metrics
	TradesSettled     *prometheus.CounterVec
	TradesRejected    *prometheus.CounterVec
	IdempotentReplays prometheus.Counter
	SettlementLatency *prometheus.HistogramVec
	VolumeNative      *prometheus.CounterVec

	// Curve metrics
	TokensSold     *prometheus.GaugeVec
	ReserveBalance *prometheus.GaugeVec
	AgentsHalted   prometheus.Counter

	// Graduation metrics
	GraduationEvaluations *prometheus.CounterVec
	Graduations           prometheus.Counter
	FollowUps             *prometheus.CounterVec

	// Vesting metrics
	Claims *prometheus.CounterVec

	// Storage metrics
	StorageConflicts prometheus.Counter
	RetriesExhausted prometheus.Counter
	DBQueryDuration  *prometheus.HistogramVec
	DBQueryErrors    *prometheus.CounterVec

	// Transport metrics
	HTTPRequests  *prometheus.CounterVec
	HTTPLatency   *prometheus.HistogramVec
	StreamClients prometheus.Gauge

	// Health metrics
	LastSuccessfulReconcile prometheus.Gauge
	FXSnapshotsCreated      prometheus.Counter
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "agent_launchpad"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Settlement metrics
		TradesSettled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "trades_settled_total",
			Help:      "Total number of committed trades by direction",
		}, []string{"direction"}),
		TradesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "trades_rejected_total",
			Help:      "Total number of rejected trades by error kind",
		}, []string{"direction", "kind"}),
		IdempotentReplays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "idempotent_replays_total",
			Help:      "Total number of settlements answered from an earlier result",
		}),
		SettlementLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "latency_seconds",
			Help:      "Settlement latency in seconds, retries included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		VolumeNative: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "volume_native_total",
			Help:      "Gross traded volume in curve-native units",
		}, []string{"direction"}),

		// Curve metrics
		TokensSold: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "curve",
			Name:      "tokens_sold",
			Help:      "Tokens sold on the curve per agent",
		}, []string{"agent_id"}),
		ReserveBalance: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "curve",
			Name:      "reserve_balance",
			Help:      "Reserve held by the curve per agent",
		}, []string{"agent_id"}),
		AgentsHalted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "curve",
			Name:      "agents_halted_total",
			Help:      "Total number of agents halted on an invariant violation",
		}),

		// Graduation metrics
		GraduationEvaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graduation",
			Name:      "evaluations_total",
			Help:      "Total number of graduation evaluations by result",
		}, []string{"result"}),
		Graduations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graduation",
			Name:      "transitions_total",
			Help:      "Total number of pre_grad to graduated transitions",
		}),
		FollowUps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graduation",
			Name:      "follow_ups_total",
			Help:      "Total number of graduation follow-ups by status",
		}, []string{"status"}),

		// Vesting metrics
		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vesting",
			Name:      "claims_total",
			Help:      "Total number of claim attempts by status",
		}, []string{"status"}),

		// Storage metrics
		StorageConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "conflicts_total",
			Help:      "Total number of transactions rejected with a storage conflict",
		}),
		RetriesExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "retries_exhausted_total",
			Help:      "Total number of operations that ran out of retries",
		}),
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Transport metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		StreamClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Number of connected stream clients",
		}),

		// Health metrics
		LastSuccessfulReconcile: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_reconcile_timestamp",
			Help:      "Unix timestamp of last successful graduation reconciliation",
		}),
		FXSnapshotsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fx",
			Name:      "snapshots_created_total",
			Help:      "Total number of FX snapshots written",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordTradeSettled records a committed trade.
func RecordTradeSettled(direction string, gross float64, seconds float64) {
	DefaultMetrics.TradesSettled.WithLabelValues(direction).Inc()
	DefaultMetrics.VolumeNative.WithLabelValues(direction).Add(gross)
	DefaultMetrics.SettlementLatency.WithLabelValues(direction).Observe(seconds)
}

// RecordTradeRejected records a rejected trade by error kind.
func RecordTradeRejected(direction, kind string) {
	DefaultMetrics.TradesRejected.WithLabelValues(direction, kind).Inc()
	if kind == "retries_exhausted" {
		DefaultMetrics.RetriesExhausted.Inc()
	}
}

// RecordIdempotentReplay records a settlement answered from an earlier result.
func RecordIdempotentReplay() {
	DefaultMetrics.IdempotentReplays.Inc()
}

// UpdateCurve updates the per-agent curve gauges.
func UpdateCurve(agentID string, tokensSold, reserve float64) {
	DefaultMetrics.TokensSold.WithLabelValues(agentID).Set(tokensSold)
	DefaultMetrics.ReserveBalance.WithLabelValues(agentID).Set(reserve)
}

// RecordAgentHalted records an agent halted on an invariant violation.
func RecordAgentHalted() {
	DefaultMetrics.AgentsHalted.Inc()
}

// RecordGraduationEvaluation records an evaluation result: met, unmet, graduated or error.
func RecordGraduationEvaluation(result string) {
	DefaultMetrics.GraduationEvaluations.WithLabelValues(result).Inc()
	if result == "graduated" {
		DefaultMetrics.Graduations.Inc()
	}
}

// RecordFollowUp records a follow-up outcome: done, skipped or failed.
func RecordFollowUp(status string) {
	DefaultMetrics.FollowUps.WithLabelValues(status).Inc()
}

// RecordClaim records a claim outcome.
func RecordClaim(status string) {
	DefaultMetrics.Claims.WithLabelValues(status).Inc()
}

// RecordStorageConflict records a transaction rejected with a conflict.
func RecordStorageConflict() {
	DefaultMetrics.StorageConflicts.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(route, status string, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, status).Inc()
	DefaultMetrics.HTTPLatency.WithLabelValues(route).Observe(seconds)
}

// SetStreamClients sets the connected stream client gauge.
func SetStreamClients(n int) {
	DefaultMetrics.StreamClients.Set(float64(n))
}

// RecordReconcileSuccess stamps the last successful reconciliation time.
func RecordReconcileSuccess(unixSeconds float64) {
	DefaultMetrics.LastSuccessfulReconcile.Set(unixSeconds)
}

// RecordFXSnapshotCreated records a newly written FX snapshot.
func RecordFXSnapshotCreated() {
	DefaultMetrics.FXSnapshotsCreated.Inc()
}
