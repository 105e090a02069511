package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics;
// components treat a nil *Metrics as "metrics disabled".
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	solanaRPCRetries      *prometheus.CounterVec

	// Staking transaction metrics
	stakingTxBuiltTotal       *prometheus.CounterVec
	stakingPoolInitsPrepended prometheus.Counter
	stakingTxSubmittedTotal   *prometheus.CounterVec
	stakingSubmissionOutcomes *prometheus.CounterVec

	// Workflow Metrics
	workflowDuration        *prometheus.HistogramVec
	workflowExecutionsTotal *prometheus.CounterVec
	activityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		stakingTxBuiltTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staking_transactions_built_total",
				Help: "Total number of staking transactions assembled by action and status",
			},
			[]string{"action", "status"},
		),
		stakingPoolInitsPrepended: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "staking_pool_inits_prepended_total",
				Help: "Number of stake transactions that carried user pool initialization",
			},
		),
		stakingTxSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staking_transactions_submitted_total",
				Help: "Total number of signed transactions sent to the RPC endpoint",
			},
			[]string{"status", "endpoint"},
		),
		stakingSubmissionOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staking_submission_outcomes_total",
				Help: "Final status observed for tracked submissions",
			},
			[]string{"action", "status"},
		),

		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_duration_seconds",
				Help:    "Duration of workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"workflow", "status"},
		),
		workflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_executions_total",
				Help: "Total number of workflow executions",
			},
			[]string{"workflow", "status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "activity_duration_seconds",
				Help:    "Duration of individual activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Staking metric helpers

// RecordTransactionBuilt records an assembled (unsigned) transaction.
func (m *Metrics) RecordTransactionBuilt(action, status string) {
	m.stakingTxBuiltTotal.WithLabelValues(action, status).Inc()
}

// RecordPoolInitPrepended records a stake that also initializes the user pool.
func (m *Metrics) RecordPoolInitPrepended() {
	m.stakingPoolInitsPrepended.Inc()
}

// RecordTransactionSubmitted records a raw transaction send.
func (m *Metrics) RecordTransactionSubmitted(status, endpoint string) {
	m.stakingTxSubmittedTotal.WithLabelValues(status, endpoint).Inc()
}

// RecordSubmissionOutcome records the status a tracked submission settled on.
func (m *Metrics) RecordSubmissionOutcome(action, status string) {
	m.stakingSubmissionOutcomes.WithLabelValues(action, status).Inc()
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(workflow, status string, duration float64) {
	m.workflowDuration.WithLabelValues(workflow, status).Observe(duration)
	m.workflowExecutionsTotal.WithLabelValues(workflow, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.activityDuration.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
