package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Chain provider metrics
	chainCallsTotal   *prometheus.CounterVec
	chainCallDuration *prometheus.HistogramVec

	// Transaction engine metrics
	submissionsTotal    *prometheus.CounterVec
	retriesTotal        *prometheus.CounterVec
	buildDuration       *prometheus.HistogramVec
	feePaid             *prometheus.HistogramVec
	inputsPerBuild      *prometheus.HistogramVec
	cacheRefreshesTotal *prometheus.CounterVec
	queueDepth          *prometheus.GaugeVec

	// Confirmation metrics
	confirmationsTotal *prometheus.CounterVec
	confirmationLag    *prometheus.HistogramVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
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
		chainCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_calls_total",
				Help: "Total number of ledger data provider calls by method and status",
			},
			[]string{"method", "status"},
		),
		chainCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chain_call_duration_seconds",
				Help:    "Duration of ledger data provider calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tx_submissions_total",
				Help: "Total number of transaction submission attempts by outcome",
			},
			[]string{"wallet_id", "outcome"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tx_retries_total",
				Help: "Total number of job retries by rejection kind",
			},
			[]string{"wallet_id", "kind"},
		),
		buildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tx_build_duration_seconds",
				Help:    "Duration of a full build-sign-submit cycle in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"wallet_id", "outcome"},
		),
		feePaid: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tx_fee_lovelace",
				Help:    "Fee paid per submitted transaction in lovelace",
				Buckets: []float64{100_000, 170_000, 250_000, 500_000, 1_000_000, 2_000_000},
			},
			[]string{"wallet_id"},
		),
		inputsPerBuild: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tx_inputs_per_build",
				Help:    "Number of unspent outputs selected per build",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
			[]string{"wallet_id"},
		),
		cacheRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_cache_refreshes_total",
				Help: "Total number of balance cache refreshes by trigger",
			},
			[]string{"trigger"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wallet_queue_depth",
				Help: "Number of jobs waiting in a wallet's queue",
			},
			[]string{"wallet_id"},
		),

		confirmationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tx_confirmations_total",
				Help: "Total number of transactions confirmed on chain",
			},
			[]string{"wallet_id"},
		),
		confirmationLag: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tx_confirmation_lag_seconds",
				Help:    "Time between submission and on-chain confirmation in seconds",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"wallet_id"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by handler, method, and status",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS by subject prefix and status",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"subject"},
		),
	}
}

// RecordChainCall records a ledger data provider call.
func (m *Metrics) RecordChainCall(method, status string, duration float64) {
	if m == nil {
		return
	}
	m.chainCallsTotal.WithLabelValues(method, status).Inc()
	m.chainCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordSubmission records a submission attempt outcome
// (submitted, rejected, failed).
func (m *Metrics) RecordSubmission(walletID, outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(walletID, outcome).Inc()
}

// RecordRetry records a job re-enqueue by rejection kind.
func (m *Metrics) RecordRetry(walletID, kind string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(walletID, kind).Inc()
}

// RecordBuild records a full build cycle's duration and outcome.
func (m *Metrics) RecordBuild(walletID, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.buildDuration.WithLabelValues(walletID, outcome).Observe(duration)
}

// RecordFee records the fee paid on a submitted transaction.
func (m *Metrics) RecordFee(walletID string, feeLovelace float64) {
	if m == nil {
		return
	}
	m.feePaid.WithLabelValues(walletID).Observe(feeLovelace)
}

// RecordInputsSelected records how many unspent outputs a build consumed.
func (m *Metrics) RecordInputsSelected(walletID string, count float64) {
	if m == nil {
		return
	}
	m.inputsPerBuild.WithLabelValues(walletID).Observe(count)
}

// RecordCacheRefresh records a balance cache refresh by trigger
// (miss, retry, startup).
func (m *Metrics) RecordCacheRefresh(trigger string) {
	if m == nil {
		return
	}
	m.cacheRefreshesTotal.WithLabelValues(trigger).Inc()
}

// SetQueueDepth sets the current depth of a wallet's job queue.
func (m *Metrics) SetQueueDepth(walletID string, depth float64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(walletID).Set(depth)
}

// RecordConfirmation records an on-chain confirmation and its lag since
// submission.
func (m *Metrics) RecordConfirmation(walletID string, lagSeconds float64) {
	if m == nil {
		return
	}
	m.confirmationsTotal.WithLabelValues(walletID).Inc()
	m.confirmationLag.WithLabelValues(walletID).Observe(lagSeconds)
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(handler, method, statusLabel(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(duration)
}

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusLabel(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
