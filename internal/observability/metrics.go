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
	// Trading metrics
	TradesExecuted  *prometheus.CounterVec
	TradesRejected  *prometheus.CounterVec
	TradeGrossValue prometheus.Counter
	PoolBalance     prometheus.Gauge
	ProtocolFees    prometheus.Gauge
	FeesWithdrawn   prometheus.Counter

	// Indexer metrics
	EventsApplied    prometheus.Counter
	EventsSkipped    prometheus.Counter
	EventApplyErrors *prometheus.CounterVec
	IndexerLag       prometheus.Gauge
	AnalyticsFlushes prometheus.Counter

	// Feed metrics
	FeedClients         prometheus.Gauge
	FeedMessagesSent    prometheus.Counter
	FeedMessagesDropped prometheus.Counter

	// Signature metrics
	SignatureChecks *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastAppliedSeq prometheus.Gauge
	UptimeSeconds  prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "shares_market"
	}

	return &Metrics{
		// Trading metrics
		TradesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "trades_executed_total",
			Help:      "Total number of executed trades by direction",
		}, []string{"direction"}),
		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "trades_rejected_total",
			Help:      "Total number of rejected trades by reason",
		}, []string{"reason"}),
		TradeGrossValue: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "trade_gross_value_total",
			Help:      "Cumulative gross value of executed trades in smallest units",
		}),
		PoolBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "pool_balance",
			Help:      "Current liquidity pool balance in smallest units",
		}),
		ProtocolFees: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "protocol_fee_balance",
			Help:      "Accrued protocol fees not yet withdrawn",
		}),
		FeesWithdrawn: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "protocol_fees_withdrawn_total",
			Help:      "Cumulative protocol fees withdrawn to the fee destination",
		}),

		// Indexer metrics
		EventsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "events_applied_total",
			Help:      "Total number of trade events mirrored to storage",
		}),
		EventsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "events_skipped_total",
			Help:      "Total number of trade events skipped as already applied",
		}),
		EventApplyErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "event_apply_errors_total",
			Help:      "Total number of event apply errors by stage",
		}, []string{"stage"}),
		IndexerLag: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "lag_events",
			Help:      "Number of emitted events not yet applied by the indexer",
		}),
		AnalyticsFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "analytics_flushes_total",
			Help:      "Total number of analytics batches flushed",
		}),

		// Feed metrics
		FeedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Number of connected trade feed clients",
		}),
		FeedMessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_sent_total",
			Help:      "Total number of trade feed messages sent",
		}),
		FeedMessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_dropped_total",
			Help:      "Total number of trade feed messages dropped on slow clients",
		}),

		// Signature metrics
		SignatureChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signature",
			Name:      "checks_total",
			Help:      "Total number of signature verifications by result",
		}, []string{"result"}),

		// HTTP metrics
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastAppliedSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_applied_seq",
			Help:      "Last trade sequence number applied by the indexer",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTrade records an executed trade.
func RecordTrade(direction string, grossValue uint64) {
	DefaultMetrics.TradesExecuted.WithLabelValues(direction).Inc()
	DefaultMetrics.TradeGrossValue.Add(float64(grossValue))
}

// RecordTradeRejected records a rejected trade.
func RecordTradeRejected(reason string) {
	DefaultMetrics.TradesRejected.WithLabelValues(reason).Inc()
}

// UpdateFundBalances updates the pool and protocol fee gauges.
func UpdateFundBalances(pool, protocolFees uint64) {
	DefaultMetrics.PoolBalance.Set(float64(pool))
	DefaultMetrics.ProtocolFees.Set(float64(protocolFees))
}

// RecordFeesWithdrawn records a protocol fee withdrawal.
func RecordFeesWithdrawn(amount uint64) {
	DefaultMetrics.FeesWithdrawn.Add(float64(amount))
}

// RecordEventApplied records a mirrored trade event.
func RecordEventApplied(seq uint64) {
	DefaultMetrics.EventsApplied.Inc()
	DefaultMetrics.LastAppliedSeq.Set(float64(seq))
}

// RecordEventSkipped records an event skipped as already applied.
func RecordEventSkipped() {
	DefaultMetrics.EventsSkipped.Inc()
}

// RecordApplyError records an event apply error.
func RecordApplyError(stage string) {
	DefaultMetrics.EventApplyErrors.WithLabelValues(stage).Inc()
}

// UpdateIndexerLag updates the indexer lag gauge.
func UpdateIndexerLag(lag int) {
	DefaultMetrics.IndexerLag.Set(float64(lag))
}

// RecordSignatureCheck records a signature verification outcome.
func RecordSignatureCheck(result string) {
	DefaultMetrics.SignatureChecks.WithLabelValues(result).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
