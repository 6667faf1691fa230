package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the position engine.
type Metrics struct {
	// --- Position lifecycle ---
	PositionsOpened   *prometheus.CounterVec
	PositionsClosed   *prometheus.CounterVec
	PositionsRejected *prometheus.CounterVec
	OpenInterestLong  *prometheus.GaugeVec
	OpenInterestShort *prometheus.GaugeVec
	TotalValueLocked  prometheus.Gauge
	OperationDuration *prometheus.HistogramVec

	// --- Funding ---
	FundingRateUpdates *prometheus.CounterVec
	FundingRateBps     *prometheus.GaugeVec
	FundingSettlements *prometheus.CounterVec
	FundingNetFlow     *prometheus.GaugeVec

	// --- Risk & liquidation ---
	Liquidations        *prometheus.CounterVec
	PartialLiquidations *prometheus.CounterVec
	LiquidationSeized   *prometheus.CounterVec
	BreakerState        prometheus.Gauge
	BreakerFailures     prometheus.Counter
	OracleFailures      *prometheus.CounterVec

	// --- Events & persistence ---
	EventsEmitted        *prometheus.CounterVec
	PublishDrops         prometheus.Counter
	PersistEventsWritten prometheus.Counter
	PersistErrors        *prometheus.CounterVec
	PersistBatchDur      prometheus.Histogram
	PersistLastSequence  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		PositionsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_positions_opened_total",
			Help: "Positions opened",
		}, []string{"asset", "side"}),

		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_positions_closed_total",
			Help: "Positions closed voluntarily",
		}, []string{"asset", "side"}),

		PositionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_positions_rejected_total",
			Help: "Open attempts rejected (validation, breaker, pause)",
		}, []string{"asset", "reason"}),

		OpenInterestLong: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_open_interest_long",
			Help: "Long open interest in quote units",
		}, []string{"asset"}),

		OpenInterestShort: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_open_interest_short",
			Help: "Short open interest in quote units",
		}, []string{"asset"}),

		TotalValueLocked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_total_value_locked",
			Help: "Collateral held in custody, quote units",
		}),

		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_operation_duration_seconds",
			Help:    "Time to process a mutating operation",
			Buckets: opBuckets,
		}, []string{"operation"}),

		FundingRateUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_rate_updates_total",
			Help: "Funding rate epochs computed",
		}, []string{"asset"}),

		FundingRateBps: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_funding_rate_bps",
			Help: "Current funding rate in basis points (signed)",
		}, []string{"asset"}),

		FundingSettlements: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_settlements_total",
			Help: "Positions settled for funding",
		}, []string{"asset"}),

		FundingNetFlow: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_funding_net_flow",
			Help: "Net collateral flow of the last settlement pass",
		}, []string{"asset"}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liquidations_total",
			Help: "Full liquidations executed",
		}, []string{"asset", "kind"}),

		PartialLiquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_partial_liquidations_total",
			Help: "Partial liquidations executed",
		}, []string{"asset"}),

		LiquidationSeized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liquidation_seized_total",
			Help: "Collateral seized via liquidation, quote units",
		}, []string{"asset"}),

		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),

		BreakerFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_breaker_failures_total",
			Help: "Failures recorded against the circuit breaker",
		}),

		OracleFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_oracle_failures_total",
			Help: "Oracle reads that returned no usable price",
		}, []string{"asset"}),

		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_events_emitted_total",
			Help: "Engine events emitted",
		}, []string{"event_type"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_persist_last_sequence",
			Help: "Last persisted event sequence",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
