package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the margin engine.
type Metrics struct {
	// Trade processing
	TradesApplied  *prometheus.CounterVec
	TradesRejected *prometheus.CounterVec
	TradeDuration  prometheus.Histogram
	EngineSequence prometheus.Gauge
	TotalSkew      prometheus.Gauge
	OpenPositions  prometheus.Gauge

	// Price feed
	PriceUpdates        *prometheus.CounterVec
	PriceUpdatesIgnored *prometheus.CounterVec
	PriceSequence       *prometheus.GaugeVec

	// Liquidation
	Liquidations     prometheus.Counter
	CollateralSeized prometheus.Counter
	SweepDuration    prometheus.Histogram

	// Idempotency
	DuplicateTrades *prometheus.CounterVec
	DedupLRUSize    prometheus.Gauge

	// Settlement
	SettlementErrors prometheus.Counter

	// Outbound events & channels
	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	ChannelSize     *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec

	// Persistence
	PersistEventsWritten prometheus.Counter
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge
	SnapshotTaken        prometheus.Counter
	SnapshotLastSeq      prometheus.Gauge

	// Query API
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		TradesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_trades_applied_total",
			Help: "Trade requests applied to the ledger",
		}, []string{"transition"}),

		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_trades_rejected_total",
			Help: "Trade requests rejected, by reject kind",
		}, []string{"reason"}),

		TradeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_trade_apply_duration_seconds",
			Help:    "End-to-end time to process one trade request",
			Buckets: latencyBuckets,
		}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_engine_sequence",
			Help: "Last assigned outbound event sequence",
		}),

		TotalSkew: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_total_skew",
			Help: "Signed sum of open position sizes, base units",
		}),

		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_open_positions",
			Help: "Number of non-flat positions",
		}),

		PriceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_price_updates_total",
			Help: "Mark price updates accepted",
		}, []string{"asset"}),

		PriceUpdatesIgnored: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_price_updates_ignored_total",
			Help: "Stale or duplicate mark price updates ignored",
		}, []string{"asset"}),

		PriceSequence: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_price_sequence",
			Help: "Last accepted price sequence per asset",
		}, []string{"asset"}),

		Liquidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_liquidations_total",
			Help: "Positions force-closed",
		}),

		CollateralSeized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_collateral_seized_units_total",
			Help: "Collateral seized by liquidations, whole units",
		}),

		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_liquidation_sweep_duration_seconds",
			Help:    "Time to sweep all positions after a price update",
			Buckets: latencyBuckets,
		}),

		DuplicateTrades: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_duplicate_trades_total",
			Help: "Duplicate trade requests caught (lru/postgres)",
		}, []string{"tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_dedup_lru_size",
			Help: "Current idempotency LRU occupancy",
		}),

		SettlementErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_settlement_errors_total",
			Help: "Failed settlement instructions",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_events_published_total",
			Help: "Outbound position events published",
		}, []string{"event_type"}),

		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_events_dropped_total",
			Help: "Outbound events dropped on full channel",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_persist_events_written_total",
			Help: "Position events written to Postgres",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_persist_last_sequence",
			Help: "Last persisted event sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_snapshot_taken_total",
			Help: "Position snapshots created",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel occupancy gauges.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
