package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the liquidator
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied    *prometheus.CounterVec
	CoreEventsRejected   *prometheus.CounterVec
	CoreEventDuration    *prometheus.HistogramVec
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreJournals         *prometheus.CounterVec
	CoreSequence         prometheus.Gauge

	// --- Liquidation ---
	PositionsFlagged       *prometheus.CounterVec
	FlaggedPositions       prometheus.Gauge
	Liquidations           *prometheus.CounterVec
	LiquidatedSize         *prometheus.CounterVec
	LiquidationBypasses    *prometheus.CounterVec
	CapacityRemaining      *prometheus.GaugeVec
	CapacityMax            *prometheus.GaugeVec
	KeeperPayouts          *prometheus.CounterVec
	LiquidationPoolBalance *prometheus.GaugeVec
	CollateralSold         *prometheus.CounterVec

	// --- Latency ---
	IngestToApply     *prometheus.HistogramVec
	ApplyToPersist    prometheus.Histogram
	PersistBatchDur   prometheus.Histogram
	ProjectionUpdates *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    *prometheus.CounterVec
	PublishDrops       prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_core_events_applied_total",
			Help: "State feed events applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_core_events_rejected_total",
			Help: "State feed events rejected (dedup, gap, validation)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_liq_core_event_apply_duration_seconds",
			Help:    "Time to apply a single state feed event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreCommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_core_commands_applied_total",
			Help: "Keeper commands executed",
		}, []string{"command"}),

		CoreCommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_core_commands_rejected_total",
			Help: "Keeper commands rejected, by reason",
		}, []string{"command", "reason"}),

		CoreCommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_liq_core_command_duration_seconds",
			Help:    "Time to execute a keeper command",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_liq_core_sequence",
			Help: "Current global output sequence number",
		}),

		// Liquidation
		PositionsFlagged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_positions_flagged_total",
			Help: "Positions flagged for liquidation",
		}, []string{"market_id"}),

		FlaggedPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_liq_flagged_positions",
			Help: "Positions currently carrying a liquidation flag",
		}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_liquidations_total",
			Help: "Liquidate calls executed (partial/full)",
		}, []string{"market_id", "outcome"}),

		LiquidatedSize: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_liquidated_size_total",
			Help: "Base-asset size liquidated",
		}, []string{"market_id"}),

		LiquidationBypasses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_endorsed_bypass_total",
			Help: "Endorsed liquidations that exceeded remaining capacity",
		}, []string{"market_id"}),

		CapacityRemaining: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_liq_capacity_remaining",
			Help: "Remaining liquidatable size in the current window",
		}, []string{"market_id"}),

		CapacityMax: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_liq_capacity_max",
			Help: "Maximum liquidatable size per window",
		}, []string{"market_id"}),

		KeeperPayouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_keeper_payouts_total",
			Help: "Quote amount paid to keepers (liq_reward/keeper_fee)",
		}, []string{"market_id", "kind"}),

		LiquidationPoolBalance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_liq_pool_balance",
			Help: "Market liquidation pool cash balance",
		}, []string{"market_id"}),

		CollateralSold: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_collateral_sold_total",
			Help: "Non-cash collateral sales at flag time",
		}, []string{"market_id", "asset"}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_liq_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		ApplyToPersist: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_liq_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_liq_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdates: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_liq_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_liq_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_liq_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_liq_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_liq_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_liq_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_liq_persist_events_written_total",
			Help: "Envelopes written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_liq_persist_batch_size",
			Help:    "Envelopes per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_liq_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_liq_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_liq_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_liq_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_liq_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_liq_replay_events_total",
			Help: "Envelopes replayed on startup",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_liq_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_liq_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
