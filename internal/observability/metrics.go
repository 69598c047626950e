package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// --- Core ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreSequence       prometheus.Gauge
	CoreSettlements    prometheus.Counter
	CoreFallbacks      prometheus.Counter
	CoreRefunded       prometheus.Counter
	DebtorsOutstanding prometheus.Gauge
	DebtOutstanding    prometheus.Gauge

	// --- Channels & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	NotifyDrops        prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Errors      prometheus.Counter

	// --- Ingestion & publishing ---
	IngestMessages *prometheus.CounterVec
	IngestToApply  *prometheus.HistogramVec
	PublishTotal   *prometheus.CounterVec
	BreakerState   *prometheus.GaugeVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge
	StoreKeysWritten     *prometheus.CounterVec

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionLastSeq   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in the service and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreEventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reservebank_core_events_applied_total",
			Help: "Operations successfully applied by the engine",
		}, []string{"event_type"}),

		CoreEventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reservebank_core_events_rejected_total",
			Help: "Operations rejected (duplicate, insufficient balance, invalid input)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reservebank_core_event_apply_duration_seconds",
			Help:    "Time to apply a single operation in the engine",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reservebank_core_sequence",
			Help: "Current global sequence number",
		}),

		CoreSettlements: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservebank_core_settlements_total",
			Help: "Individual lender credits produced by repayments",
		}),

		CoreFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservebank_core_repay_fallbacks_total",
			Help: "Repayments that degraded to a transfer because the debtor owed nothing",
		}),

		CoreRefunded: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservebank_core_refunded_value_total",
			Help: "Payment value left with the payer because it exceeded the debt (lossy float)",
		}),

		DebtorsOutstanding: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reservebank_debtors_outstanding",
			Help: "Accounts with at least one open debt entry",
		}),

		DebtOutstanding: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reservebank_debt_outstanding",
			Help: "Sum of all open debt entries (lossy float)",
		}),

		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reservebank_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reservebank_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reservebank_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		NotifyDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservebank_notify_drops_total",
			Help: "Outputs dropped due to a full notify channel",
		}),

		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reservebank_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reservebank_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservebank_dedup_lru_evictions_total",
			Help: "Keys pushed out of the LRU; later repeats fall through to Postgres",
		}),

		DedupTier2Errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservebank_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		IngestMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reservebank_ingest_messages_total",
			Help: "Commands received from NATS by outcome",
		}, []string{"command", "outcome"}),

		IngestToApply: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reservebank_ingest_to_apply_seconds",
			Help:    "NATS receive to engine apply complete",
			Buckets: []float64{0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01},
		}, []string{"command"}),

		PublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reservebank_publish_total",
			Help: "Notifications handed to the sink by outcome",
		}, []string{"kind", "outcome"}),

		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reservebank_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),

		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservebank_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reservebank_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reservebank_persist_batch_duration_seconds",
			Help:    "Batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reservebank_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservebank_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reservebank_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		StoreKeysWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reservebank_store_keys_written_total",
			Help: "Keys written to the state store",
		}, []string{"backend", "op"}),

		ProjectionUpdateDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reservebank_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reservebank_projection_last_sequence",
			Help: "Last sequence applied to projections",
		}),

		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reservebank_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reservebank_query_duration_seconds",
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
