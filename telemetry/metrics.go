package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// ForwardBuckets for write API round trips (network + chaincode)
	ForwardBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// ProcessingBuckets for local normalization work
	ProcessingBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1}

	// TransitBuckets for bus hop latencies
	TransitBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60}

	// BatchSizeBuckets for records per flushed batch
	BatchSizeBuckets = []float64{1, 2, 3, 5, 8, 10, 15, 20}
)

// Pipeline throughput metrics
var (
	// EventsTotal counts inbound events by outcome (processed, duplicate,
	// unknown_stream, malformed)
	EventsTotal CounterVec = noopCounterVec{}

	// ForwardsTotal counts write API calls by table and result (success, failed)
	ForwardsTotal CounterVec = noopCounterVec{}

	// OperationsTotal counts normalized records by operation (CREATE, UPDATE, DELETE, READ)
	OperationsTotal CounterVec = noopCounterVec{}

	// BatchFlushesTotal counts batch flushes by trigger (size, idle)
	BatchFlushesTotal CounterVec = noopCounterVec{}

	// BatchSizeRecords measures records per flushed batch
	BatchSizeRecords Histogram = NoopStat{}

	// JournaledTotal counts entries written to the dead-letter journal
	JournaledTotal Counter = NoopStat{}
)

// Stage latency metrics
var (
	// SourceToBusSeconds measures database commit to bus accept
	SourceToBusSeconds Histogram = NoopStat{}

	// BusToConsumerSeconds measures bus accept to pipeline fetch
	BusToConsumerSeconds Histogram = NoopStat{}

	// ProcessingSeconds measures parse, normalize and dedup time
	ProcessingSeconds Histogram = NoopStat{}

	// ForwardSeconds measures write API round trip time
	ForwardSeconds Histogram = NoopStat{}
)

// Saturation gauges
var (
	// InFlightForwards tracks forwards currently running under the limiter
	InFlightForwards Gauge = NoopStat{}

	// PendingForwards tracks forwards queued behind the concurrency cap
	PendingForwards Gauge = NoopStat{}

	// DedupWindowSize tracks live entries in the dedup window
	DedupWindowSize Gauge = NoopStat{}

	// JournalPending tracks dead-letter entries awaiting replay
	JournalPending Gauge = NoopStat{}

	// PayloadReductionPct tracks the latest field-filtering reduction ratio
	PayloadReductionPct GaugeVec = noopGaugeVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	EventsTotal = NewCounterVec(
		"events_total",
		"Inbound change events by outcome",
		[]string{"outcome"},
	)
	ForwardsTotal = NewCounterVec(
		"forwards_total",
		"Write API calls by table and result",
		[]string{"table", "result"},
	)
	OperationsTotal = NewCounterVec(
		"operations_total",
		"Normalized records by operation",
		[]string{"operation"},
	)
	BatchFlushesTotal = NewCounterVec(
		"batch_flushes_total",
		"Batch flushes by trigger",
		[]string{"trigger"},
	)
	BatchSizeRecords = NewHistogramWithBuckets(
		"batch_size_records",
		"Records per flushed batch",
		BatchSizeBuckets,
	)
	JournaledTotal = NewCounter(
		"journaled_total",
		"Entries written to the dead-letter journal",
	)

	SourceToBusSeconds = NewHistogramWithBuckets(
		"source_to_bus_seconds",
		"Database commit to bus accept latency",
		TransitBuckets,
	)
	BusToConsumerSeconds = NewHistogramWithBuckets(
		"bus_to_consumer_seconds",
		"Bus accept to pipeline fetch latency",
		TransitBuckets,
	)
	ProcessingSeconds = NewHistogramWithBuckets(
		"processing_seconds",
		"Parse, normalize and dedup time",
		ProcessingBuckets,
	)
	ForwardSeconds = NewHistogramWithBuckets(
		"forward_seconds",
		"Write API round trip time",
		ForwardBuckets,
	)

	InFlightForwards = NewGauge(
		"in_flight_forwards",
		"Forwards currently running under the concurrency limiter",
	)
	PendingForwards = NewGauge(
		"pending_forwards",
		"Forwards queued behind the concurrency cap",
	)
	DedupWindowSize = NewGauge(
		"dedup_window_size",
		"Live entries in the dedup window",
	)
	JournalPending = NewGauge(
		"journal_pending",
		"Dead-letter entries awaiting replay",
	)
	PayloadReductionPct = NewGaugeVec(
		"payload_reduction_pct",
		"Latest field-filtering payload reduction percentage",
		[]string{"table"},
	)
}
