package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Indexer metrics
	IndexBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tangram_index_batches_total",
			Help: "Total number of indexer batches applied",
		},
	)

	IndexMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tangram_index_messages_total",
			Help: "Total number of index messages applied across all batches",
		},
	)

	IndexBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tangram_index_batch_duration_seconds",
			Help:    "Time taken to apply one indexer batch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cleaner metrics
	CleanerSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tangram_cleaner_sweeps_total",
			Help: "Total number of cleaner partition sweeps completed",
		},
	)

	CleanerSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tangram_cleaner_sweep_duration_seconds",
			Help:    "Time taken for one cleaner partition sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CleanerEntitiesDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangram_cleaner_entities_deleted_total",
			Help: "Total number of entities deleted by the cleaner by kind",
		},
		[]string{"kind"},
	)

	// Process engine metrics
	ProcessSpawnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangram_process_spawns_total",
			Help: "Total number of process spawn attempts by outcome",
		},
		[]string{"outcome"},
	)

	ProcessSpawnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tangram_process_spawn_duration_seconds",
			Help:    "Time taken to resolve try_spawn_process in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProcessRunningGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tangram_process_running",
			Help: "Number of processes currently running locally",
		},
	)

	ProcessHeartbeatExpirationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tangram_process_heartbeat_expirations_total",
			Help: "Total number of processes cancelled due to heartbeat expiration",
		},
	)

	// Checkout engine metrics
	CheckoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tangram_checkout_duration_seconds",
			Help:    "Time taken to materialize an artifact to disk in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckoutReflinksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tangram_checkout_reflinks_total",
			Help: "Total number of files materialized via reflink rather than copy",
		},
	)

	// Import/export metrics
	TransferBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangram_transfer_bytes_total",
			Help: "Total bytes transferred by direction",
		},
		[]string{"direction"},
	)

	TransferItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangram_transfer_items_total",
			Help: "Total items transferred by direction and kind",
		},
		[]string{"direction", "kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangram_api_requests_total",
			Help: "Total number of Handle API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tangram_api_request_duration_seconds",
			Help:    "Handle API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register indexer metrics
	prometheus.MustRegister(IndexBatchesTotal)
	prometheus.MustRegister(IndexMessagesTotal)
	prometheus.MustRegister(IndexBatchDuration)

	// Register cleaner metrics
	prometheus.MustRegister(CleanerSweepsTotal)
	prometheus.MustRegister(CleanerSweepDuration)
	prometheus.MustRegister(CleanerEntitiesDeletedTotal)

	// Register process engine metrics
	prometheus.MustRegister(ProcessSpawnsTotal)
	prometheus.MustRegister(ProcessSpawnDuration)
	prometheus.MustRegister(ProcessRunningGauge)
	prometheus.MustRegister(ProcessHeartbeatExpirationsTotal)

	// Register checkout engine metrics
	prometheus.MustRegister(CheckoutDuration)
	prometheus.MustRegister(CheckoutReflinksTotal)

	// Register transfer metrics
	prometheus.MustRegister(TransferBytesTotal)
	prometheus.MustRegister(TransferItemsTotal)

	// Register API metrics
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
