/*
Package metrics provides Prometheus metrics collection and exposition
for tangram's indexer, cleaner, process engine, checkout engine, and
import/export pipeline.

All metrics are registered at package init against the default
Prometheus registry and exposed over HTTP via Handler().

# Metrics catalog

  - tangram_index_batches_total, tangram_index_messages_total,
    tangram_index_batch_duration_seconds
  - tangram_cleaner_sweeps_total, tangram_cleaner_sweep_duration_seconds,
    tangram_cleaner_entities_deleted_total{kind}
  - tangram_process_spawns_total{outcome}, tangram_process_spawn_duration_seconds,
    tangram_process_running, tangram_process_heartbeat_expirations_total
  - tangram_checkout_duration_seconds, tangram_checkout_reflinks_total
  - tangram_transfer_bytes_total{direction}, tangram_transfer_items_total{direction,kind}
  - tangram_api_requests_total{method,status}, tangram_api_request_duration_seconds{method}

# Usage

	import "github.com/tangramdotdev/tangram/pkg/metrics"

	timer := metrics.NewTimer()
	err := applyBatch(ctx, batch)
	timer.ObserveDuration(metrics.IndexBatchDuration)
	metrics.IndexBatchesTotal.Inc()

	http.Handle("/metrics", metrics.Handler())

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
