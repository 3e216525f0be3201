/*
Package metrics defines the Prometheus metrics ouisync exposes: block
store size, façade operation latency, garbage collection, and the
reconciler's pull cycle and peer back-off state. Every metric is
registered at package init and exposed over HTTP via Handler.

# Metrics catalog

Block store:
  - ouisync_repositories_open_total (gauge)
  - ouisync_blocks_total, ouisync_index_nodes_total, ouisync_branches_total (gauges)
  - ouisync_gc_duration_seconds (histogram), ouisync_gc_blocks_removed_total (counter)

Façade operations:
  - ouisync_read_file_duration_seconds, ouisync_write_file_duration_seconds (histograms)
  - ouisync_mutations_total{operation,outcome} (counter vec)

Reconciler:
  - ouisync_reconciliation_duration_seconds (histogram)
  - ouisync_reconciliation_cycles_total, ouisync_peer_backoff_total (counters)
  - ouisync_peers_total (gauge)

Events:
  - ouisync_events_published_total{type} (counter vec)
  - ouisync_events_coalesced_total (counter)

# Usage

	timer := metrics.NewTimer()
	err := repo.WriteFile(path, offset, data)
	timer.ObserveDuration(metrics.WriteFileDuration)

Handler() returns the promhttp handler a caller mounts at /metrics.
*/
package metrics
