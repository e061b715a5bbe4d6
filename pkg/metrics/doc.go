/*
Package metrics provides Prometheus metrics collection and exposition for
the checkpoint engine.

Metrics are registered at package init and exposed via the standard
Prometheus text exposition format for scraping.

# Metrics Catalog

Partition Metrics:
  - sls_partitions_total: Gauge, total live partitions
  - sls_partition_epoch{oid}: Gauge, current committed epoch per partition
  - sls_attached_processes{oid}: Gauge, attached pid count per partition

Checkpoint / Restore Metrics:
  - sls_checkpoints_total{mode,outcome}: Counter
  - sls_checkpoint_duration_seconds{mode}: Histogram
  - sls_restores_total{outcome}: Counter
  - sls_restore_duration_seconds: Histogram

Writer Pool Metrics:
  - sls_writer_queue_depth{worker}: Gauge
  - sls_pages_written_total{worker}: Counter
  - sls_pages_dropped_total: Counter, transient write failures

Object Store / WAL Metrics:
  - sls_store_commit_duration_seconds: Histogram
  - sls_superblock_rotations_total: Counter
  - sls_wal_sync_total: Counter
  - sls_wal_replay_duration_seconds: Histogram

# Usage

	import "github.com/sls-project/sls/pkg/metrics"

	timer := metrics.NewTimer()
	err := checkpoint(oid)
	timer.ObserveDurationVec(metrics.CheckpointDuration, mode.String())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CheckpointsTotal.WithLabelValues(mode.String(), outcome).Inc()

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/orchestrator: checkpoint/restore counters and durations, partition
    gauges via the Collector
  - pkg/writerpool: queue depth and page counters
  - pkg/store: commit duration and superblock rotation counter
  - pkg/wal: sync counter and replay duration

# Design Patterns

Package Init Registration: all metrics are registered in init(); a
duplicate registration panics at startup rather than failing silently
later.

Label Discipline: labels are bounded by partition count (oid) or worker
count, never by vaddr or epoch — those are unbounded over a partition's
lifetime and belong in logs, not metric labels.
*/
package metrics
