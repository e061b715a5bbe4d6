package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Partition metrics
	PartitionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sls_partitions_total",
			Help: "Total number of live partitions",
		},
	)

	PartitionEpoch = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sls_partition_epoch",
			Help: "Current committed epoch per partition",
		},
		[]string{"oid"},
	)

	AttachedProcesses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sls_attached_processes",
			Help: "Number of processes currently attached per partition",
		},
		[]string{"oid"},
	)

	// Checkpoint / restore operation metrics
	CheckpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sls_checkpoints_total",
			Help: "Total number of checkpoints attempted by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	CheckpointDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sls_checkpoint_duration_seconds",
			Help:    "Checkpoint duration in seconds by mode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	RestoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sls_restore_duration_seconds",
			Help:    "Restore duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RestoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sls_restores_total",
			Help: "Total number of restores by outcome",
		},
		[]string{"outcome"},
	)

	// Writer pool metrics
	WriterQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sls_writer_queue_depth",
			Help: "Current depth of each writer pool worker's queue",
		},
		[]string{"worker"},
	)

	PagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sls_pages_written_total",
			Help: "Total number of pages drained by the writer pool by worker",
		},
		[]string{"worker"},
	)

	PagesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sls_pages_dropped_total",
			Help: "Total number of pages dropped after a transient writer failure",
		},
	)

	// Object store / commit metrics
	StoreCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sls_store_commit_duration_seconds",
			Help:    "Time taken to commit a checkpoint to the object store",
			Buckets: prometheus.DefBuckets,
		},
	)

	SuperblockRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sls_superblock_rotations_total",
			Help: "Total number of superblock ring rotations",
		},
	)

	// WAL metrics
	WALSyncTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sls_wal_sync_total",
			Help: "Total number of WAL sync barriers crossed",
		},
	)

	WALReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sls_wal_replay_duration_seconds",
			Help:    "Time taken to replay a WAL from its last savepoint",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(PartitionsTotal)
	prometheus.MustRegister(PartitionEpoch)
	prometheus.MustRegister(AttachedProcesses)
	prometheus.MustRegister(CheckpointsTotal)
	prometheus.MustRegister(CheckpointDuration)
	prometheus.MustRegister(RestoreDuration)
	prometheus.MustRegister(RestoresTotal)
	prometheus.MustRegister(WriterQueueDepth)
	prometheus.MustRegister(PagesWrittenTotal)
	prometheus.MustRegister(PagesDroppedTotal)
	prometheus.MustRegister(StoreCommitDuration)
	prometheus.MustRegister(SuperblockRotationsTotal)
	prometheus.MustRegister(WALSyncTotal)
	prometheus.MustRegister(WALReplayDuration)
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
