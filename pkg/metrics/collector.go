package metrics

import (
	"strconv"
	"time"

	"github.com/sls-project/sls/pkg/types"
)

// PartitionSource is the minimal view the collector needs of the
// orchestrator's partition table. Defined here, not imported from
// pkg/orchestrator, so the orchestrator can depend on pkg/metrics
// without a cycle back.
type PartitionSource interface {
	ListPartitions() []types.Partition
}

// Collector periodically snapshots partition/epoch/attachment state
// into the gauge metrics declared in metrics.go.
type Collector struct {
	source PartitionSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over source.
func NewCollector(source PartitionSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	partitions := c.source.ListPartitions()
	PartitionsTotal.Set(float64(len(partitions)))

	for _, p := range partitions {
		oid := strconv.FormatUint(uint64(p.OID), 10)
		PartitionEpoch.WithLabelValues(oid).Set(float64(p.Epoch))
		AttachedProcesses.WithLabelValues(oid).Set(float64(len(p.AttachedPIDs)))
	}
}
