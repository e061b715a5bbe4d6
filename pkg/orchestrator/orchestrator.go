// Package orchestrator implements the Checkpoint Orchestrator (§4.I):
// the per-partition state machine and the External Interfaces operation
// set (§6), reinterpreted as exported Go methods rather than an
// ioctl/RPC surface (spec.md §1 places that transport out of scope).
// Grounded on the teacher's pkg/manager, which is the one package in the
// pack that owns a similarly shaped "single in-process coordinator over
// many independent, lockable entities" responsibility, though none of
// its Raft/cluster machinery applies here — a partition's state machine
// is local, not replicated.
package orchestrator

import (
	"fmt"
	"sync"

	"github.com/sls-project/sls/pkg/backend"
	"github.com/sls-project/sls/pkg/capture"
	"github.com/sls-project/sls/pkg/errors"
	"github.com/sls-project/sls/pkg/hostproc"
	"github.com/sls-project/sls/pkg/pageindex"
	"github.com/sls-project/sls/pkg/registry"
	"github.com/sls-project/sls/pkg/store"
	"github.com/sls-project/sls/pkg/types"
	"github.com/sls-project/sls/pkg/writerpool"
)

// state is a partition's position in the §4.I state machine.
type state int

const (
	stateIdle state = iota
	stateAttached
	stateCapturing
	statePersisting
	statePeriodic
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateAttached:
		return "ATTACHED"
	case stateCapturing:
		return "CAPTURING"
	case statePersisting:
		return "PERSISTING"
	case statePeriodic:
		return "PERIODIC"
	default:
		return "UNKNOWN"
	}
}

// DefaultStoreSize is the data-region size PartAdd gives to store.Open
// for BackendStore targets and the region size it gives to backend.Open
// for the other target kinds. PartitionConfig has no size field and
// PartAdd does not read Flags, so every partition gets this size.
const DefaultStoreSize = 64 << 20 // 64 MiB

// partitionEntry is the orchestrator's full in-memory bookkeeping for
// one partition: the public Partition record plus the live handles
// (backend, object store, writer pool) and the state machine position.
type partitionEntry struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state state

	partition types.Partition
	back      backend.Backend
	objStore  *store.Store
	pool      *writerpool.Pool

	manifestPID uint64 // valid only when objStore != nil: snapshot descriptor blob
	pagesPID    uint64 // valid only when objStore != nil: writer pool's page stream

	// lastSnapshot and epochPages are the in-memory manifest a restore
	// composes from, for every target kind. File/PM backends have no
	// inode/manifest format; BackendStore partitions write the snapshot
	// descriptor to manifestPID and pages to pagesPID at each commit, but
	// nothing reads those back. The orchestrator keeps this resident for
	// the partition's lifetime rather than reconstructing it from disk
	// (see DESIGN.md).
	lastSnapshot types.SnapshotDescriptor
	epochPages   []pageindex.EpochPages // newest epoch first

	periodicStop chan struct{}
}

// Orchestrator is the single in-process coordinator for every partition:
// the External Interfaces operation table (§6) is exposed as its
// methods.
type Orchestrator struct {
	mu         sync.Mutex
	reg        *registry.Registry
	host       hostproc.HostProcess
	capturer   *capture.Capturer
	partitions map[types.OID]*partitionEntry
	attachedBy map[int]types.OID // pid -> oid, enforces one partition per pid
	nextOID    types.OID
}

// New creates an Orchestrator persisting partition bookkeeping in reg
// and driving capture through host.
func New(reg *registry.Registry, host hostproc.HostProcess) *Orchestrator {
	return &Orchestrator{
		reg:        reg,
		host:       host,
		capturer:   capture.New(host),
		partitions: make(map[types.OID]*partitionEntry),
		attachedBy: make(map[int]types.OID),
		nextOID:    1,
	}
}

// Load reconstructs the in-memory partition table from the registry,
// for daemon startup.
func (o *Orchestrator) Load() error {
	records, err := o.reg.List()
	if err != nil {
		return errors.IOFailure(err, "orchestrator: loading partition registry")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range records {
		entry := &partitionEntry{partition: p, state: stateIdle}
		entry.cond = sync.NewCond(&entry.mu)
		if len(p.AttachedPIDs) > 0 {
			entry.state = stateAttached
		}
		o.partitions[p.OID] = entry
		for _, pid := range p.AttachedPIDs {
			o.attachedBy[pid] = p.OID
		}
		if p.OID >= o.nextOID {
			o.nextOID = p.OID + 1
		}
	}
	return nil
}

// ListPartitions satisfies metrics.PartitionSource.
func (o *Orchestrator) ListPartitions() []types.Partition {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]types.Partition, 0, len(o.partitions))
	for _, e := range o.partitions {
		e.mu.Lock()
		out = append(out, e.partition)
		e.mu.Unlock()
	}
	return out
}

func (o *Orchestrator) get(oid types.OID) (*partitionEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.partitions[oid]
	if !ok {
		return nil, errors.InvalidArgument(fmt.Sprintf("orchestrator: unknown partition %d", oid))
	}
	return e, nil
}

// PartAdd creates a new partition, opening its backend eagerly so a
// misconfigured target (bad path, unknown kind) fails at creation time
// rather than at the first checkpoint.
func (o *Orchestrator) PartAdd(cfg types.PartitionConfig) (types.OID, error) {
	o.mu.Lock()
	oid := o.nextOID
	o.nextOID++
	o.mu.Unlock()

	entry := &partitionEntry{
		partition: types.Partition{OID: oid, Config: cfg},
		state:     stateIdle,
	}
	entry.cond = sync.NewCond(&entry.mu)

	if cfg.Target == types.BackendStore {
		s, err := store.Open(cfg.TargetPath, DefaultStoreSize)
		if err != nil {
			return 0, err
		}
		entry.objStore = s
		entry.manifestPID = s.AllocateInode(types.RecordManifest)
		entry.pagesPID = s.AllocateInode(types.RecordMem)
	} else {
		b, err := backend.Open(cfg.Target, cfg.TargetPath, DefaultStoreSize)
		if err != nil {
			return 0, err
		}
		entry.back = b
	}

	if err := o.reg.Put(&entry.partition); err != nil {
		return 0, errors.IOFailure(err, "orchestrator: persisting new partition")
	}

	o.mu.Lock()
	o.partitions[oid] = entry
	o.mu.Unlock()

	if cfg.Period != 0 {
		o.startPeriodic(oid, entry)
	}

	return oid, nil
}

// PartDel destroys a partition. Per §5's cancellation policy, a delete
// racing an in-flight commit waits for that commit to finish (or fail)
// rather than interrupting it: PartDel blocks on entry.mu, which
// Checkpoint/Restore hold for their whole synchronous duration.
func (o *Orchestrator) PartDel(oid types.OID) error {
	entry, err := o.get(oid)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	o.stopPeriodicLocked(entry)

	if entry.pool != nil {
		entry.pool.Shutdown()
	}
	if entry.objStore != nil {
		entry.objStore.Close()
	}
	if entry.back != nil {
		entry.back.Close()
	}

	o.mu.Lock()
	delete(o.partitions, oid)
	for pid, owner := range o.attachedBy {
		if owner == oid {
			delete(o.attachedBy, pid)
		}
	}
	o.mu.Unlock()

	if err := o.reg.Delete(oid); err != nil {
		return errors.IOFailure(err, "orchestrator: deleting partition record")
	}
	return nil
}

// Attach registers pid with oid (IDLE -> ATTACHED), enforcing the
// one-partition-per-pid invariant libsls/sls.c's sls_attach checks
// before sls_partadd registers a process.
func (o *Orchestrator) Attach(oid types.OID, pid int) error {
	entry, err := o.get(oid)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if owner, ok := o.attachedBy[pid]; ok && owner != oid {
		o.mu.Unlock()
		return errors.InvalidArgument(fmt.Sprintf("orchestrator: pid %d already attached to partition %d", pid, owner))
	}
	o.attachedBy[pid] = oid
	o.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	for _, p := range entry.partition.AttachedPIDs {
		if p == pid {
			return nil
		}
	}
	entry.partition.AttachedPIDs = append(entry.partition.AttachedPIDs, pid)
	if entry.state == stateIdle {
		entry.state = stateAttached
		if entry.periodicStop != nil {
			entry.state = statePeriodic
		}
	}
	return o.reg.Put(&entry.partition)
}

// GetAttr returns the live PartitionConfig for oid.
func (o *Orchestrator) GetAttr(oid types.OID) (types.PartitionConfig, error) {
	entry, err := o.get(oid)
	if err != nil {
		return types.PartitionConfig{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.partition.Config, nil
}

// SetAttr reconfigures a partition's mode/period/flags/amplification,
// arming or disarming periodic mode as Period crosses zero.
func (o *Orchestrator) SetAttr(oid types.OID, cfg types.PartitionConfig) error {
	entry, err := o.get(oid)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	wasPeriodic := entry.partition.Config.Period != 0
	entry.partition.Config = cfg
	nowPeriodic := cfg.Period != 0
	entry.mu.Unlock()

	if err := o.reg.Put(&entry.partition); err != nil {
		return errors.IOFailure(err, "orchestrator: persisting partition config")
	}

	if !wasPeriodic && nowPeriodic {
		o.startPeriodic(oid, entry)
	} else if wasPeriodic && !nowPeriodic {
		entry.mu.Lock()
		o.stopPeriodicLocked(entry)
		entry.mu.Unlock()
	}
	return nil
}

// Stats is the orchestrator's answer to the External Interfaces `stat`
// operation.
type Stats struct {
	OID          types.OID
	State        string
	Epoch        types.Epoch
	AttachedPIDs []int
	PagesWritten uint64
	PagesDropped uint64
}

// Stat reports runtime counters for oid.
func (o *Orchestrator) Stat(oid types.OID) (Stats, error) {
	entry, err := o.get(oid)
	if err != nil {
		return Stats{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	stats := Stats{
		OID:          oid,
		State:        entry.state.String(),
		Epoch:        o.currentEpochLocked(entry),
		AttachedPIDs: append([]int(nil), entry.partition.AttachedPIDs...),
	}
	if entry.pool != nil {
		stats.PagesWritten = entry.pool.WrittenTotal()
		stats.PagesDropped = entry.pool.DroppedTotal()
	}
	return stats, nil
}

func (o *Orchestrator) currentEpochLocked(entry *partitionEntry) types.Epoch {
	if entry.objStore != nil {
		return entry.objStore.Epoch()
	}
	return entry.partition.Epoch
}
