package orchestrator

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/sls-project/sls/pkg/capture"
	"github.com/sls-project/sls/pkg/errors"
	"github.com/sls-project/sls/pkg/log"
	"github.com/sls-project/sls/pkg/metrics"
	"github.com/sls-project/sls/pkg/pageindex"
	"github.com/sls-project/sls/pkg/store"
	"github.com/sls-project/sls/pkg/types"
	"github.com/sls-project/sls/pkg/writerpool"
)

// Checkpoint performs a one-shot checkpoint of pid against oid, matching
// §4.I's four numbered steps: stop+capture happens inside capturer.Capture,
// which also signals CONT before returning (the process resumes there,
// independent of how long persistence then takes). Checkpoint runs
// synchronously on the caller's goroutine per §5 ("the Orchestrator runs
// on the caller's thread").
func (o *Orchestrator) Checkpoint(ctx context.Context, oid types.OID, pid int) (types.Epoch, error) {
	entry, err := o.get(oid)
	if err != nil {
		return 0, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// checkpoint() from a user is rejected while periodic mode is
	// active: the two would race over the same partition's epoch.
	if entry.state == statePeriodic {
		return 0, errors.InvalidArgument("orchestrator: checkpoint rejected while periodic mode is active")
	}
	if entry.state != stateAttached {
		return 0, errors.InvalidArgument("orchestrator: partition not attached")
	}

	epoch, err := o.checkpointLocked(ctx, entry, oid, pid, stateAttached)
	mode := entry.partition.Config.Mode.String()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CheckpointsTotal.WithLabelValues(mode, outcome).Inc()
	return epoch, err
}

// checkpointLocked implements the capture/persist/commit sequence;
// entry.mu must already be held. restState is the state to return to on
// both success and capture failure (ATTACHED for one-shot, PERIODIC for
// ticks).
func (o *Orchestrator) checkpointLocked(ctx context.Context, entry *partitionEntry, oid types.OID, pid int, restState state) (types.Epoch, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CheckpointDuration, entry.partition.Config.Mode.String())

	entry.state = stateCapturing
	candidateEpoch := o.currentEpochLocked(entry) + 1

	result, err := o.capturer.Capture(ctx, pid, entry.partition.Config.Mode, candidateEpoch)
	if err != nil {
		// Failure semantics: any error during capture/persist discards
		// the in-memory descriptor and leaves the epoch unchanged.
		entry.state = restState
		return 0, err
	}

	entry.state = statePersisting
	newEpoch, err := o.persistLocked(ctx, entry, oid, result)
	entry.state = restState
	if err != nil {
		return 0, err
	}

	entry.lastSnapshot = result.Snapshot
	entry.epochPages = append([]pageindex.EpochPages{{Epoch: newEpoch, Pages: result.Pages}}, entry.epochPages...)

	entry.partition.Epoch = newEpoch
	if err := o.reg.Put(&entry.partition); err != nil {
		log.WithPartition(uint64(oid)).Error().Err(err).Msg("failed to persist partition record after checkpoint")
	}
	entry.cond.Broadcast()

	return newEpoch, nil
}

// persistLocked streams result's pages through the Writer Pool and the
// Backend/Store and advances the epoch on successful commit (§4.I step
// 4). For BackendStore targets the commit is the object store's 5-step
// protocol; for file/PM targets there is no superblock, so "commit" is
// simply writing the snapshot descriptor and advancing the partition's
// own epoch counter.
func (o *Orchestrator) persistLocked(ctx context.Context, entry *partitionEntry, oid types.OID, result *capture.Result) (types.Epoch, error) {
	pool := entry.pool
	if pool == nil {
		size := entry.partition.Config.Amplification
		if entry.objStore != nil {
			pool = writerpool.New(oid, store.NewBlockBackend(entry.objStore, entry.pagesPID), size)
		} else {
			pool = writerpool.New(oid, entry.back, size)
		}
		entry.pool = pool
	}
	pool.Start(ctx)
	for _, page := range result.Pages {
		if err := pool.Enqueue(page); err != nil {
			log.WithPartition(uint64(oid)).Error().Err(err).Msg("checkpoint: page enqueue failed")
		}
	}
	pool.Shutdown()
	entry.pool = nil // a fresh pool is started per checkpoint; workers don't outlive one commit

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(result.Snapshot); err != nil {
		return 0, errors.IOFailure(err, "encoding snapshot descriptor")
	}

	if entry.objStore != nil {
		if err := entry.objStore.WriteWhole(entry.manifestPID, buf.Bytes()); err != nil {
			return 0, err
		}
		return entry.objStore.Commit(oid)
	}

	if _, err := entry.back.Write(buf.Bytes()); err != nil {
		return 0, errors.IOFailure(err, "writing snapshot descriptor")
	}
	newEpoch := entry.partition.Epoch + 1
	log.WithPartition(uint64(oid)).Info().Uint64("epoch", uint64(newEpoch)).Msg("checkpoint committed")
	return newEpoch, nil
}

// MemSnap snapshots a single region containing addr, per §6's memsnap
// operation; it reuses the full checkpoint path (one-shot captures are
// already per-region internally) and filters the result to the region
// owning addr before persisting.
func (o *Orchestrator) MemSnap(ctx context.Context, oid types.OID, pid int, addr uintptr) (types.Epoch, error) {
	entry, err := o.get(oid)
	if err != nil {
		return 0, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state != stateAttached && entry.state != statePeriodic {
		return 0, errors.InvalidArgument("orchestrator: partition not attached")
	}

	restState := entry.state
	entry.state = stateCapturing
	candidateEpoch := o.currentEpochLocked(entry) + 1

	result, err := o.capturer.Capture(ctx, pid, entry.partition.Config.Mode, candidateEpoch)
	if err != nil {
		entry.state = restState
		return 0, err
	}

	regionIdx := -1
	for i, r := range result.Snapshot.Regions {
		if r.Start <= addr && addr < r.End {
			regionIdx = i
			break
		}
	}
	filtered := result.Pages[:0]
	for _, p := range result.Pages {
		if p.RegionIdx == regionIdx {
			filtered = append(filtered, p)
		}
	}
	result.Pages = filtered

	entry.state = statePersisting
	newEpoch, err := o.persistLocked(ctx, entry, oid, result)
	entry.state = restState
	if err != nil {
		return 0, err
	}
	entry.lastSnapshot = result.Snapshot
	entry.epochPages = append([]pageindex.EpochPages{{Epoch: newEpoch, Pages: result.Pages}}, entry.epochPages...)
	entry.partition.Epoch = newEpoch
	entry.cond.Broadcast()
	return newEpoch, nil
}

// startPeriodic arms the PERIODIC branch of §4.I's state machine: a
// ticker at Config.Period issues internal checkpoints against the first
// attached pid (other attached pids are not checkpointed by the ticker),
// bypassing Checkpoint's "rejected while periodic" guard
// (that guard exists specifically to stop external callers racing this
// ticker, not to stop the ticker itself).
func (o *Orchestrator) startPeriodic(oid types.OID, entry *partitionEntry) {
	entry.mu.Lock()
	o.stopPeriodicLocked(entry)
	stop := make(chan struct{})
	entry.periodicStop = stop
	period := entry.partition.Config.Period
	if entry.state == stateAttached {
		entry.state = statePeriodic
	}
	entry.mu.Unlock()

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.tickPeriodic(oid, entry)
			case <-stop:
				return
			}
		}
	}()
}

func (o *Orchestrator) tickPeriodic(oid types.OID, entry *partitionEntry) {
	entry.mu.Lock()
	if entry.state != statePeriodic || len(entry.partition.AttachedPIDs) == 0 {
		entry.mu.Unlock()
		return
	}
	pid := entry.partition.AttachedPIDs[0]
	_, err := o.checkpointLocked(context.Background(), entry, oid, pid, statePeriodic)
	entry.mu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		log.WithPartition(uint64(oid)).Error().Err(err).Msg("periodic checkpoint failed")
	}
	metrics.CheckpointsTotal.WithLabelValues(entry.partition.Config.Mode.String(), outcome).Inc()
}

// stopPeriodicLocked disarms the ticker if one is running. entry.mu must
// be held by the caller. Per §5, "periodic-mode detach stops further
// ticks; an already-running tick completes" — closing stop only
// prevents the *next* tick from starting; a tick in flight holds
// entry.mu for its whole duration and finishes normally.
func (o *Orchestrator) stopPeriodicLocked(entry *partitionEntry) {
	if entry.periodicStop != nil {
		close(entry.periodicStop)
		entry.periodicStop = nil
	}
	if entry.state == statePeriodic {
		entry.state = stateAttached
	}
}
