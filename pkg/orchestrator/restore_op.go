package orchestrator

import (
	"context"

	"github.com/sls-project/sls/pkg/errors"
	"github.com/sls-project/sls/pkg/log"
	"github.com/sls-project/sls/pkg/metrics"
	"github.com/sls-project/sls/pkg/pageindex"
	"github.com/sls-project/sls/pkg/restore"
	"github.com/sls-project/sls/pkg/types"
)

// Restore re-instantiates oid's process tree into a fresh host process
// identified by pid, driving target through restore.Restorer. Per §4.I:
// "load the manifest inode for the partition, read the snapshot
// descriptor, compose the Page Index across needed epochs (newest-first
// in delta chains), then invoke G and H on a fresh host process and let
// it run." The manifest/epoch chain here is the in-memory record built
// by Checkpoint (see partitionEntry's doc comment on why file/PM
// backends don't have an on-disk manifest to reload from). If
// restStopped is false, target is resumed once the restore completes;
// any restore failure kills it instead, per §4.G's failure semantics,
// which restore.Restorer already implements.
func (o *Orchestrator) Restore(ctx context.Context, oid types.OID, pid int, target restore.Target, restStopped bool) error {
	entry, err := o.get(oid)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	if len(entry.epochPages) == 0 {
		entry.mu.Unlock()
		return errors.InvalidArgument("orchestrator: no checkpoint recorded for partition")
	}
	snapshot := entry.lastSnapshot
	chain := make([]pageindex.EpochPages, len(entry.epochPages))
	copy(chain, entry.epochPages)
	entry.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RestoreDuration)

	idx := pageindex.Compose(chain)
	restorer := restore.New(target)

	err = restorer.Restore(ctx, pid, snapshot, idx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RestoresTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		return err
	}

	if !restStopped {
		if err := target.Continue(ctx, pid); err != nil {
			return errors.IOFailure(err, "orchestrator: resuming restored process")
		}
	}

	log.WithPartition(uint64(oid)).Info().Int("pid", pid).Msg("restore complete")
	return nil
}

// EpochDone reports whether oid has committed at least epoch, per §6's
// epochdone poll operation.
func (o *Orchestrator) EpochDone(oid types.OID, epoch types.Epoch) (bool, error) {
	entry, err := o.get(oid)
	if err != nil {
		return false, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return o.currentEpochLocked(entry) >= epoch, nil
}

// UntilEpoch blocks until oid's persisted epoch reaches at least epoch,
// or ctx is done, matching §5's "caller of until(oid, epoch) blocks
// until the store's persisted epoch >= argument." It is built on the
// partition's commit-broadcast condition variable rather than polling:
// each successful checkpoint calls entry.cond.Broadcast() under
// entry.mu.
func (o *Orchestrator) UntilEpoch(ctx context.Context, oid types.OID, epoch types.Epoch) error {
	entry, err := o.get(oid)
	if err != nil {
		return err
	}

	entry.mu.Lock()

	for o.currentEpochLocked(entry) < epoch {
		// Cond.Wait() unlocks entry.mu on entry and re-locks it before
		// returning, so it must be the only thing that ever unlocks the
		// lock this call currently holds. It runs on a helper goroutine
		// so ctx cancellation can still be observed via select; the
		// helper unlocks again right after Wait() hands the lock back,
		// so ownership cleanly returns to "nobody" either way - picked
		// back up by the next Lock() below, or left for the next
		// Broadcast to hand back if this call abandons the wait on
		// ctx.Done().
		woken := make(chan struct{})
		go func() {
			entry.cond.Wait()
			entry.mu.Unlock()
			close(woken)
		}()

		select {
		case <-woken:
			entry.mu.Lock()
		case <-ctx.Done():
			// The helper above is still waiting on the next Broadcast
			// (or about to re-lock-then-unlock for one already
			// delivered); every successful checkpoint broadcasts, so it
			// resolves on the partition's next commit rather than
			// leaking permanently.
			return ctx.Err()
		}
	}

	entry.mu.Unlock()
	return nil
}

// Barrier waits for the next epoch boundary past oid's currently
// committed epoch, per §6's barrier operation.
func (o *Orchestrator) Barrier(ctx context.Context, oid types.OID) error {
	entry, err := o.get(oid)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	target := o.currentEpochLocked(entry) + 1
	entry.mu.Unlock()

	return o.UntilEpoch(ctx, oid, target)
}
