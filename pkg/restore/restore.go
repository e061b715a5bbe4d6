// Package restore implements Address-Space Restore (§4.G) and the
// restore half of Process State Restore (§4.H) against a fresh host
// process, driven by a composed snapshot descriptor and Page Index.
// Grounded the same way pkg/capture is: against pkg/hostproc's abstract
// surface rather than raw kernel state, per design notes' "concrete host
// supplies it."
package restore

import (
	"context"

	"github.com/sls-project/sls/pkg/errors"
	"github.com/sls-project/sls/pkg/pageindex"
	"github.com/sls-project/sls/pkg/types"
)

// Target is the restore-side counterpart of hostproc.HostProcess: the
// operations a fresh host process must support to be rebuilt into.
type Target interface {
	// TearDown removes all existing pages and map entries from the
	// target's address space (§4.G step 1).
	TearDown(ctx context.Context, pid int) error

	// SetAddressSpace restores the address-space scalars (§4.G step 2).
	SetAddressSpace(ctx context.Context, pid int, vmspace types.AddressSpaceDescriptor) error

	// MapRegion allocates a fresh backing object for region and maps it
	// with the recorded protections and offsets (§4.G step 3).
	MapRegion(ctx context.Context, pid int, region types.RegionDescriptor) error

	// WritePage copies page bytes into the region's backing object at
	// the proper index (§4.G step 3).
	WritePage(ctx context.Context, pid int, region types.RegionDescriptor, page types.SavedPage) error

	// SetSignalActions replaces the process's signal-action table
	// (§4.H restore, refcount fields excluded).
	SetSignalActions(ctx context.Context, pid int, actions []types.SignalAction) error

	// EnsureThreadCount spawns additional threads if the target has
	// fewer than want (§4.H restore: "if there aren't yet that many
	// threads, spawn additional threads").
	EnsureThreadCount(ctx context.Context, pid int, want int) error

	// SetThreadState installs one thread's registers, FP registers,
	// masks and segment base (§4.H restore). Thread ids are not forced;
	// ordinal identifies which of the target's existing threads to set
	// by ordinal position, not by the descriptor's original ThreadID.
	SetThreadState(ctx context.Context, pid int, ordinal int, desc types.ThreadDescriptor) error

	// Kill is invoked when a restore step fails: §4.G says "failures
	// abort the restore; the host process is left in an undefined
	// state and should be killed."
	Kill(ctx context.Context, pid int) error

	// Continue resumes pid after a successful restore. Restore itself
	// never calls this; the orchestrator does, governed by the
	// restore(oid, rest_stopped) operation's rest_stopped argument.
	Continue(ctx context.Context, pid int) error
}

// Restorer rebuilds a process from a composed snapshot into a fresh
// target.
type Restorer struct {
	target Target
}

// New creates a Restorer over target.
func New(target Target) *Restorer {
	return &Restorer{target: target}
}

// Restore re-instantiates snapshot into pid, sourcing page contents from
// idx (the newest-first composition of a partition's delta chain). Any
// failure kills pid and returns the error, per §4.G's failure semantics.
func (r *Restorer) Restore(ctx context.Context, pid int, snapshot types.SnapshotDescriptor, idx *pageindex.Index) error {
	if err := r.restore(ctx, pid, snapshot, idx); err != nil {
		if killErr := r.target.Kill(ctx, pid); killErr != nil {
			return errors.IOFailure(killErr, "restore: failed to kill undefined-state process after: "+err.Error())
		}
		return err
	}
	return nil
}

func (r *Restorer) restore(ctx context.Context, pid int, snapshot types.SnapshotDescriptor, idx *pageindex.Index) error {
	if err := r.target.TearDown(ctx, pid); err != nil {
		return errors.IOFailure(err, "restore: tearing down address space")
	}

	if err := r.target.SetAddressSpace(ctx, pid, snapshot.VMSpace); err != nil {
		return errors.IOFailure(err, "restore: setting address space scalars")
	}

	for i, region := range snapshot.Regions {
		if region.IsSubmap {
			continue
		}
		if err := r.target.MapRegion(ctx, pid, region); err != nil {
			return errors.IOFailure(err, "restore: mapping region")
		}

		for addr := region.Start; addr < region.End; addr += types.PageSize {
			page, ok := idx.Get(addr)
			if !ok {
				continue
			}
			page.RegionIdx = i
			if err := r.target.WritePage(ctx, pid, region, page); err != nil {
				return errors.IOFailure(err, "restore: writing page")
			}
		}
	}

	if err := r.restoreProcessState(ctx, pid, snapshot); err != nil {
		return err
	}

	return nil
}

// restoreProcessState implements §4.H's restore half.
func (r *Restorer) restoreProcessState(ctx context.Context, pid int, snapshot types.SnapshotDescriptor) error {
	actions := make([]types.SignalAction, len(snapshot.Process.SignalActions))
	copy(actions, snapshot.Process.SignalActions)
	if err := r.target.SetSignalActions(ctx, pid, actions); err != nil {
		return errors.IOFailure(err, "restore: setting signal actions")
	}

	if err := r.target.EnsureThreadCount(ctx, pid, len(snapshot.Threads)); err != nil {
		return errors.IOFailure(err, "restore: ensuring thread count")
	}

	for i, thread := range snapshot.Threads {
		if err := r.target.SetThreadState(ctx, pid, i, thread); err != nil {
			return errors.IOFailure(err, "restore: setting thread state")
		}
	}

	return nil
}

// Compose builds the Page Index for a delta chain before calling
// Restore; it is pageindex.Compose under this package's name (the
// orchestrator calls pageindex.Compose directly).
func Compose(chain []pageindex.EpochPages) *pageindex.Index {
	return pageindex.Compose(chain)
}
