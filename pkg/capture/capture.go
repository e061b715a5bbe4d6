// Package capture implements Address-Space Capture (§4.F) and Process
// State Capture (§4.H): freezing a target process just long enough to
// snapshot its registers, signal state, and VM regions, then handing the
// resulting descriptor and per-region page stream to the writer pool.
// Grounded on pkg/hostproc's Stop/Continue/Regions/ReadPages surface
// (itself grounded on the teacher's containerd task lifecycle) plus
// original_source/tests/delta/delta.c and tests/memshadow/memshadow.c,
// which confirm the delta mechanism shadows one VM region at a time.
package capture

import (
	"context"

	"github.com/sls-project/sls/pkg/errors"
	"github.com/sls-project/sls/pkg/hostproc"
	"github.com/sls-project/sls/pkg/types"
)

// Result is everything one capture pass produces: the snapshot
// descriptor ready to hand to the object store, plus the resident pages
// ready to hand to the writer pool.
type Result struct {
	Snapshot types.SnapshotDescriptor
	Pages    []types.SavedPage
}

// Capturer captures process and address-space state through a
// HostProcess.
type Capturer struct {
	host hostproc.HostProcess
}

// New creates a Capturer over host.
func New(host hostproc.HostProcess) *Capturer {
	return &Capturer{host: host}
}

// Capture performs the one-shot checkpoint's steps 1-2: freeze the
// process, snapshot its state, resume it, matching §4.I's "signal STOP
// ... capture ... signal CONT" sequence. Mode selects which pages are
// read: only the pages dirtied since the previous capture (DELTA, which
// then clears the dirty state) or every resident page (FULL).
func (c *Capturer) Capture(ctx context.Context, pid int, mode types.Mode, epoch types.Epoch) (*Result, error) {
	if err := c.host.Stop(ctx, pid); err != nil {
		return nil, errors.IOFailure(err, "capture: stopping target process")
	}

	result, err := c.captureLocked(ctx, pid, mode, epoch)

	// The process resumes here (§4.I step 3) regardless of capture
	// outcome: a capture failure must never leave the target frozen.
	if contErr := c.host.Continue(ctx, pid); contErr != nil && err == nil {
		err = errors.IOFailure(contErr, "capture: resuming target process")
	}

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Capturer) captureLocked(ctx context.Context, pid int, mode types.Mode, epoch types.Epoch) (*Result, error) {
	process, threads, err := c.captureProcessState(ctx, pid)
	if err != nil {
		return nil, err
	}

	vmspace, regions, pages, err := c.captureAddressSpace(ctx, pid, mode, epoch)
	if err != nil {
		return nil, err
	}

	fdTable, err := c.host.FileDescriptors(ctx, pid)
	if err != nil {
		return nil, errors.IOFailure(err, "capture: reading file descriptors")
	}

	snapshot := types.SnapshotDescriptor{
		Magic:     types.MagicDump,
		Process:   process,
		Threads:   threads,
		VMSpace:   vmspace,
		Regions:   regions,
		FileTable: fdTable,
		Epoch:     epoch,
		Mode:      mode,
	}

	return &Result{Snapshot: snapshot, Pages: pages}, nil
}

// captureProcessState implements §4.H's capture half: the signal-action
// table plus one ThreadDescriptor per thread. A real kernel-resident
// capture reads registers directly out of each thread's PCB; this
// engine's HostProcess abstraction does not expose raw register access
// (containerd/procfs have no such surface for an arbitrary pid), so
// thread descriptors here carry thread ids only, with register fields
// left at their zero value for a concrete HostProcess to populate via a
// ptrace-capable implementation.
func (c *Capturer) captureProcessState(ctx context.Context, pid int) (types.ProcessDescriptor, []types.ThreadDescriptor, error) {
	ids, err := c.host.ThreadIDs(ctx, pid)
	if err != nil {
		return types.ProcessDescriptor{}, nil, errors.IOFailure(err, "capture: reading thread ids")
	}

	threads := make([]types.ThreadDescriptor, 0, len(ids))
	for _, id := range ids {
		threads = append(threads, types.ThreadDescriptor{
			Magic:    types.MagicThread,
			ThreadID: id,
		})
	}

	process := types.ProcessDescriptor{
		Magic:       types.MagicProcess,
		PID:         pid,
		ThreadCount: len(threads),
	}
	return process, threads, nil
}

// captureAddressSpace implements §4.F: per-region attribute snapshot,
// with submap regions recorded but their pages skipped. In DELTA mode,
// only pages dirtied since the previous epoch are read, via
// HostProcess.DirtyPages (soft-dirty bits on the real host, a simulated
// dirty set on FakeHost); FULL mode reads every resident page. Dirty
// tracking is cleared once per capture so the next DELTA epoch diffs
// against this one.
func (c *Capturer) captureAddressSpace(ctx context.Context, pid int, mode types.Mode, epoch types.Epoch) (types.AddressSpaceDescriptor, []types.RegionDescriptor, []types.SavedPage, error) {
	regions, err := c.host.Regions(ctx, pid)
	if err != nil {
		return types.AddressSpaceDescriptor{}, nil, nil, errors.IOFailure(err, "capture: reading regions")
	}

	var pages []types.SavedPage
	var textStart, dataStart, stackStart uintptr
	var textSize, dataSize int64

	for i := range regions {
		if regions[i].IsSubmap {
			continue
		}

		var regionPages []types.SavedPage
		if mode == types.ModeDelta {
			regionPages, err = c.host.DirtyPages(ctx, pid, regions[i])
		} else {
			regionPages, err = c.host.ReadPages(ctx, pid, regions[i])
		}
		if err != nil {
			return types.AddressSpaceDescriptor{}, nil, nil, errors.IOFailure(err, "capture: reading pages")
		}
		for _, p := range regionPages {
			p.RegionIdx = i
			p.Epoch = epoch
			pages = append(pages, p)
		}

		if regions[i].Protection&0x4 != 0 && textStart == 0 {
			textStart = regions[i].Start
			textSize += int64(regions[i].End - regions[i].Start)
		}
		if regions[i].Protection&0x2 != 0 && dataStart == 0 {
			dataStart = regions[i].Start
			dataSize += int64(regions[i].End - regions[i].Start)
		}
	}

	if len(regions) > 0 {
		stackStart = regions[len(regions)-1].Start
	}

	vmspace := types.AddressSpaceDescriptor{
		Magic:       types.MagicVMSpace,
		TextStart:   textStart,
		TextSize:    textSize,
		DataStart:   dataStart,
		DataSize:    dataSize,
		StackStart:  stackStart,
		RegionCount: len(regions),
	}

	if mode == types.ModeDelta {
		if err := c.host.ClearDirty(ctx, pid); err != nil {
			return types.AddressSpaceDescriptor{}, nil, nil, errors.IOFailure(err, "capture: clearing dirty tracking")
		}
	}

	return vmspace, regions, pages, nil
}
