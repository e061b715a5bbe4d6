// Package hostproc abstracts the host process the checkpoint engine
// attaches to: stopping/continuing it, enumerating its VM regions, and
// reading its resident pages. Grounded on design notes' "abstract host
// process interface... concrete host supplies it": the concrete
// implementation here is containerd-backed (teacher's
// pkg/runtime/containerd.go's LoadContainer/Task pattern, generalized
// from container lifecycle management to process introspection), paired
// with an in-memory fake for tests, matching "user-space emulation for
// tests."
package hostproc

import (
	"context"

	"github.com/sls-project/sls/pkg/types"
)

// HostProcess is the minimal surface the Checkpoint Orchestrator and
// Address-Space Capture need from whatever is attached: stop/continue
// control and the ability to read one process's memory layout.
type HostProcess interface {
	// Stop pauses the process (§4.I step 1: the process must be frozen
	// before its address space is captured).
	Stop(ctx context.Context, pid int) error

	// Continue resumes a previously stopped process (§4.I step 3).
	Continue(ctx context.Context, pid int) error

	// Regions returns the process's current VM region layout.
	Regions(ctx context.Context, pid int) ([]types.RegionDescriptor, error)

	// ReadPages reads the resident pages backing region for pid.
	ReadPages(ctx context.Context, pid int, region types.RegionDescriptor) ([]types.SavedPage, error)

	// DirtyPages reads only region's pages written since the last
	// ClearDirty call for pid (DELTA mode's per-epoch shadow diff,
	// §4.F). A pid whose dirty tracking was never cleared reports every
	// resident page dirty, matching the kernel soft-dirty bit's default
	// state for newly mapped memory.
	DirtyPages(ctx context.Context, pid int, region types.RegionDescriptor) ([]types.SavedPage, error)

	// ClearDirty resets pid's dirty-page tracking, establishing the
	// boundary the next DirtyPages call diffs against.
	ClearDirty(ctx context.Context, pid int) error

	// ThreadIDs returns the process's current thread ids.
	ThreadIDs(ctx context.Context, pid int) ([]int, error)

	// FileDescriptors returns the process's open file-descriptor table.
	FileDescriptors(ctx context.Context, pid int) (types.FileDescriptorTable, error)
}

// Source satisfies pkg/backend.PageSource, letting Dump pull resident
// pages through whichever HostProcess is attached without pkg/backend
// importing this package.
type Source struct {
	Host HostProcess
	PID  int
	Ctx  context.Context
}

func (s Source) Pages(region types.RegionDescriptor) ([]types.SavedPage, error) {
	return s.Host.ReadPages(s.Ctx, s.PID, region)
}
