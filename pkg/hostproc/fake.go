package hostproc

import (
	"context"
	"sync"

	"github.com/sls-project/sls/pkg/types"
)

// FakeProcess is one process tracked by FakeHost.
type FakeProcess struct {
	Stopped bool
	Regions []types.RegionDescriptor
	Pages   map[uintptr][]byte // vaddr -> page bytes, per region contents
	Threads []int
	FDTable types.FileDescriptorTable

	// Dirty simulates the soft-dirty bit DirtyPages/ClearDirty track in
	// ContainerdHost: nil means dirty tracking was never cleared, so
	// every resident page reports dirty (the kernel's default for a
	// newly mapped page); once ClearDirty has run, only vaddrs tests
	// mark via MarkDirty are reported.
	Dirty map[uintptr]bool
}

// FakeHost is an in-memory HostProcess implementation for tests,
// matching design notes' "user-space emulation for tests" rather than
// attaching to a real containerd task and /proc.
type FakeHost struct {
	mu        sync.Mutex
	processes map[int]*FakeProcess
}

// NewFakeHost creates an empty FakeHost.
func NewFakeHost() *FakeHost {
	return &FakeHost{processes: make(map[int]*FakeProcess)}
}

// AddProcess registers a process with its regions/pages so tests can
// drive capture/restore against it without a real pid.
func (h *FakeHost) AddProcess(pid int, p *FakeProcess) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processes[pid] = p
}

func (h *FakeHost) get(pid int) (*FakeProcess, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.processes[pid]
	return p, ok
}

func (h *FakeHost) Stop(ctx context.Context, pid int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.processes[pid]; ok {
		p.Stopped = true
	}
	return nil
}

func (h *FakeHost) Continue(ctx context.Context, pid int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.processes[pid]; ok {
		p.Stopped = false
	}
	return nil
}

func (h *FakeHost) Regions(ctx context.Context, pid int) ([]types.RegionDescriptor, error) {
	p, ok := h.get(pid)
	if !ok {
		return nil, nil
	}
	return p.Regions, nil
}

func (h *FakeHost) ReadPages(ctx context.Context, pid int, region types.RegionDescriptor) ([]types.SavedPage, error) {
	p, ok := h.get(pid)
	if !ok {
		return nil, nil
	}

	var pages []types.SavedPage
	for addr := region.Start; addr < region.End; addr += types.PageSize {
		bytes, ok := p.Pages[addr]
		if !ok {
			continue
		}
		pages = append(pages, types.SavedPage{VAddr: addr, Bytes: bytes})
	}
	return pages, nil
}

// DirtyPages returns region's resident pages that are dirty per p.Dirty,
// or every resident page if p.Dirty is nil (tracking never cleared).
func (h *FakeHost) DirtyPages(ctx context.Context, pid int, region types.RegionDescriptor) ([]types.SavedPage, error) {
	p, ok := h.get(pid)
	if !ok {
		return nil, nil
	}

	var pages []types.SavedPage
	for addr := region.Start; addr < region.End; addr += types.PageSize {
		bytes, ok := p.Pages[addr]
		if !ok {
			continue
		}
		if p.Dirty != nil && !p.Dirty[addr] {
			continue
		}
		pages = append(pages, types.SavedPage{VAddr: addr, Bytes: bytes})
	}
	return pages, nil
}

// ClearDirty resets pid's dirty set to empty, so a subsequent DirtyPages
// call only reports vaddrs MarkDirty marks before the next capture.
func (h *FakeHost) ClearDirty(ctx context.Context, pid int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.processes[pid]; ok {
		p.Dirty = make(map[uintptr]bool)
	}
	return nil
}

// MarkDirty simulates a write to vaddr between two captures, for tests
// exercising DELTA mode's dirty-page diff.
func (h *FakeHost) MarkDirty(pid int, vaddr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.processes[pid]; ok {
		if p.Dirty == nil {
			p.Dirty = make(map[uintptr]bool)
		}
		p.Dirty[vaddr] = true
	}
}

func (h *FakeHost) ThreadIDs(ctx context.Context, pid int) ([]int, error) {
	p, ok := h.get(pid)
	if !ok {
		return nil, nil
	}
	return p.Threads, nil
}

func (h *FakeHost) FileDescriptors(ctx context.Context, pid int) (types.FileDescriptorTable, error) {
	p, ok := h.get(pid)
	if !ok {
		return types.FileDescriptorTable{}, nil
	}
	return p.FDTable, nil
}
