package hostproc

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"

	"github.com/sls-project/sls/pkg/errors"
	"github.com/sls-project/sls/pkg/types"
)

// DefaultNamespace mirrors the teacher's containerd namespace constant,
// renamed for this engine.
const DefaultNamespace = "sls"

// ContainerdHost is the concrete HostProcess backed by containerd for
// stop/continue, and /proc for region enumeration and page reads (the
// two concerns containerd's own API does not expose at the granularity
// this engine needs).
type ContainerdHost struct {
	client    *containerd.Client
	namespace string

	mu        sync.Mutex
	container map[int]string // pid -> containerd container id
}

// NewContainerdHost connects to containerd at socketPath (the teacher's
// DefaultSocketPath convention) and returns a HostProcess over it.
func NewContainerdHost(socketPath string) (*ContainerdHost, error) {
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, errors.IOFailure(err, "connecting to containerd")
	}
	return &ContainerdHost{
		client:    client,
		namespace: DefaultNamespace,
		container: make(map[int]string),
	}, nil
}

// RegisterContainer associates pid with the containerd container id that
// owns it. Operations that look up a pid's task fail for a pid that was
// never registered; Orchestrator.Attach does not call this method.
func (h *ContainerdHost) RegisterContainer(pid int, containerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.container[pid] = containerID
}

func (h *ContainerdHost) task(ctx context.Context, pid int) (containerd.Task, error) {
	h.mu.Lock()
	id, ok := h.container[pid]
	h.mu.Unlock()
	if !ok {
		return nil, errors.InvalidArgument(fmt.Sprintf("hostproc: pid %d is not an attached container", pid))
	}

	ctx = namespaces.WithNamespace(ctx, h.namespace)
	c, err := h.client.LoadContainer(ctx, id)
	if err != nil {
		return nil, errors.IOFailure(err, "loading container")
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return nil, errors.IOFailure(err, "loading task")
	}
	return task, nil
}

// Stop pauses the container's task via containerd's cgroup freezer,
// the way Task.Pause implements §4.I step 1.
func (h *ContainerdHost) Stop(ctx context.Context, pid int) error {
	task, err := h.task(ctx, pid)
	if err != nil {
		return err
	}
	if err := task.Pause(ctx); err != nil {
		return errors.IOFailure(err, "pausing task")
	}
	return nil
}

// Continue resumes a paused task, §4.I step 3.
func (h *ContainerdHost) Continue(ctx context.Context, pid int) error {
	task, err := h.task(ctx, pid)
	if err != nil {
		return err
	}
	if err := task.Resume(ctx); err != nil {
		return errors.IOFailure(err, "resuming task")
	}
	return nil
}

// Regions parses /proc/<pid>/maps into RegionDescriptors.
func (h *ContainerdHost) Regions(ctx context.Context, pid int) ([]types.RegionDescriptor, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, errors.IOFailure(err, "opening proc maps")
	}
	defer f.Close()

	var regions []types.RegionDescriptor
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		region, ok, err := parseMapsLine(scanner.Text())
		if err != nil {
			return nil, err
		}
		if ok {
			regions = append(regions, region)
		}
	}
	return regions, scanner.Err()
}

// parseMapsLine parses one "start-end perms offset dev inode path" line
// from /proc/<pid>/maps.
func parseMapsLine(line string) (types.RegionDescriptor, bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return types.RegionDescriptor{}, false, nil
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return types.RegionDescriptor{}, false, nil
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return types.RegionDescriptor{}, false, errors.IOFailure(err, "parsing region start")
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return types.RegionDescriptor{}, false, errors.IOFailure(err, "parsing region end")
	}

	offset, err := strconv.ParseInt(fields[2], 16, 64)
	if err != nil {
		return types.RegionDescriptor{}, false, errors.IOFailure(err, "parsing region offset")
	}

	var prot uint32
	perms := fields[1]
	if strings.Contains(perms, "r") {
		prot |= 0x1
	}
	if strings.Contains(perms, "w") {
		prot |= 0x2
	}
	if strings.Contains(perms, "x") {
		prot |= 0x4
	}

	var filename string
	if len(fields) >= 6 {
		filename = fields[5]
	}

	return types.RegionDescriptor{
		Magic:         types.MagicRegion,
		Start:         uintptr(start),
		End:           uintptr(end),
		Offset:        offset,
		Protection:    prot,
		MaxProtection: prot,
		ObjectSize:    int64(end - start),
		Filename:      filename,
	}, true, nil
}

// ReadPages reads region's bytes from /proc/<pid>/mem, PageSize bytes at
// a time. A page that fails to read (unmapped or permission-denied by
// the time the read reaches it) is skipped rather than failing the
// whole region, matching the engine's transient-failure semantics for
// individual pages.
func (h *ContainerdHost) ReadPages(ctx context.Context, pid int, region types.RegionDescriptor) ([]types.SavedPage, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		return nil, errors.IOFailure(err, "opening proc mem")
	}
	defer f.Close()

	var pages []types.SavedPage
	for addr := region.Start; addr < region.End; addr += types.PageSize {
		buf := make([]byte, types.PageSize)
		n, err := f.ReadAt(buf, int64(addr))
		if err != nil && n == 0 {
			continue
		}
		pages = append(pages, types.SavedPage{VAddr: addr, Bytes: buf[:n]})
	}
	return pages, nil
}

// pagemapEntrySize is the width of one /proc/<pid>/pagemap record.
const pagemapEntrySize = 8

// softDirtyBit is bit 55 of a pagemap entry (see kernel Documentation/
// admin-guide/mm/soft-dirty.rst).
const softDirtyBit = uint64(1) << 55

// DirtyPages reads region's resident pages, then filters them down to
// the ones carrying the soft-dirty bit in /proc/<pid>/pagemap - the
// kernel's per-page write-since-last-clear tracking, which DELTA mode
// uses as its shadow/dirty diff (§4.F) without this engine needing its
// own copy-on-write page-fault handler.
func (h *ContainerdHost) DirtyPages(ctx context.Context, pid int, region types.RegionDescriptor) ([]types.SavedPage, error) {
	pages, err := h.ReadPages(ctx, pid, region)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, nil
	}

	pagemap, err := os.Open(fmt.Sprintf("/proc/%d/pagemap", pid))
	if err != nil {
		return nil, errors.IOFailure(err, "opening proc pagemap")
	}
	defer pagemap.Close()

	var dirty []types.SavedPage
	entry := make([]byte, pagemapEntrySize)
	for _, p := range pages {
		offset := int64(p.VAddr/types.PageSize) * pagemapEntrySize
		if _, err := pagemap.ReadAt(entry, offset); err != nil {
			// A page that disappeared between ReadPages and here (or a
			// pagemap read error) is treated as not dirty rather than
			// failing the whole region, matching the transient-failure
			// semantics individual pages already get in ReadPages.
			continue
		}
		bits := binary.LittleEndian.Uint64(entry)
		if bits&softDirtyBit != 0 {
			dirty = append(dirty, p)
		}
	}
	return dirty, nil
}

// ClearDirty clears pid's soft-dirty bits by writing to /proc/<pid>/
// clear_refs, establishing the boundary the next DirtyPages call diffs
// against (kernel Documentation/admin-guide/mm/soft-dirty.rst's "4"
// selector: clear only the soft-dirty bits).
func (h *ContainerdHost) ClearDirty(ctx context.Context, pid int) error {
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/clear_refs", pid), os.O_WRONLY, 0)
	if err != nil {
		return errors.IOFailure(err, "opening proc clear_refs")
	}
	defer f.Close()

	if _, err := f.WriteString("4\n"); err != nil {
		return errors.IOFailure(err, "clearing soft-dirty bits")
	}
	return nil
}

// ThreadIDs lists /proc/<pid>/task.
func (h *ContainerdHost) ThreadIDs(ctx context.Context, pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, errors.IOFailure(err, "reading proc task dir")
	}

	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		id, err := strconv.Atoi(e.Name())
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FileDescriptors lists /proc/<pid>/fd and classifies each entry.
func (h *ContainerdHost) FileDescriptors(ctx context.Context, pid int) (types.FileDescriptorTable, error) {
	dir := fmt.Sprintf("/proc/%d/fd", pid)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return types.FileDescriptorTable{}, errors.IOFailure(err, "reading proc fd dir")
	}

	table := types.FileDescriptorTable{Magic: types.MagicFileTable}
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		target, err := os.Readlink(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}

		fdType := types.FDTypeFile
		switch {
		case strings.HasPrefix(target, "socket:"):
			fdType = types.FDTypeSocket
		case strings.HasPrefix(target, "pipe:"):
			fdType = types.FDTypeFIFO
		}

		table.Descriptors = append(table.Descriptors, types.FileDescriptor{
			FD:       fd,
			Type:     fdType,
			Filename: target,
		})
	}
	return table, nil
}

// Close closes the underlying containerd client.
func (h *ContainerdHost) Close() error {
	return h.client.Close()
}
