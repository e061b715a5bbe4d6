// Package backend implements the Backend Descriptor: a tagged handle over
// whichever medium a partition's checkpoints land on, grounded the way the
// teacher's pkg/storage.Store interface separates the storage contract from
// its BoltDB implementation, adapted here to the three concrete media a
// checkpoint's pages can be written to (plain file, log-structured object
// store, persistent-memory region) rather than cluster entities.
package backend

import (
	"io"
	"os"
	"sync"

	"github.com/sls-project/sls/pkg/errors"
	"github.com/sls-project/sls/pkg/types"
)

// Backend is a sequential-write destination for checkpoint data plus the
// region-walking dump operation the writer pool drives during a capture.
// The implementations in this package guard their cursor with a mutex,
// so each Write call lands whole at the cursor; consecutive Write calls
// from different goroutines may interleave with each other.
type Backend interface {
	// Read reads len(buf) bytes sequentially from the current read
	// position.
	Read(buf []byte) (int, error)

	// Write writes buf at the backend's tracked write cursor, advancing
	// it by len(buf).
	Write(buf []byte) (int, error)

	// WriteAt writes buf at an explicit offset without touching the
	// tracked cursor, for backends that support random access (the
	// object store and PM region do; a plain append-only file backend
	// may not).
	WriteAt(buf []byte, offset int64) (int, error)

	// Cursor returns the backend's current write offset.
	Cursor() int64

	// Close releases the backend's underlying resource.
	Close() error
}

// PageSource supplies the resident pages of one VM region during a dump.
// Concrete hostproc/capture implementations satisfy this; it is declared
// here, not imported, the same way pkg/metrics declares PartitionSource
// locally to avoid a cycle back into its caller.
type PageSource interface {
	// Pages returns the vaddr-ordered resident pages of region.
	Pages(region types.RegionDescriptor) ([]types.SavedPage, error)
}

// Dump walks each region in regions, pulling its resident pages from
// source, and sends each page, tagged with its region index, on out in
// region order; submap regions are skipped. It does not write to b and
// does not move b's cursor: whoever drains out does the writing. It is
// the userspace analogue of sls.c's dump(), which walks
// vm_map_entry_info[] page by page.
func Dump(b Backend, source PageSource, regions []types.RegionDescriptor, out chan<- types.SavedPage) error {
	for i := range regions {
		if regions[i].IsSubmap {
			continue
		}
		pages, err := source.Pages(regions[i])
		if err != nil {
			return errors.IOFailure(err, "reading resident pages")
		}
		for _, p := range pages {
			p.RegionIdx = i
			out <- p
		}
	}
	return nil
}

// FileBackend is a Backend over a plain os.File, used for the File target
// kind and for tests.
type FileBackend struct {
	mu     sync.Mutex
	f      *os.File
	cursor int64
}

// OpenFile opens or creates path as a FileBackend.
func OpenFile(path string) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.IOFailure(err, "opening file backend")
	}
	return &FileBackend{f: f}, nil
}

func (fb *FileBackend) Read(buf []byte) (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n, err := fb.f.Read(buf)
	if err != nil && err != io.EOF {
		return n, errors.IOFailure(err, "file backend read")
	}
	return n, err
}

func (fb *FileBackend) Write(buf []byte) (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n, err := fb.f.WriteAt(buf, fb.cursor)
	if err != nil {
		return n, errors.IOFailure(err, "file backend write")
	}
	fb.cursor += int64(n)
	return n, nil
}

func (fb *FileBackend) WriteAt(buf []byte, offset int64) (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n, err := fb.f.WriteAt(buf, offset)
	if err != nil {
		return n, errors.IOFailure(err, "file backend write_at")
	}
	return n, nil
}

func (fb *FileBackend) Cursor() int64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.cursor
}

func (fb *FileBackend) Close() error {
	return fb.f.Close()
}

// PMBackend is a Backend over a fixed-size, preallocated byte slice
// standing in for a persistent-memory region (a real implementation would
// mmap a /dev/nvdimm_spaN character device the way nvdimm_open does; the
// in-process slice gives this engine the same fixed-capacity, cursor-write
// semantics without a kernel driver). Writes past len(region) return a
// ResourceExhaustion error, matching nvdimm_write's overflow check.
type PMBackend struct {
	mu     sync.Mutex
	region []byte
	cursor int64
}

// NewPMRegion creates a PMBackend backed by a region of the given size.
func NewPMRegion(size int64) *PMBackend {
	return &PMBackend{region: make([]byte, size)}
}

func (pm *PMBackend) Read(buf []byte) (int, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.cursor >= int64(len(pm.region)) {
		return 0, io.EOF
	}
	n := copy(buf, pm.region[pm.cursor:])
	pm.cursor += int64(n)
	return n, nil
}

func (pm *PMBackend) Write(buf []byte) (int, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.cursor+int64(len(buf)) > int64(len(pm.region)) {
		return 0, errors.ResourceExhaustion("pm backend overflow: write past region end")
	}
	n := copy(pm.region[pm.cursor:], buf)
	pm.cursor += int64(n)
	return n, nil
}

func (pm *PMBackend) WriteAt(buf []byte, offset int64) (int, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if offset+int64(len(buf)) > int64(len(pm.region)) {
		return 0, errors.ResourceExhaustion("pm backend overflow: write_at past region end")
	}
	n := copy(pm.region[offset:], buf)
	return n, nil
}

func (pm *PMBackend) Cursor() int64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.cursor
}

func (pm *PMBackend) Close() error { return nil }

// Open constructs the concrete Backend for a partition's configured
// target kind. BackendStore is opened by pkg/store, not here: Open only
// knows how to hand back file and PM backends; the object store owns its
// own on-disk bootstrapping.
func Open(kind types.BackendKind, path string, pmSize int64) (Backend, error) {
	switch kind {
	case types.BackendFile:
		return OpenFile(path)
	case types.BackendPM:
		return NewPMRegion(pmSize), nil
	default:
		return nil, errors.InvalidArgument("backend: unknown descriptor kind " + kind.String())
	}
}
