// Package store implements the checkpoint engine's Object Store: a
// log-structured, copy-on-write store with a superblock ring, a
// best-fit allocator, and an inode tree whose entries each own a
// logical-block-keyed extent tree. Grounded on spec.md 4.D; the
// allocator's two B-trees are google/btree.BTreeG instances (the real
// dependency already present transitively via containerd in the
// teacher's go.mod). The inode tree and each inode's extent tree are
// kept as in-memory maps and serialized whole at commit time rather than
// paged on disk node-by-node: Go has no equivalent of the original
// kernel module's page cache to amortize that against, so a single
// COW'd blob per commit gives the same "old roots stay readable, new
// root only visible after the superblock write" guarantee with far less
// code.
package store

import (
	"bytes"
	"encoding/gob"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sls-project/sls/pkg/errors"
	"github.com/sls-project/sls/pkg/log"
	"github.com/sls-project/sls/pkg/metrics"
	"github.com/sls-project/sls/pkg/types"
)

// inodeOnDisk is one inode plus its extent tree, the unit the inode-tree
// blob is built from.
type inodeOnDisk struct {
	Inode   types.Inode
	Extents map[int64]types.Extent
}

// Store is one mounted object store.
type Store struct {
	mu sync.Mutex // store-wide lock: only one checkpoint's epoch advances at a time

	f       *os.File
	path    string
	alloc   *allocator
	inodes  map[uint64]*inodeOnDisk
	nextPID uint64

	epoch   types.Epoch
	slotIdx int
	uuid    [16]byte
}

// Open mounts the store at path, creating it fresh if absent, and
// growing the backing file to host the superblock ring plus size bytes
// of data region. On an existing store it scans the ring (scanRing) and
// reloads the inode tree and allocator free list from the winning slot's
// roots.
func Open(path string, size int64) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.IOFailure(err, "opening object store file")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.IOFailure(err, "stat object store file")
	}
	want := ringBytes + size
	if info.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, errors.IOFailure(err, "growing object store file")
		}
	}

	slot, idx, err := scanRing(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &Store{f: f, path: path}

	if slot.Epoch == types.EpochInval {
		s.epoch = 0
		s.slotIdx = -1
		s.alloc = newAllocator(0, size)
		s.inodes = make(map[uint64]*inodeOnDisk)
		s.nextPID = 1
		id, _ := uuid.NewRandom()
		copy(s.uuid[:], id[:])
		return s, nil
	}

	s.epoch = slot.Epoch
	s.slotIdx = idx
	s.uuid = slot.UUID

	freeList, err := loadBlob[[]types.Extent](f, slot.AllocOffsetTreeRoot)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.alloc = restoreAllocator(freeList)

	inodeMap, err := loadBlob[map[uint64]inodeOnDisk](f, slot.InodeTreeRoot)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.inodes = make(map[uint64]*inodeOnDisk, len(inodeMap))
	var maxPID uint64
	for pid, entry := range inodeMap {
		e := entry
		s.inodes[pid] = &e
		if pid > maxPID {
			maxPID = pid
		}
	}
	s.nextPID = maxPID + 1

	return s, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.f.Close()
}

// Epoch returns the store's last-committed epoch.
func (s *Store) Epoch() types.Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// AllocateInode reserves a new inumber ("pid") for a fresh inode of the
// given record type and returns it. The caller then uses WriteBlock/
// WriteWhole to populate its extent tree before the next Commit.
func (s *Store) AllocateInode(recordType types.RecordType) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid := s.nextPID
	s.nextPID++

	now := time.Now()
	s.inodes[pid] = &inodeOnDisk{
		Inode: types.Inode{
			Magic:      types.MagicInode,
			PID:        pid,
			RecordType: recordType,
			CTime:      now,
			MTime:      now,
			ATime:      now,
			BirthTime:  now,
		},
		Extents: make(map[int64]types.Extent),
	}
	return pid
}

// WriteWhole allocates a single extent for data and makes it the entire
// contents of pid's inode (logical block 0), the common case for
// manifest, directory, and small fixed records.
func (s *Store) WriteWhole(pid uint64, data []byte) error {
	return s.WriteBlock(pid, 0, data)
}

// WriteBlock allocates a fresh extent for data and installs it at
// logical block number lbn in pid's extent tree, copy-on-write: the old
// extent at that lbn, if any, is freed once the commit that no longer
// references it lands.
func (s *Store) WriteBlock(pid uint64, lbn int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.inodes[pid]
	if !ok {
		return errors.InvalidArgument("object store: unknown inode")
	}

	offset, err := s.alloc.alloc(int64(len(data)))
	if err != nil {
		return err
	}
	if _, err := s.f.WriteAt(data, ringBytes+offset); err != nil {
		return errors.IOFailure(err, "writing object store extent")
	}

	if old, existed := entry.Extents[lbn]; existed {
		s.alloc.free(old.Offset, old.Size)
	}
	entry.Extents[lbn] = types.Extent{Offset: offset, Size: int64(len(data)), Epoch: s.epoch + 1}

	end := (lbn+1)*types.PageSize + int64(len(data)) - types.PageSize
	if end > entry.Inode.Size {
		entry.Inode.Size = end
	}
	entry.Inode.MTime = time.Now()
	return nil
}

// ReadWhole reads back the data written by WriteWhole, clipped to the
// inode's recorded size.
func (s *Store) ReadWhole(pid uint64) ([]byte, error) {
	return s.ReadBlock(pid, 0)
}

// ReadBlock reads the extent at logical block lbn of pid, clipped
// against the inode's size the way spec.md 4.D's extent tree read path
// does.
func (s *Store) ReadBlock(pid uint64, lbn int64) ([]byte, error) {
	s.mu.Lock()
	entry, ok := s.inodes[pid]
	if !ok {
		s.mu.Unlock()
		return nil, errors.InvalidArgument("object store: unknown inode")
	}
	extent, ok := entry.Extents[lbn]
	size := entry.Inode.Size
	s.mu.Unlock()

	if !ok {
		return nil, errors.InvalidArgument("object store: no extent at that block")
	}

	buf := make([]byte, extent.Size)
	if _, err := s.f.ReadAt(buf, ringBytes+extent.Offset); err != nil {
		return nil, errors.IOFailure(err, "reading object store extent")
	}
	if int64(len(buf)) > size {
		buf = buf[:size]
	}
	return buf, nil
}

// Inode returns a copy of pid's inode record.
func (s *Store) Inode(pid uint64) (types.Inode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.inodes[pid]
	if !ok {
		return types.Inode{}, false
	}
	return entry.Inode, true
}

// Commit performs the checkpoint commit protocol's inode/allocator/
// superblock steps (spec.md 4.D step 5: the writer pool's page drain,
// step 1, happens upstream via pkg/writerpool before Commit is called).
// Only one commit advances the epoch at a time; competing callers
// serialize on the store-wide lock.
func (s *Store) Commit(oid types.OID) (types.Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StoreCommitDuration)

	inodeSnapshot := make(map[uint64]inodeOnDisk, len(s.inodes))
	for pid, entry := range s.inodes {
		inodeSnapshot[pid] = *entry
	}

	inodeRootOffset, inodeRootSize, err := s.writeBlob(inodeSnapshot)
	if err != nil {
		return 0, err
	}

	// Snapshot the free list before allocating space for its own blob:
	// the extent consumed by that allocation is therefore marked free
	// in the persisted list, which is correct, since nothing re-reads
	// an allocator root after the mount that consumes it.
	freeList := s.alloc.snapshot()
	allocRootOffset, allocRootSize, err := s.writeBlob(freeList)
	if err != nil {
		// inodeRootOffset's allocation already landed on disk but no
		// slot will ever reference it now; free it so a failed commit
		// doesn't leak allocator space.
		s.alloc.free(inodeRootOffset, inodeRootSize)
		return 0, err
	}

	newEpoch := s.epoch + 1
	newIdx := nextSlotIndex(s.slotIdx)

	slot := types.SuperblockSlot{
		Magic:               types.MagicSuperblock,
		VersionMajor:        1,
		UUID:                s.uuid,
		SectorSize:          slotSize,
		InodeTreeRoot:       inodeRootOffset,
		AllocSizeTreeRoot:   allocRootOffset,
		AllocOffsetTreeRoot: allocRootOffset,
		LastMountTime:       time.Now(),
		Epoch:               newEpoch,
	}

	if err := writeSlot(s.f, newIdx, slot); err != nil {
		// Neither blob is reachable from any slot now; free both so this
		// failed commit leaves the allocator exactly as it found it.
		s.alloc.free(inodeRootOffset, inodeRootSize)
		s.alloc.free(allocRootOffset, allocRootSize)
		return 0, err
	}

	s.epoch = newEpoch
	s.slotIdx = newIdx
	metrics.SuperblockRotationsTotal.Inc()
	log.WithPartition(uint64(oid)).Info().Uint64("epoch", uint64(newEpoch)).Msg("object store commit")

	return newEpoch, nil
}

// writeBlob gob-encodes v, allocates space for it, and writes it,
// returning the offset and the size of the allocation backing it (so a
// caller whose later commit step fails can free it again). Used for the
// inode-tree and allocator roots, which are whole-blob COW snapshots
// rather than paged B-tree nodes.
func (s *Store) writeBlob(v any) (int64, int64, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return 0, 0, errors.IOFailure(err, "encoding object store blob")
	}

	sized := make([]byte, 8+buf.Len())
	putUint64(sized, uint64(buf.Len()))
	copy(sized[8:], buf.Bytes())

	offset, err := s.alloc.alloc(int64(len(sized)))
	if err != nil {
		return 0, 0, err
	}
	if _, err := s.f.WriteAt(sized, ringBytes+offset); err != nil {
		return 0, 0, errors.IOFailure(err, "writing object store blob")
	}
	return offset, int64(len(sized)), nil
}

func loadBlob[T any](f *os.File, offset int64) (T, error) {
	var zero T
	header := make([]byte, 8)
	if _, err := f.ReadAt(header, ringBytes+offset); err != nil {
		return zero, errors.IOFailure(err, "reading object store blob header")
	}
	length := getUint64(header)

	data := make([]byte, length)
	if _, err := f.ReadAt(data, ringBytes+offset+8); err != nil {
		return zero, errors.IOFailure(err, "reading object store blob")
	}

	var v T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return zero, errors.Corruption("object store: blob decode failed")
	}
	return v, nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
