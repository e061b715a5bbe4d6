package store

import (
	"sync"

	"github.com/sls-project/sls/pkg/types"
)

// BlockBackend adapts one inode's extent tree to the backend.Backend
// interface (declared in pkg/backend; not imported here to avoid a
// cycle, the same way pkg/backend declares its own PageSource rather
// than importing pkg/hostproc): each sequential Write call lands in the
// next logical block of pid's extent tree, giving the Writer Pool a
// destination that is itself copy-on-write at the Store's Commit.
type BlockBackend struct {
	mu      sync.Mutex
	s       *Store
	pid     uint64
	nextLBN int64
	cursor  int64
}

// NewBlockBackend wraps pid (already allocated via AllocateInode) as a
// sequential-write Backend.
func NewBlockBackend(s *Store, pid uint64) *BlockBackend {
	return &BlockBackend{s: s, pid: pid}
}

func (b *BlockBackend) Read(buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := b.s.ReadBlock(b.pid, b.nextLBN)
	if err != nil {
		return 0, err
	}
	n := copy(buf, data)
	b.nextLBN++
	b.cursor += int64(n)
	return n, nil
}

func (b *BlockBackend) Write(buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.s.WriteBlock(b.pid, b.nextLBN, buf); err != nil {
		return 0, err
	}
	b.nextLBN++
	b.cursor += int64(len(buf))
	return len(buf), nil
}

func (b *BlockBackend) WriteAt(buf []byte, offset int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lbn := offset / types.PageSize
	if err := b.s.WriteBlock(b.pid, lbn, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (b *BlockBackend) Cursor() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// Close is a no-op: closing the underlying Store is the caller's
// responsibility, since one Store backs many inodes/partitions.
func (b *BlockBackend) Close() error { return nil }
