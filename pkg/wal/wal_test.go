package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sls-project/sls/pkg/types"
)

type fakeMemory struct {
	buf []byte
}

func newFakeMemory(size int) *fakeMemory {
	return &fakeMemory{buf: make([]byte, size)}
}

func (f *fakeMemory) CopyAt(dest int64, data []byte) error {
	copy(f.buf[dest:], data)
	return nil
}

func TestMemCpyAppliesImmediately(t *testing.T) {
	mem := newFakeMemory(16)
	w, err := Open(filepath.Join(t.TempDir(), "wal.dat"), types.OID(1), mem)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.MemCpy(0, []byte("hello")))
	assert.Equal(t, "hello", string(mem.buf[:5]))
}

func TestSavepointScopesReplay(t *testing.T) {
	mem := newFakeMemory(16)
	w, err := Open(filepath.Join(t.TempDir(), "wal.dat"), types.OID(1), mem)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.MemCpy(0, []byte("before")))
	require.NoError(t, w.Savepoint())
	require.NoError(t, w.MemCpy(8, []byte("after")))

	mem2 := newFakeMemory(16)
	w.target = mem2
	require.NoError(t, w.Replay())

	assert.Equal(t, "after", string(mem2.buf[8:13]))
	assert.Equal(t, byte(0), mem2.buf[0], "records before the savepoint must not replay")
}

func TestReopenReplaysUnsavedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.dat")
	mem := newFakeMemory(16)

	w, err := Open(path, types.OID(1), mem)
	require.NoError(t, err)
	require.NoError(t, w.MemCpy(0, []byte("persisted")))
	require.NoError(t, w.Sync())
	require.NoError(t, w.f.Close())

	mem2 := newFakeMemory(16)
	w2, err := Open(path, types.OID(1), mem2)
	require.NoError(t, err)
	defer w2.Close()

	assert.Equal(t, "persisted", string(mem2.buf[:9]))
}
