package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sls-project/sls/pkg/types"
)

func TestOpenFreshStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.dat"), 1<<20)
	require.NoError(t, err)
	defer s.Close()

	assert.EqualValues(t, 0, s.Epoch())
}

func TestWriteAndReadWhole(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.dat"), 1<<20)
	require.NoError(t, err)
	defer s.Close()

	pid := s.AllocateInode(types.RecordManifest)
	require.NoError(t, s.WriteWhole(pid, []byte("manifest-bytes")))

	data, err := s.ReadWhole(pid)
	require.NoError(t, err)
	assert.Equal(t, "manifest-bytes", string(data))
}

func TestCommitAdvancesEpoch(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.dat"), 1<<20)
	require.NoError(t, err)
	defer s.Close()

	pid := s.AllocateInode(types.RecordData)
	require.NoError(t, s.WriteWhole(pid, []byte("v1")))

	epoch, err := s.Commit(1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, epoch)
	assert.EqualValues(t, 1, s.Epoch())
}

func TestCommitThenReopenPicksLatestEpoch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.dat")

	s, err := Open(path, 1<<20)
	require.NoError(t, err)

	pid := s.AllocateInode(types.RecordData)
	require.NoError(t, s.WriteWhole(pid, []byte("persisted")))
	_, err = s.Commit(1)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path, 1<<20)
	require.NoError(t, err)
	defer reopened.Close()

	assert.EqualValues(t, 1, reopened.Epoch())

	data, err := reopened.ReadWhole(pid)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(data))
}

func TestWriteBlockCOWReplacesExtent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.dat"), 1<<20)
	require.NoError(t, err)
	defer s.Close()

	pid := s.AllocateInode(types.RecordData)
	require.NoError(t, s.WriteBlock(pid, 0, []byte("first")))
	require.NoError(t, s.WriteBlock(pid, 0, []byte("second-version")))

	data, err := s.ReadBlock(pid, 0)
	require.NoError(t, err)
	assert.Equal(t, "second-version", string(data))
}

func TestMultipleCommitsRotateSlots(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.dat"), 1<<20)
	require.NoError(t, err)
	defer s.Close()

	pid := s.AllocateInode(types.RecordData)
	for i := 0; i < ringSlotCount+2; i++ {
		require.NoError(t, s.WriteBlock(pid, 0, []byte("rev")))
		_, err := s.Commit(1)
		require.NoError(t, err)
	}

	assert.EqualValues(t, ringSlotCount+2, s.Epoch())
	// Slots are written at indices 0..7, then wrap to 0 and 1.
	assert.Equal(t, (ringSlotCount+1)%ringSlotCount, s.slotIdx)
}

func TestCorruptedNewestSlotFallsBackToPriorEpoch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.dat")

	s, err := Open(path, 1<<20)
	require.NoError(t, err)

	pid := s.AllocateInode(types.RecordData)
	require.NoError(t, s.WriteWhole(pid, []byte("v1")))
	_, err = s.Commit(1)
	require.NoError(t, err)

	require.NoError(t, s.WriteBlock(pid, 0, []byte("v2")))
	epoch, err := s.Commit(1)
	require.NoError(t, err)
	require.EqualValues(t, 2, epoch)
	newestIdx := s.slotIdx
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	require.NoError(t, err)
	zeros := make([]byte, slotSize)
	_, err = f.WriteAt(zeros, int64(newestIdx*slotSize))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(path, 1<<20)
	require.NoError(t, err)
	defer reopened.Close()

	assert.EqualValues(t, 1, reopened.Epoch())

	data, err := reopened.ReadWhole(pid)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestReadUnknownInodeFails(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.dat"), 1<<20)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ReadWhole(999)
	require.Error(t, err)
}
