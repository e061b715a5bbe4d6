package restore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sls-project/sls/pkg/pageindex"
	"github.com/sls-project/sls/pkg/types"
)

func testSnapshot() types.SnapshotDescriptor {
	region := types.RegionDescriptor{Start: 0, End: types.PageSize * 2, Protection: 0x3}
	submap := types.RegionDescriptor{Start: types.PageSize * 2, End: types.PageSize * 3, IsSubmap: true}
	return types.SnapshotDescriptor{
		Magic:   types.MagicDump,
		Process: types.ProcessDescriptor{Magic: types.MagicProcess, PID: 100, ThreadCount: 2},
		Threads: []types.ThreadDescriptor{
			{Magic: types.MagicThread, ThreadID: 100},
			{Magic: types.MagicThread, ThreadID: 101},
		},
		VMSpace: types.AddressSpaceDescriptor{Magic: types.MagicVMSpace, RegionCount: 2},
		Regions: []types.RegionDescriptor{region, submap},
		Epoch:   3,
		Mode:    types.ModeFull,
	}
}

func testIndex() *pageindex.Index {
	idx := pageindex.New(2)
	idx.InsertIfAbsent(types.SavedPage{VAddr: 0, Bytes: []byte("page0"), Epoch: 3})
	idx.InsertIfAbsent(types.SavedPage{VAddr: types.PageSize, Bytes: []byte("page1"), Epoch: 3})
	return idx
}

func TestRestoreRebuildsAddressSpace(t *testing.T) {
	target := &FakeTarget{}
	r := New(target)

	err := r.Restore(context.Background(), 100, testSnapshot(), testIndex())
	require.NoError(t, err)

	assert.True(t, target.TornDown)
	assert.Len(t, target.MappedRegions, 1, "submap region must not be mapped as a page-bearing region")
	assert.Len(t, target.Pages, 2)
	assert.False(t, target.Killed)
}

func TestRestoreSkipsSubmapPages(t *testing.T) {
	target := &FakeTarget{}
	r := New(target)

	require.NoError(t, r.Restore(context.Background(), 100, testSnapshot(), testIndex()))

	for vaddr := range target.Pages {
		assert.Less(t, vaddr, uintptr(types.PageSize*2))
	}
}

func TestRestoreSetsThreadsWithoutForcingIDs(t *testing.T) {
	target := &FakeTarget{}
	r := New(target)
	snapshot := testSnapshot()

	require.NoError(t, r.Restore(context.Background(), 999, snapshot, testIndex()))

	assert.Equal(t, 2, target.ThreadCount)
	require.Len(t, target.ThreadStates, 2)
	assert.Equal(t, 100, target.ThreadStates[0].ThreadID)
	assert.Equal(t, 101, target.ThreadStates[1].ThreadID)
}

func TestRestoreKillsTargetOnFailure(t *testing.T) {
	target := &FakeTarget{FailOn: "MapRegion"}
	r := New(target)

	err := r.Restore(context.Background(), 100, testSnapshot(), testIndex())
	require.Error(t, err)
	assert.True(t, target.Killed)
}

func TestRestoreMissingPageLeavesRegionUnwritten(t *testing.T) {
	target := &FakeTarget{}
	r := New(target)
	idx := pageindex.New(1)

	require.NoError(t, r.Restore(context.Background(), 100, testSnapshot(), idx))
	assert.Empty(t, target.Pages)
}
