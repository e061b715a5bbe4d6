package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sls-project/sls/pkg/hostproc"
	"github.com/sls-project/sls/pkg/types"
)

func newTestHost(pid int) *hostproc.FakeHost {
	h := hostproc.NewFakeHost()
	region := types.RegionDescriptor{Start: 0, End: types.PageSize * 2, Protection: 0x1}
	h.AddProcess(pid, &hostproc.FakeProcess{
		Regions: []types.RegionDescriptor{region},
		Pages: map[uintptr][]byte{
			0:                make([]byte, types.PageSize),
			types.PageSize:   make([]byte, types.PageSize),
		},
		Threads: []int{pid, pid + 1},
	})
	return h
}

func TestCaptureLeavesProcessResumed(t *testing.T) {
	h := hostproc.NewFakeHost()
	proc := &hostproc.FakeProcess{
		Regions: []types.RegionDescriptor{{Start: 0, End: types.PageSize * 2, Protection: 0x1}},
		Pages: map[uintptr][]byte{
			0:              make([]byte, types.PageSize),
			types.PageSize: make([]byte, types.PageSize),
		},
		Threads: []int{100, 101},
	}
	h.AddProcess(100, proc)
	c := New(h)

	result, err := c.Capture(context.Background(), 100, types.ModeFull, 1)
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.False(t, proc.Stopped, "Capture must signal CONT after capturing")

	p, _ := h.Regions(context.Background(), 100)
	assert.NotEmpty(t, p)
}

func TestCaptureCollectsAllResidentPages(t *testing.T) {
	h := newTestHost(100)
	c := New(h)

	result, err := c.Capture(context.Background(), 100, types.ModeFull, 5)
	require.NoError(t, err)
	assert.Len(t, result.Pages, 2)
	for _, p := range result.Pages {
		assert.EqualValues(t, 5, p.Epoch)
	}
}

// TestCaptureDeltaDiffsAgainstPriorEpoch exercises the two-epoch delta
// scenario: a DELTA capture before any page was ever cleared reports
// every resident page (soft-dirty's default-dirty state for memory that
// has never been through ClearDirty), then after ClearDirty only a
// single written page is reported dirty on the next DELTA capture.
func TestCaptureDeltaDiffsAgainstPriorEpoch(t *testing.T) {
	pid := 300
	h := hostproc.NewFakeHost()
	region := types.RegionDescriptor{Start: 0, End: types.PageSize * 16, Protection: 0x1}
	pages := make(map[uintptr][]byte)
	for i := 0; i < 16; i++ {
		pages[uintptr(i)*types.PageSize] = make([]byte, types.PageSize)
	}
	h.AddProcess(pid, &hostproc.FakeProcess{
		Regions: []types.RegionDescriptor{region},
		Pages:   pages,
		Threads: []int{pid},
	})

	c := New(h)

	first, err := c.Capture(context.Background(), pid, types.ModeDelta, 1)
	require.NoError(t, err)
	assert.Len(t, first.Pages, 16)

	h.MarkDirty(pid, 7*types.PageSize)

	second, err := c.Capture(context.Background(), pid, types.ModeDelta, 2)
	require.NoError(t, err)
	require.Len(t, second.Pages, 1)
	assert.EqualValues(t, 7*types.PageSize, second.Pages[0].VAddr)
	assert.EqualValues(t, 2, second.Pages[0].Epoch)
}

func TestCaptureProcessStateCapturesThreads(t *testing.T) {
	h := newTestHost(100)
	c := New(h)

	result, err := c.Capture(context.Background(), 100, types.ModeFull, 1)
	require.NoError(t, err)
	assert.Len(t, result.Snapshot.Threads, 2)
	assert.Equal(t, 2, result.Snapshot.Process.ThreadCount)
}

func TestCaptureSkipsSubmapRegions(t *testing.T) {
	h := hostproc.NewFakeHost()
	submap := types.RegionDescriptor{Start: 0, End: types.PageSize, IsSubmap: true}
	h.AddProcess(200, &hostproc.FakeProcess{
		Regions: []types.RegionDescriptor{submap},
		Pages:   map[uintptr][]byte{0: make([]byte, types.PageSize)},
	})

	c := New(h)
	result, err := c.Capture(context.Background(), 200, types.ModeFull, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Pages)
	assert.Len(t, result.Snapshot.Regions, 1)
}
