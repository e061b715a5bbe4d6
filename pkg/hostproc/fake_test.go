package hostproc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sls-project/sls/pkg/types"
)

func TestFakeHostStopContinue(t *testing.T) {
	h := NewFakeHost()
	h.AddProcess(100, &FakeProcess{})
	ctx := context.Background()

	require.NoError(t, h.Stop(ctx, 100))
	p, _ := h.get(100)
	assert.True(t, p.Stopped)

	require.NoError(t, h.Continue(ctx, 100))
	assert.False(t, p.Stopped)
}

func TestFakeHostReadPages(t *testing.T) {
	h := NewFakeHost()
	region := types.RegionDescriptor{Start: 0, End: types.PageSize * 2}
	h.AddProcess(100, &FakeProcess{
		Regions: []types.RegionDescriptor{region},
		Pages: map[uintptr][]byte{
			0:                make([]byte, types.PageSize),
			types.PageSize:   make([]byte, types.PageSize),
		},
	})

	pages, err := h.ReadPages(context.Background(), 100, region)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestFakeHostUnknownPID(t *testing.T) {
	h := NewFakeHost()
	regions, err := h.Regions(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, regions)
}

func TestSourcePages(t *testing.T) {
	h := NewFakeHost()
	region := types.RegionDescriptor{Start: 0, End: types.PageSize}
	h.AddProcess(100, &FakeProcess{
		Regions: []types.RegionDescriptor{region},
		Pages:   map[uintptr][]byte{0: make([]byte, types.PageSize)},
	})

	src := Source{Host: h, PID: 100, Ctx: context.Background()}
	pages, err := src.Pages(region)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}
