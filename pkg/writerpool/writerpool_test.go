package writerpool

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sls-project/sls/pkg/backend"
	"github.com/sls-project/sls/pkg/types"
)

func TestPoolDrainsEnqueuedPages(t *testing.T) {
	b, err := backend.OpenFile(filepath.Join(t.TempDir(), "pool.dat"))
	require.NoError(t, err)
	defer b.Close()

	p := New(1, b, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	for i := 0; i < 10; i++ {
		err := p.Enqueue(types.SavedPage{
			VAddr:     uintptr(i * types.PageSize),
			Bytes:     make([]byte, types.PageSize),
			RegionIdx: i % 2,
		})
		require.NoError(t, err)
	}

	p.Shutdown()
	assert.EqualValues(t, 10, p.WrittenTotal())
	assert.EqualValues(t, 0, p.DroppedTotal())
}

func TestPoolDefaultSize(t *testing.T) {
	b, err := backend.OpenFile(filepath.Join(t.TempDir(), "pool.dat"))
	require.NoError(t, err)
	defer b.Close()

	p := New(1, b, 0)
	assert.Len(t, p.workers, DefaultPoolSize)
}

func TestPoolEnqueueAfterShutdownFails(t *testing.T) {
	b, err := backend.OpenFile(filepath.Join(t.TempDir(), "pool.dat"))
	require.NoError(t, err)
	defer b.Close()

	p := New(1, b, 1)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	p.Shutdown()
	cancel()

	err = p.Enqueue(types.SavedPage{VAddr: 0, Bytes: make([]byte, types.PageSize)})
	require.Error(t, err)
}

func TestPoolSameRegionSameWorker(t *testing.T) {
	b, err := backend.OpenFile(filepath.Join(t.TempDir(), "pool.dat"))
	require.NoError(t, err)
	defer b.Close()

	p := New(1, b, 4)
	w1 := p.workers[0%len(p.workers)]
	w2 := p.workers[0%len(p.workers)]
	assert.Same(t, w1, w2)

	// No Start call, so both pages of region 5 stay queued on worker 5%4.
	require.NoError(t, p.Enqueue(types.SavedPage{VAddr: 0, Bytes: []byte{0}, RegionIdx: 5}))
	require.NoError(t, p.Enqueue(types.SavedPage{VAddr: types.PageSize, Bytes: []byte{0}, RegionIdx: 5}))
	assert.Len(t, p.workers[5%len(p.workers)].queue, 2)
}

func TestPoolQueueFullReturnsError(t *testing.T) {
	b, err := backend.OpenFile(filepath.Join(t.TempDir(), "pool.dat"))
	require.NoError(t, err)
	defer b.Close()

	p := New(1, b, 1)
	// No Start call: nothing drains the queue, so it fills and the next
	// enqueue hits the default case.
	var firstErr error
	for i := 0; i < 1000; i++ {
		err := p.Enqueue(types.SavedPage{VAddr: uintptr(i), Bytes: []byte{0}, RegionIdx: 0})
		if err != nil {
			firstErr = err
			break
		}
	}
	require.Error(t, firstErr)
}
