package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sls-project/sls/pkg/types"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegistryPutGet(t *testing.T) {
	r := openTestRegistry(t)

	p := &types.Partition{
		OID: 7,
		Config: types.PartitionConfig{
			Target: types.BackendStore,
			Mode:   types.ModeDelta,
		},
		Epoch: 3,
	}

	require.NoError(t, r.Put(p))

	got, err := r.Get(7)
	require.NoError(t, err)
	require.Equal(t, p.OID, got.OID)
	require.Equal(t, p.Config.Target, got.Config.Target)
	require.Equal(t, p.Epoch, got.Epoch)
}

func TestRegistryGetMissing(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Get(99)
	require.Error(t, err)
}

func TestRegistryList(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.Put(&types.Partition{OID: 1}))
	require.NoError(t, r.Put(&types.Partition{OID: 2}))

	list, err := r.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestRegistryDelete(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.Put(&types.Partition{OID: 5}))
	require.NoError(t, r.Delete(5))

	_, err := r.Get(5)
	require.Error(t, err)
}

func TestRegistryPutOverwrites(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.Put(&types.Partition{OID: 1, Epoch: 1}))
	require.NoError(t, r.Put(&types.Partition{OID: 1, Epoch: 2}))

	got, err := r.Get(1)
	require.NoError(t, err)
	require.Equal(t, types.Epoch(2), got.Epoch)
}
