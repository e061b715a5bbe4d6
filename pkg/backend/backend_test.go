package backend

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sls-project/sls/pkg/types"
)

func TestFileBackendWriteAdvancesCursor(t *testing.T) {
	fb, err := OpenFile(filepath.Join(t.TempDir(), "backend.dat"))
	require.NoError(t, err)
	defer fb.Close()

	n, err := fb.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.EqualValues(t, 5, fb.Cursor())

	n, err = fb.Write([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.EqualValues(t, 10, fb.Cursor())
}

func TestFileBackendWriteAtDoesNotAdvanceCursor(t *testing.T) {
	fb, err := OpenFile(filepath.Join(t.TempDir(), "backend.dat"))
	require.NoError(t, err)
	defer fb.Close()

	_, err = fb.WriteAt([]byte("x"), 100)
	require.NoError(t, err)
	assert.EqualValues(t, 0, fb.Cursor())
}

func TestPMBackendOverflow(t *testing.T) {
	pm := NewPMRegion(8)

	_, err := pm.Write([]byte("1234"))
	require.NoError(t, err)
	assert.EqualValues(t, 4, pm.Cursor())

	_, err = pm.Write([]byte("12345"))
	require.Error(t, err)
}

func TestPMBackendWriteAtPastEndFails(t *testing.T) {
	pm := NewPMRegion(16)

	_, err := pm.Write([]byte("abcd"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = pm.WriteAt(buf, 100)
	require.Error(t, err)
}

func TestOpenUnknownKind(t *testing.T) {
	_, err := Open(types.BackendStore, "", 0)
	require.Error(t, err)
}

func TestOpenFileKind(t *testing.T) {
	b, err := Open(types.BackendFile, filepath.Join(t.TempDir(), "backend.dat"), 0)
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &FileBackend{}, b)
}

func TestOpenPMKind(t *testing.T) {
	b, err := Open(types.BackendPM, "", 4096)
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &PMBackend{}, b)
}
