package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("client went away") }

func TestLocalStoragePutOpenDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	obj, err := store.Put(ctx, "reports/r-1/a.txt", strings.NewReader("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "reports/r-1/a.txt", obj.Key)
	assert.Equal(t, int64(5), obj.Size)
	assert.Len(t, obj.Checksum, 64)

	rc, err := store.Open(ctx, obj.Key)
	require.NoError(t, err)
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(raw))

	require.NoError(t, store.Delete(ctx, obj.Key))
	_, err = store.Open(ctx, obj.Key)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, statErr := os.Stat(filepath.Dir(store.Path(obj.Key)))
	assert.True(t, os.IsNotExist(statErr), "empty report directory should be pruned")
}

func TestLocalStorageDeleteMissingIsNoop(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Delete(context.Background(), "reports/none/missing.bin"))
}

func TestLocalStoragePutFailureLeavesNothing(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "reports/r-1/broken.bin", failingReader{}, "")
	require.Error(t, err)
	_, statErr := os.Stat(store.Path("reports/r-1/broken.bin"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCleanKeyRejectsTraversal(t *testing.T) {
	_, err := CleanKey("../etc/passwd")
	assert.Error(t, err)
	_, err = CleanKey("  ")
	assert.Error(t, err)

	key, err := CleanKey("/reports\\r-1//x.png")
	require.NoError(t, err)
	assert.Equal(t, "reports/r-1/x.png", key)
}
