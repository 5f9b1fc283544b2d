package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	entry := Entry{SourcePath: "/proj/a.py", SourceModTime: 100, VersionMagic: 42, BlobName: "abc.pyc"}
	require.NoError(t, idx.Put(entry))

	got, found, err := idx.Get("/proj/a.py")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry, got)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	_, found, err := idx.Get("/proj/nope.py")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEntryValidChecksMTimeAndVersionMagic(t *testing.T) {
	e := Entry{SourceModTime: 100, VersionMagic: 42}

	assert.True(t, e.Valid(100, 42))
	assert.False(t, e.Valid(101, 42))
	assert.False(t, e.Valid(100, 43))
}

func TestReopenIndexPersistsEntries(t *testing.T) {
	dir := t.TempDir()

	idx, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, idx.Put(Entry{SourcePath: "/proj/a.py", SourceModTime: 1, VersionMagic: 1, BlobName: "a.pyc"}))
	require.NoError(t, idx.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	_, found, err := reopened.Get("/proj/a.py")
	require.NoError(t, err)
	assert.True(t, found)
}
