package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotWriter_FirstWriteAssignsSequentialCounter(t *testing.T) {
	w := NewSnapshotWriter(t.TempDir())

	p1, err := w.Write(7, 1, "https://a.test/", "hash1", "text-a")
	require.NoError(t, err)
	assert.Equal(t, "701.html", filepath.Base(p1))

	p2, err := w.Write(7, 1, "https://b.test/", "hash1", "text-b")
	require.NoError(t, err)
	assert.Equal(t, "702.html", filepath.Base(p2))

	data, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "text-a", string(data))
}

func TestSnapshotWriter_SameHashOverwritesInPlace(t *testing.T) {
	w := NewSnapshotWriter(t.TempDir())

	p1, err := w.Write(7, 1, "https://a.test/", "hash1", "first")
	require.NoError(t, err)

	p2, err := w.Write(7, 1, "https://a.test/", "hash1", "second")
	require.NoError(t, err)

	assert.Equal(t, p1, p2, "unchanged hash must reuse the same file")

	data, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestSnapshotWriter_ChangedHashBumpsRevisionSuffix(t *testing.T) {
	w := NewSnapshotWriter(t.TempDir())

	p1, err := w.Write(7, 1, "https://a.test/", "hash1", "v1 text")
	require.NoError(t, err)
	assert.Equal(t, "701.html", filepath.Base(p1))

	p2, err := w.Write(7, 1, "https://a.test/", "hash2", "v2 text")
	require.NoError(t, err)
	assert.Equal(t, "701-1.html", filepath.Base(p2))

	// the prior snapshot is preserved, not overwritten
	data, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "v1 text", string(data))
}

func TestSnapshotWriter_DistinctSitesGetDistinctFolders(t *testing.T) {
	w := NewSnapshotWriter(t.TempDir())

	p1, err := w.Write(7, 1, "https://a.test/", "hash1", "site one")
	require.NoError(t, err)
	p2, err := w.Write(7, 2, "https://a.test/", "hash1", "site two")
	require.NoError(t, err)

	assert.NotEqual(t, filepath.Dir(p1), filepath.Dir(p2))
}
