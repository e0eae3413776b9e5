package chunkstore

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadDeleteChunk(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	data := []byte("hello chunk")
	require.NoError(t, s.WriteChunk("owner-1", "file-1", 0, data))

	got, err := s.ReadChunk("owner-1", "file-1", 0)
	require.NoError(t, err)
	require.Equal(t, data, got)

	require.NoError(t, s.ValidateChunk("owner-1", "file-1", 0, sha256.Sum256(data)))

	require.NoError(t, s.DeleteChunk("owner-1", "file-1", 0))
	require.NoError(t, s.DeleteChunk("owner-1", "file-1", 0)) // idempotent

	_, err = s.ReadChunk("owner-1", "file-1", 0)
	require.Error(t, err)
}

func TestValidateChunkDetectsCorruption(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.WriteChunk("owner-1", "file-1", 2, []byte("original")))

	err = s.ValidateChunk("owner-1", "file-1", 2, sha256.Sum256([]byte("different")))
	require.Error(t, err)
}

func TestDeleteFileChunksRemovesEntireSubtree(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	require.NoError(t, s.WriteChunk("owner-1", "file-1", 0, []byte("a")))
	require.NoError(t, s.WriteChunk("owner-1", "file-1", 1, []byte("b")))
	require.NoError(t, s.WriteMetadata("owner-1", "file-1", map[string]string{"x": "y"}))

	require.NoError(t, s.DeleteFileChunks("owner-1", "file-1"))

	_, err = os.Stat(filepath.Join(root, "chunks", "owner-1", "file-1"))
	require.True(t, os.IsNotExist(err))

	// Deleting again is a no-op.
	require.NoError(t, s.DeleteFileChunks("owner-1", "file-1"))
}

func TestListChunkIndices(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	for _, idx := range []int{0, 1, 5} {
		require.NoError(t, s.WriteChunk("owner-1", "file-1", idx, []byte("x")))
	}
	indices, err := s.ListChunkIndices("owner-1", "file-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []int{0, 1, 5}, indices)
}

func TestMetadataRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	type meta struct {
		Name string `json:"name"`
		Size int    `json:"size"`
	}
	want := meta{Name: "report.pdf", Size: 1024}
	require.NoError(t, s.WriteMetadata("owner-1", "file-1", want))

	var got meta
	require.NoError(t, s.ReadMetadata("owner-1", "file-1", &got))
	require.Equal(t, want, got)
}
