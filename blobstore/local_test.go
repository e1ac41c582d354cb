package blobstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Store    = (*LocalStore)(nil)
	_ Store    = (*MemoryStore)(nil)
	_ Store    = (*CachingStore)(nil)
	_ Mappable = (*localBlob)(nil)
)

func TestLocalStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)

	ctx := context.Background()

	// 1. Create a blob
	blobName := "chunks/0.codes"
	data := []byte("hello world, this is a test blob for the index")

	w, err := store.Create(ctx, blobName)
	require.NoError(t, err)

	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	err = w.Close()
	require.NoError(t, err)

	// Verify file exists on disk
	expectedPath := filepath.Join(tmpDir, "chunks", "0.codes")
	_, err = os.Stat(expectedPath)
	require.NoError(t, err)

	// 2. Open and ReadAt
	blob, err := store.Open(ctx, blobName)
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err = blob.ReadAt(ctx, buf, 6) // "world"
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	// 3. ReadRange
	rangeReader, err := blob.ReadRange(ctx, 13, 4) // "this"
	require.NoError(t, err)
	defer rangeReader.Close()

	rangeContent, err := io.ReadAll(rangeReader)
	require.NoError(t, err)
	require.Equal(t, "this", string(rangeContent))

	// 4. Exists and List
	ok, err := store.Exists(ctx, blobName)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Exists(ctx, "chunks/1.codes")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Put(ctx, "chunks/1.codes", []byte("x")))

	blobs, err := store.List(ctx, "chunks/")
	require.NoError(t, err)
	require.Equal(t, []string{"chunks/0.codes", "chunks/1.codes"}, blobs)

	// 5. Delete
	err = store.Delete(ctx, blobName)
	require.NoError(t, err)

	blobsAfter, err := store.List(ctx, "chunks/")
	require.NoError(t, err)
	require.Equal(t, []string{"chunks/1.codes"}, blobsAfter)

	_, err = store.Open(ctx, blobName)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing blob is not an error.
	require.NoError(t, store.Delete(ctx, blobName))
}

func TestLocalStore_CreateInvisibleUntilClose(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	w, err := store.Create(ctx, "ivf.bin")
	require.NoError(t, err)

	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	ok, err := store.Exists(ctx, "ivf.bin")
	require.NoError(t, err)
	assert.False(t, ok, "blob must stay invisible before Close")

	require.NoError(t, w.Close())

	ok, err = store.Exists(ctx, "ivf.bin")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := ReadAll(ctx, store, "ivf.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("partial"), data)
}

func TestLocalStore_ReadRange_Boundaries(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	blobName := "boundary.bin"
	data := []byte("0123456789")
	require.NoError(t, store.Put(ctx, blobName, data))

	blob, err := store.Open(ctx, blobName)
	require.NoError(t, err)
	defer blob.Close()

	// Case 1: Read full range
	r, err := blob.ReadRange(ctx, 0, 10)
	require.NoError(t, err)
	content, _ := io.ReadAll(r)
	r.Close()
	require.True(t, bytes.Equal(data, content))

	// Case 2: Read past end
	r, err = blob.ReadRange(ctx, 8, 5)
	require.NoError(t, err)
	content, err = io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "89", string(content))
	r.Close()

	// Case 3: Offset past EOF
	r, err = blob.ReadRange(ctx, 20, 5)
	require.ErrorIs(t, err, io.EOF)
	if r != nil {
		r.Close()
	}
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte("abcdefgh")
	require.NoError(t, store.Put(ctx, "manifest.json", data))

	// Mutating the caller's slice must not affect the stored blob.
	data[0] = 'Z'

	got, err := ReadAll(ctx, store, "manifest.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdefgh"), got)

	blob, err := store.Open(ctx, "manifest.json")
	require.NoError(t, err)
	defer blob.Close()

	buf := make([]byte, 3)
	n, err := blob.ReadAt(ctx, buf, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "fgh", string(buf))

	// Short read at EOF
	n, err = blob.ReadAt(ctx, buf, 6)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)

	names, err := store.List(ctx, "mani")
	require.NoError(t, err)
	assert.Equal(t, []string{"manifest.json"}, names)

	ok, err := store.Exists(ctx, "manifest.json")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "manifest.json"))

	_, err = store.Open(ctx, "manifest.json")
	assert.ErrorIs(t, err, ErrNotFound)
}
