package s3

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_S3Store(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("Skipping S3 integration test: S3_BUCKET not set")
	}

	ctx := context.Background()

	// Unique prefix per run so parallel CI jobs cannot collide.
	prefix := fmt.Sprintf("test-maxsim-%d", time.Now().UnixNano())

	store, err := New(ctx, bucket, WithPrefix(prefix))
	require.NoError(t, err)

	t.Run("Create and Read", func(t *testing.T) {
		name := "chunks/0.residuals"
		data := make([]byte, 1024*1024) // 1MB
		_, _ = rand.Read(data)

		w, err := store.Create(ctx, name)
		require.NoError(t, err)

		n, err := w.Write(data)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)
		require.NoError(t, w.Close())

		blobs, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, blobs, name)

		ok, err := store.Exists(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok)

		r, err := store.Open(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), r.Size())

		buf := make([]byte, 100)
		n2, err := r.ReadAt(ctx, buf, 0)
		require.NoError(t, err)
		assert.Equal(t, 100, n2)
		assert.Equal(t, data[:100], buf)

		n3, err := r.ReadAt(ctx, buf, 1024)
		require.NoError(t, err)
		assert.Equal(t, 100, n3)
		assert.Equal(t, data[1024:1124], buf)

		rc, err := r.ReadRange(ctx, 4096, 256)
		require.NoError(t, err)

		ranged, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, data[4096:4352], ranged)

		require.NoError(t, store.Delete(ctx, name))
		require.NoError(t, r.Close())
	})

	t.Run("Put and ReadAll", func(t *testing.T) {
		name := "manifest-000001.json"
		payload := []byte(`{"num_chunks":3}`)

		require.NoError(t, store.Put(ctx, name, payload))

		got, err := blobstore.ReadAll(ctx, store, name)
		require.NoError(t, err)
		assert.Equal(t, payload, got)

		require.NoError(t, store.Delete(ctx, name))
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := store.Open(ctx, "nonexistent")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)

		ok, err := store.Exists(ctx, "nonexistent")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
