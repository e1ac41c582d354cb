package indexer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/chunk"
	"github.com/hupe1980/maxsim/core"
	"github.com/hupe1980/maxsim/index"
	"github.com/hupe1980/maxsim/manifest"
	"github.com/hupe1980/maxsim/quantization"
	"github.com/hupe1980/maxsim/resource"
	"github.com/hupe1980/maxsim/searcher"
	"github.com/hupe1980/maxsim/testutil"
)

// flakyEncoder fails every encode once the call counter passes failAfter.
type flakyEncoder struct {
	*testutil.HashEncoder

	calls     atomic.Int64
	failAfter int64
}

func (e *flakyEncoder) EncodeDoc(ctx context.Context, text string) ([][]float32, error) {
	if e.calls.Add(1) > e.failAfter {
		return nil, errors.New("boom")
	}

	return e.HashEncoder.EncodeDoc(ctx, text)
}

func TestNew_Validation(t *testing.T) {
	store := blobstore.NewMemoryStore()
	enc := testutil.NewHashEncoder(4)

	_, err := New(nil, enc)
	require.Error(t, err)

	_, err = New(store, nil)
	require.Error(t, err)

	_, err = New(store, enc, WithNBits(3))
	require.ErrorIs(t, err, quantization.ErrInvalidDimension)

	_, err = New(store, enc, WithNBits(9))
	require.ErrorIs(t, err, quantization.ErrInvalidNBits)

	_, err = New(store, enc, WithChunkSize(0))
	require.Error(t, err)

	_, err = New(store, testutil.NewHashEncoder(0))
	require.ErrorIs(t, err, quantization.ErrInvalidDimension)
}

func TestRun_Scenario(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	coll := SliceCollection{
		"alpha beta",
		"gamma delta epsilon",
		"zeta",
	}

	ix, err := New(store, testutil.NewHashEncoder(4),
		WithNumCentroids(2),
		WithChunkSize(2),
		WithSeed(7))
	require.NoError(t, err)

	m, err := ix.Run(ctx, coll)
	require.NoError(t, err)

	require.Equal(t, uint64(1), m.Version)
	require.Equal(t, int64(3), m.NumDocs)
	require.Equal(t, int64(6), m.NumEmbeddings)
	require.Equal(t, 2, m.NumChunks)
	require.Equal(t, manifest.IndexConfig{Dim: 4, NBits: 2, NumCentroids: 2, ChunkSize: 2}, m.Config)

	require.Equal(t, []chunk.Info{
		{ID: 0, FirstDocID: 0, FirstEmbeddingID: 0, NumDocs: 2, NumEmbeddings: 5},
		{ID: 1, FirstDocID: 2, FirstEmbeddingID: 5, NumDocs: 1, NumEmbeddings: 1},
	}, m.Chunks)

	loaded, err := index.Load(ctx, store)
	require.NoError(t, err)

	t.Cleanup(func() { _ = loaded.Close() })

	require.Equal(t, int64(3), loaded.NumDocs())
	require.Equal(t, int64(6), loaded.NumEmbeddings())
	require.Equal(t, 6, loaded.IVF().NumEmbeddings())
	require.Equal(t, 2, loaded.IVF().NumCentroids())
}

func TestRun_EndToEndSearch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	enc := testutil.NewHashEncoder(16)

	coll := SliceCollection{
		"amber circuit relay",
		"solar wind plasma stream",
		"granite fjord",
		"copper lattice phonon",
		"amber relay",
	}

	ix, err := New(store, enc,
		WithNumCentroids(4),
		WithChunkSize(2),
		WithSeed(3))
	require.NoError(t, err)

	_, err = ix.Run(ctx, coll)
	require.NoError(t, err)

	loaded, err := index.Load(ctx, store)
	require.NoError(t, err)

	t.Cleanup(func() { _ = loaded.Close() })

	tokens, err := enc.EncodeQuery(ctx, "solar wind")
	require.NoError(t, err)

	query := make([]float32, 0, len(tokens)*enc.Dim())
	for _, tok := range tokens {
		query = append(query, tok...)
	}

	res, err := searcher.New(loaded).Search(ctx, query, 3)
	require.NoError(t, err)

	require.NotEmpty(t, res)
	require.Equal(t, core.DocID(1), res[0].Doc)
}

func TestRun_EmptyCollection(t *testing.T) {
	store := blobstore.NewMemoryStore()

	ix, err := New(store, testutil.NewHashEncoder(4))
	require.NoError(t, err)

	_, err = ix.Run(context.Background(), SliceCollection{})
	require.ErrorIs(t, err, ErrEmptyCollection)

	_, err = ix.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyCollection)
}

func TestRun_EmptyDocument(t *testing.T) {
	store := blobstore.NewMemoryStore()

	ix, err := New(store, testutil.NewHashEncoder(4), WithSeed(1))
	require.NoError(t, err)

	_, err = ix.Run(context.Background(), SliceCollection{"alpha beta", "", "gamma"})
	require.ErrorIs(t, err, ErrEmptyDocument)
	require.ErrorContains(t, err, "doc 1")
}

func TestRun_EncodeFailureLeavesNoManifest(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	// Three sampling encodes succeed, the first chunk encode fails.
	enc := &flakyEncoder{HashEncoder: testutil.NewHashEncoder(8), failAfter: 3}

	ix, err := New(store, enc,
		WithNumCentroids(2),
		WithChunkSize(2),
		WithSeed(5),
		WithMaxWorkers(1))
	require.NoError(t, err)

	_, err = ix.Run(ctx, SliceCollection{"alpha beta", "gamma delta", "epsilon"})
	require.Error(t, err)
	require.ErrorContains(t, err, "chunk 0")
	require.ErrorContains(t, err, "boom")

	_, err = manifest.Load(ctx, store)
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestRun_Deterministic(t *testing.T) {
	ctx := context.Background()
	coll := SliceCollection(testutil.NewRNG(11).Corpus(10, 2, 5, 30))

	build := func() (*manifest.Metadata, blobstore.Store) {
		store := blobstore.NewMemoryStore()

		ix, err := New(store, testutil.NewHashEncoder(8),
			WithNumCentroids(4),
			WithChunkSize(3),
			WithSeed(42))
		require.NoError(t, err)

		m, err := ix.Run(ctx, coll)
		require.NoError(t, err)

		return m, store
	}

	m1, s1 := build()
	m2, s2 := build()

	require.Equal(t, m1.Chunks, m2.Chunks)
	require.Equal(t, m1.NumEmbeddings, m2.NumEmbeddings)
	require.Equal(t, m1.Config, m2.Config)

	for id := 0; id < m1.NumChunks; id++ {
		r1, err := chunk.Open(ctx, s1, id)
		require.NoError(t, err)

		r2, err := chunk.Open(ctx, s2, id)
		require.NoError(t, err)

		c1, err := r1.Codes(ctx)
		require.NoError(t, err)

		c2, err := r2.Codes(ctx)
		require.NoError(t, err)

		require.Equal(t, c1, c2)

		require.NoError(t, r1.Close())
		require.NoError(t, r2.Close())
	}
}

func TestRun_NewGeneration(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	coll := SliceCollection{"alpha beta", "gamma delta", "epsilon"}

	ix, err := New(store, testutil.NewHashEncoder(4),
		WithNumCentroids(2),
		WithChunkSize(2),
		WithSeed(7))
	require.NoError(t, err)

	m1, err := ix.Run(ctx, coll)
	require.NoError(t, err)
	require.Equal(t, uint64(1), m1.Version)

	m2, err := ix.Run(ctx, coll)
	require.NoError(t, err)
	require.Equal(t, uint64(2), m2.Version)

	current, err := manifest.Load(ctx, store)
	require.NoError(t, err)
	require.Equal(t, uint64(2), current.Version)
}

func TestRun_WithResourceController(t *testing.T) {
	ctx := context.Background()
	coll := SliceCollection(testutil.NewRNG(13).Corpus(8, 2, 4, 20))

	plain := blobstore.NewMemoryStore()

	ix, err := New(plain, testutil.NewHashEncoder(8),
		WithNumCentroids(4),
		WithChunkSize(3),
		WithSeed(21))
	require.NoError(t, err)

	want, err := ix.Run(ctx, coll)
	require.NoError(t, err)

	governed := blobstore.NewMemoryStore()

	rc := resource.NewController(resource.Config{
		MaxBuildWorkers:    2,
		IOLimitBytesPerSec: 1 << 20,
	})

	ix, err = New(governed, testutil.NewHashEncoder(8),
		WithNumCentroids(4),
		WithChunkSize(3),
		WithSeed(21),
		WithResourceController(rc))
	require.NoError(t, err)

	got, err := ix.Run(ctx, coll)
	require.NoError(t, err)

	// Admission must not change what gets built.
	require.Equal(t, want.Chunks, got.Chunks)
	require.Equal(t, want.NumEmbeddings, got.NumEmbeddings)
}

func TestSliceCollection(t *testing.T) {
	coll := SliceCollection{"one", "two"}

	require.Equal(t, 2, coll.Len())

	text, err := coll.Doc(1)
	require.NoError(t, err)
	require.Equal(t, "two", text)

	_, err = coll.Doc(2)
	require.Error(t, err)

	_, err = coll.Doc(-1)
	require.Error(t, err)
}
