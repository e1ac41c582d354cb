package manifest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/chunk"
	"github.com/hupe1980/maxsim/codec"
)

func validMetadata() *Metadata {
	return &Metadata{
		FormatVersion: MetadataVersion,
		Version:       1,
		Config: IndexConfig{
			Dim:          8,
			NBits:        2,
			NumCentroids: 4,
			ChunkSize:    2,
		},
		NumChunks:     2,
		NumDocs:       3,
		NumEmbeddings: 6,
		AvgResidual:   0.1,
		Chunks: []chunk.Info{
			{ID: 0, FirstDocID: 0, FirstEmbeddingID: 0, NumDocs: 2, NumEmbeddings: 5},
			{ID: 1, FirstDocID: 2, FirstEmbeddingID: 5, NumDocs: 1, NumEmbeddings: 1},
		},
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	m := validMetadata()
	require.NoError(t, Save(ctx, store, nil, m))

	current, err := blobstore.ReadAll(ctx, store, CurrentName)
	require.NoError(t, err)
	assert.Equal(t, Name(1), string(current))

	loaded, err := Load(ctx, store)
	require.NoError(t, err)

	assert.Equal(t, m.Version, loaded.Version)
	assert.Equal(t, codec.Default.Name(), loaded.Codec)
	assert.Equal(t, m.Config, loaded.Config)
	assert.Equal(t, m.NumChunks, loaded.NumChunks)
	assert.Equal(t, m.NumDocs, loaded.NumDocs)
	assert.Equal(t, m.NumEmbeddings, loaded.NumEmbeddings)
	assert.InDelta(t, m.AvgResidual, loaded.AvgResidual, 1e-6)
	assert.Equal(t, m.Chunks, loaded.Chunks)
	assert.True(t, loaded.CreatedAt.Equal(m.CreatedAt), "created_at round trip")
}

func TestSave_NewGenerationMovesCurrent(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	m1 := validMetadata()
	require.NoError(t, Save(ctx, store, nil, m1))

	m2 := validMetadata()
	m2.Version = 2
	require.NoError(t, Save(ctx, store, nil, m2))

	loaded, err := Load(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.Version)

	// Both generations remain readable by name.
	old, err := LoadNamed(ctx, store, Name(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), old.Version)
}

func TestSave_RejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	m := validMetadata()
	m.Chunks[1].FirstEmbeddingID = 4

	require.Error(t, Save(ctx, store, nil, m))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names, "nothing may be written for an invalid manifest")
}

func TestLoad_MissingCurrent(t *testing.T) {
	_, err := Load(context.Background(), blobstore.NewMemoryStore())
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestLoad_CodecByName(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	m := validMetadata()
	require.NoError(t, Save(ctx, store, codec.JSON{}, m))

	loaded, err := Load(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "json", loaded.Codec)
	assert.Equal(t, m.Config, loaded.Config)
}

func TestLoad_UnknownCodec(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	m := validMetadata()
	require.NoError(t, Save(ctx, store, nil, m))

	data, err := blobstore.ReadAll(ctx, store, Name(1))
	require.NoError(t, err)

	patched := strings.Replace(string(data), `"`+codec.Default.Name()+`"`, `"cbor"`, 1)
	require.NotEqual(t, string(data), patched)
	require.NoError(t, store.Put(ctx, Name(1), []byte(patched)))

	_, err = Load(ctx, store)
	require.ErrorContains(t, err, "unknown codec")
}

func TestNextVersion(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	v, err := NextVersion(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	require.NoError(t, store.Put(ctx, Name(1), []byte("{}")))
	require.NoError(t, store.Put(ctx, Name(3), []byte("{}")))
	require.NoError(t, store.Put(ctx, "manifest-garbage.json", []byte("{}")))

	v, err = NextVersion(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), v)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Metadata)
	}{
		{name: "FormatVersion", mutate: func(m *Metadata) { m.FormatVersion = 99 }},
		{name: "ZeroGeneration", mutate: func(m *Metadata) { m.Version = 0 }},
		{name: "BadShape", mutate: func(m *Metadata) { m.Config.Dim = 5 }},
		{name: "ZeroCentroids", mutate: func(m *Metadata) { m.Config.NumCentroids = 0 }},
		{name: "ZeroChunkSize", mutate: func(m *Metadata) { m.Config.ChunkSize = 0 }},
		{name: "ChunkCountMismatch", mutate: func(m *Metadata) { m.NumChunks = 3 }},
		{name: "NoChunks", mutate: func(m *Metadata) { m.NumChunks = 0; m.Chunks = nil; m.NumDocs = 0; m.NumEmbeddings = 0 }},
		{name: "ChunkIDGap", mutate: func(m *Metadata) { m.Chunks[1].ID = 2 }},
		{name: "EmptyChunk", mutate: func(m *Metadata) { m.Chunks[1].NumDocs = 0 }},
		{name: "ConcatenationBreak", mutate: func(m *Metadata) { m.Chunks[1].FirstDocID = 1 }},
		{name: "DocTotalMismatch", mutate: func(m *Metadata) { m.NumDocs = 4 }},
		{name: "EmbeddingTotalMismatch", mutate: func(m *Metadata) { m.NumEmbeddings = 7 }},
		{name: "NegativeAvgResidual", mutate: func(m *Metadata) { m.AvgResidual = -0.1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validMetadata()
			tc.mutate(m)
			assert.Error(t, m.Validate())
		})
	}

	assert.NoError(t, validMetadata().Validate())
}

func TestName(t *testing.T) {
	assert.Equal(t, "manifest-000012.json", Name(12))

	v, ok := parseVersion("manifest-000012.json")
	require.True(t, ok)
	assert.Equal(t, uint64(12), v)

	_, ok = parseVersion("manifest-garbage.json")
	assert.False(t, ok)
}

func TestCreatedAtDefault(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	m := validMetadata()
	require.True(t, m.CreatedAt.IsZero())

	before := time.Now().Add(-time.Second)
	require.NoError(t, Save(ctx, store, nil, m))

	assert.False(t, m.CreatedAt.IsZero())
	assert.True(t, m.CreatedAt.After(before))
}
