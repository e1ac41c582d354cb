package testutil

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/maxsim/internal/math32"
)

func TestRNG_ResetReplays(t *testing.T) {
	r := NewRNG(42)

	first := r.UnitVectors(4, 8)
	r.Reset()

	assert.Equal(t, first, r.UnitVectors(4, 8))
	assert.Equal(t, int64(42), r.Seed())
}

func TestUnitVectors_Normalized(t *testing.T) {
	r := NewRNG(1)

	data := r.UnitVectors(16, 32)
	require.Len(t, data, 16*32)

	for i := 0; i < 16; i++ {
		norm := math32.Norm(data[i*32 : (i+1)*32])
		assert.InDelta(t, 1.0, norm, 1e-5)
	}
}

func TestClusteredUnitVectors_Normalized(t *testing.T) {
	r := NewRNG(2)

	data := r.ClusteredUnitVectors(20, 16, 4, 0.1)
	require.Len(t, data, 20*16)

	for i := 0; i < 20; i++ {
		assert.InDelta(t, 1.0, math32.Norm(data[i*16:(i+1)*16]), 1e-5)
	}
}

func TestCorpus_Shape(t *testing.T) {
	r := NewRNG(3)

	docs := r.Corpus(10, 2, 5, 50)
	require.Len(t, docs, 10)

	for _, d := range docs {
		n := len(strings.Fields(d))
		assert.GreaterOrEqual(t, n, 2)
		assert.LessOrEqual(t, n, 5)
	}
}

func TestHashEncoder_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := NewHashEncoder(16)

	first, err := e.EncodeDoc(ctx, "alpha beta alpha")
	require.NoError(t, err)
	require.Len(t, first, 3)

	again, err := e.EncodeQuery(ctx, "alpha beta alpha")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// Same word, same vector.
	assert.Equal(t, first[0], first[2])
	assert.NotEqual(t, first[0], first[1])

	for _, vec := range first {
		assert.InDelta(t, 1.0, math32.Norm(vec), 1e-5)
	}

	assert.Equal(t, 16, e.Dim())
}

func TestHashEncoder_EmptyText(t *testing.T) {
	out, err := NewHashEncoder(8).EncodeDoc(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, out)
}
