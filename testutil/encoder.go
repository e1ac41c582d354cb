package testutil

import (
	"context"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/hupe1980/maxsim/encoder"
	"github.com/hupe1980/maxsim/internal/math32"
)

var _ encoder.Encoder = (*HashEncoder)(nil)

// HashEncoder maps every whitespace-separated word to a fixed unit vector
// derived from the word's FNV hash. The same word always encodes to the same
// vector, at build time and at query time, which makes end-to-end retrieval
// tests exact: a query sharing words with a document shares token vectors
// with it.
type HashEncoder struct {
	dim int
}

// NewHashEncoder creates a hash encoder with the given embedding dimension.
func NewHashEncoder(dim int) *HashEncoder {
	return &HashEncoder{dim: dim}
}

// EncodeDoc returns one vector per word of text.
func (e *HashEncoder) EncodeDoc(_ context.Context, text string) ([][]float32, error) {
	words := strings.Fields(text)

	out := make([][]float32, len(words))
	for i, w := range words {
		out[i] = e.TokenVector(w)
	}

	return out, nil
}

// EncodeQuery returns one vector per word of text.
func (e *HashEncoder) EncodeQuery(ctx context.Context, text string) ([][]float32, error) {
	return e.EncodeDoc(ctx, text)
}

// Dim returns the embedding dimension.
func (e *HashEncoder) Dim() int {
	return e.dim
}

// TokenVector returns the word's fixed unit vector.
func (e *HashEncoder) TokenVector(word string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(word))

	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, e.dim)
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
	}

	math32.NormalizeInPlace(vec)

	return vec
}
