// Package testutil provides deterministic data generators for tests and
// benchmarks: a thread-safe seeded RNG, unit-vector corpora, and a hash-based
// token encoder that stands in for a real model.
package testutil

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/hupe1980/maxsim/internal/math32"
)

// RNG is a thread-safe seeded random number generator.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates an RNG with the given seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset rewinds the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// UnitVector returns one L2-normalized Gaussian vector.
func (r *RNG) UnitVector(dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.unitVectorLocked(dim)
}

func (r *RNG) unitVectorLocked(dim int) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(r.rand.NormFloat64())
	}

	math32.NormalizeInPlace(vec)

	return vec
}

// UnitVectors returns n unit vectors as one flat row-major slice.
func (r *RNG) UnitVectors(n, dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, n*dim)
	for i := 0; i < n; i++ {
		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = float32(r.rand.NormFloat64())
		}

		math32.NormalizeInPlace(vec)
	}

	return data
}

// ClusteredUnitVectors returns n unit vectors grouped around `clusters`
// random unit centroids with Gaussian noise, flat row-major. Vector i
// belongs to cluster i % clusters.
func (r *RNG) ClusteredUnitVectors(n, dim, clusters int, noise float32) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	centroids := make([][]float32, clusters)
	for i := range centroids {
		centroids[i] = r.unitVectorLocked(dim)
	}

	data := make([]float32, n*dim)
	for i := 0; i < n; i++ {
		centroid := centroids[i%clusters]

		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*noise
		}

		math32.NormalizeInPlace(vec)
	}

	return data
}

// Corpus returns n synthetic documents of minTokens..maxTokens words drawn
// from a vocabulary of the given size. Deterministic for a given RNG state.
func (r *RNG) Corpus(n, minTokens, maxTokens, vocab int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if minTokens < 1 {
		minTokens = 1
	}

	if maxTokens < minTokens {
		maxTokens = minTokens
	}

	docs := make([]string, n)
	for i := range docs {
		ntok := minTokens + r.rand.Intn(maxTokens-minTokens+1)

		words := make([]string, ntok)
		for j := range words {
			words[j] = fmt.Sprintf("tok%d", r.rand.Intn(vocab))
		}

		docs[i] = strings.Join(words, " ")
	}

	return docs
}
