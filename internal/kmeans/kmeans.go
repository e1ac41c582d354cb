package kmeans

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"

	"github.com/hupe1980/maxsim/internal/math32"
)

var (
	// ErrTooFewVectors is returned when the sample holds fewer vectors than
	// the requested number of clusters.
	ErrTooFewVectors = errors.New("kmeans: fewer vectors than clusters")

	// ErrDegenerate is returned when clustering cannot produce k distinct
	// centroids from the sample.
	ErrDegenerate = errors.New("kmeans: clustering did not produce distinct centroids")
)

// Options controls a training run.
type Options struct {
	// MaxIterations bounds the number of Lloyd iterations.
	MaxIterations int

	// Seed makes initialization and empty-cluster reseeding deterministic.
	Seed int64
}

// Train clusters the flattened vectors (n*dim) into k centroids and returns
// them flattened (k*dim). Initialization is kmeans++; empty clusters are
// reseeded from the data. The context is checked between iterations.
func Train(ctx context.Context, vectors []float32, dim, k int, opts Options) ([]float32, error) {
	if dim <= 0 || len(vectors)%dim != 0 {
		return nil, errors.New("kmeans: vectors length is not a multiple of dim")
	}

	n := len(vectors) / dim
	if n < k {
		return nil, ErrTooFewVectors
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 20
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	centroids := seedPlusPlus(rng, vectors, dim, k)

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}

	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false

		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]

			best := 0
			minDist := float32(math.MaxFloat32)
			for j := 0; j < k; j++ {
				d := math32.SquaredL2(vec, centroids[j*dim:(j+1)*dim])
				if d < minDist {
					minDist = d
					best = j
				}
			}

			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed {
			break
		}

		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}

		for i := 0; i < n; i++ {
			c := assignments[i]
			math32.Axpy(1, vectors[i*dim:(i+1)*dim], sums[c*dim:(c+1)*dim])
			counts[c]++
		}

		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				// Reseed from a random data point so no cluster stays empty.
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
				continue
			}

			scale := 1 / float32(counts[j])
			for d := 0; d < dim; d++ {
				centroids[j*dim+d] = sums[j*dim+d] * scale
			}
		}
	}

	if !distinct(centroids, dim, k) {
		return nil, ErrDegenerate
	}

	return centroids, nil
}

// seedPlusPlus picks k initial centroids with kmeans++ weighting: the first
// uniformly, each next proportional to the squared distance from the nearest
// centroid chosen so far.
func seedPlusPlus(rng *rand.Rand, vectors []float32, dim, k int) []float32 {
	n := len(vectors) / dim
	centroids := make([]float32, k*dim)

	first := rng.Intn(n)
	copy(centroids[:dim], vectors[first*dim:(first+1)*dim])

	minDistSq := make([]float32, n)
	var sum float32
	for i := 0; i < n; i++ {
		d := math32.SquaredL2(vectors[i*dim:(i+1)*dim], centroids[:dim])
		minDistSq[i] = d
		sum += d
	}

	for c := 1; c < k; c++ {
		var chosen int
		if sum == 0 {
			chosen = rng.Intn(n)
		} else {
			target := rng.Float32() * sum
			var cumsum float32
			for i, d := range minDistSq {
				cumsum += d
				if cumsum >= target {
					chosen = i
					break
				}
			}
		}

		copy(centroids[c*dim:(c+1)*dim], vectors[chosen*dim:(chosen+1)*dim])

		sum = 0
		for i := 0; i < n; i++ {
			d := math32.SquaredL2(vectors[i*dim:(i+1)*dim], centroids[c*dim:(c+1)*dim])
			if d < minDistSq[i] {
				minDistSq[i] = d
			}
			sum += minDistSq[i]
		}
	}

	return centroids
}

// distinct reports whether all k centroids are pairwise different and free
// of NaNs. Identical centroids would make code assignment ambiguous.
func distinct(centroids []float32, dim, k int) bool {
	for i := range centroids {
		if math.IsNaN(float64(centroids[i])) {
			return false
		}
	}

	seen := make(map[string]struct{}, k)
	buf := make([]byte, dim*4)
	for j := 0; j < k; j++ {
		c := centroids[j*dim : (j+1)*dim]
		for d, v := range c {
			binary.LittleEndian.PutUint32(buf[d*4:], math.Float32bits(v))
		}
		if _, ok := seen[string(buf)]; ok {
			return false
		}
		seen[string(buf)] = struct{}{}
	}

	return true
}
