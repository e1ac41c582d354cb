package quantization

import "github.com/hupe1980/maxsim/internal/math32"

// Backend computes the two dense kernels of the codec: centroid scoring and
// centroid assignment. Implementations must be deterministic; swapping the
// backend never changes results, only speed.
type Backend interface {
	// Scores writes the dot product of q against each of the k centroids
	// into out. len(q) == dim, len(centroids) == k*dim, len(out) == k.
	Scores(q, centroids []float32, dim int, out []float32)

	// Assign writes the nearest-centroid index for each input vector into
	// out, taking the first index on ties. len(vecs) == n*dim,
	// len(out) == n.
	Assign(vecs, centroids []float32, dim int, out []uint32)
}

// ScalarBackend is the portable default on internal/math32.
type ScalarBackend struct{}

func (ScalarBackend) Scores(q, centroids []float32, dim int, out []float32) {
	for i := range out {
		out[i] = math32.Dot(q, centroids[i*dim:(i+1)*dim])
	}
}

func (ScalarBackend) Assign(vecs, centroids []float32, dim int, out []uint32) {
	k := len(centroids) / dim

	for i := range out {
		vec := vecs[i*dim : (i+1)*dim]

		best := 0
		bestScore := math32.Dot(vec, centroids[:dim])

		for j := 1; j < k; j++ {
			score := math32.Dot(vec, centroids[j*dim:(j+1)*dim])
			if score > bestScore {
				bestScore = score
				best = j
			}
		}

		out[i] = uint32(best)
	}
}
