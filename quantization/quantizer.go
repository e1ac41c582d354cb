package quantization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/hupe1980/maxsim/core"
	"github.com/hupe1980/maxsim/internal/kmeans"
	"github.com/hupe1980/maxsim/internal/math32"
)

var (
	// ErrInvalidDimension is returned when dim*nbits is not a positive
	// multiple of 8, so packed residuals would not fill whole bytes.
	ErrInvalidDimension = errors.New("quantization: dim*nbits must be a positive multiple of 8")

	// ErrInvalidNBits is returned for nbits outside [1, 8].
	ErrInvalidNBits = errors.New("quantization: nbits must be between 1 and 8")

	// ErrEmptySample is returned when Train receives no vectors.
	ErrEmptySample = errors.New("quantization: empty training sample")

	// ErrDegenerateSample is returned when the sample cannot produce the
	// requested number of distinct centroids. Reduce the centroid count or
	// supply more data.
	ErrDegenerateSample = errors.New("quantization: degenerate training sample")
)

const defaultBatchSize = 1 << 14

// ResidualQuantizer holds a trained codec: centroids for coarse assignment
// plus shared bucket boundaries for residual discretization. A trained
// quantizer is immutable and safe for concurrent use.
type ResidualQuantizer struct {
	dim       int
	nbits     int
	packedLen int
	batchSize int

	centroids []float32 // numCentroids x dim
	cutoffs   []float32 // 2^nbits - 1, ascending
	weights   []float32 // 2^nbits bucket representatives
	lookup    []float32 // 1-based decompression table over weights

	avgResidual float32

	backend Backend
}

// TrainOption customizes Train.
type TrainOption func(*trainConfig)

type trainConfig struct {
	nbits         int
	numCentroids  int
	seed          int64
	maxIterations int
	batchSize     int
	backend       Backend
}

// WithNBits sets the residual bits per dimension (default 2).
func WithNBits(nbits int) TrainOption {
	return func(c *trainConfig) { c.nbits = nbits }
}

// WithNumCentroids sets the centroid count. When unset, Train derives it
// from the sample size via DefaultNumCentroids.
func WithNumCentroids(n int) TrainOption {
	return func(c *trainConfig) { c.numCentroids = n }
}

// WithSeed fixes the clustering seed for reproducible training.
func WithSeed(seed int64) TrainOption {
	return func(c *trainConfig) { c.seed = seed }
}

// WithMaxIterations bounds the k-means iterations (default 20).
func WithMaxIterations(iters int) TrainOption {
	return func(c *trainConfig) { c.maxIterations = iters }
}

// WithBatchSize sets the internal batch size for compress/decompress loops.
// Batch boundaries never change results; this only bounds the working set.
func WithBatchSize(n int) TrainOption {
	return func(c *trainConfig) { c.batchSize = n }
}

// WithBackend swaps the compute backend used for scoring and assignment.
func WithBackend(b Backend) TrainOption {
	return func(c *trainConfig) { c.backend = b }
}

// DefaultNumCentroids picks a centroid count for an estimated total number
// of embeddings: the largest power of two not above 16*sqrt(n).
func DefaultNumCentroids(numEmbeddings int) int {
	if numEmbeddings <= 0 {
		return 1
	}

	target := 16 * math.Sqrt(float64(numEmbeddings))

	k := 1 << int(math.Floor(math.Log2(target)))
	if k < 1 {
		k = 1
	}

	return k
}

// Train fits a codec on a sample of embeddings: k-means for the centroids,
// then bucket boundaries from the quantiles of held-out residual components.
// vectors holds the sample flattened to len/dim embeddings.
func Train(ctx context.Context, vectors []float32, dim int, opts ...TrainOption) (*ResidualQuantizer, error) {
	cfg := trainConfig{
		nbits:     2,
		batchSize: defaultBatchSize,
		backend:   ScalarBackend{},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.nbits < 1 || cfg.nbits > 8 {
		return nil, ErrInvalidNBits
	}

	if dim <= 0 || dim*cfg.nbits%8 != 0 {
		return nil, ErrInvalidDimension
	}

	if len(vectors) == 0 {
		return nil, ErrEmptySample
	}

	if len(vectors)%dim != 0 {
		return nil, fmt.Errorf("quantization: sample length %d is not a multiple of dim %d", len(vectors), dim)
	}

	n := len(vectors) / dim

	if cfg.numCentroids <= 0 {
		cfg.numCentroids = DefaultNumCentroids(n)
		if cfg.numCentroids > n {
			cfg.numCentroids = n
		}
	}

	if cfg.numCentroids > n {
		return nil, fmt.Errorf("%w: %d vectors for %d centroids", ErrDegenerateSample, n, cfg.numCentroids)
	}

	centroids, err := kmeans.Train(ctx, vectors, dim, cfg.numCentroids, kmeans.Options{
		MaxIterations: cfg.maxIterations,
		Seed:          cfg.seed,
	})
	if err != nil {
		if errors.Is(err, kmeans.ErrTooFewVectors) || errors.Is(err, kmeans.ErrDegenerate) {
			return nil, fmt.Errorf("%w: %v", ErrDegenerateSample, err)
		}

		return nil, err
	}

	rq := &ResidualQuantizer{
		dim:       dim,
		nbits:     cfg.nbits,
		packedLen: PackedLen(dim, cfg.nbits),
		batchSize: cfg.batchSize,
		centroids: centroids,
		backend:   cfg.backend,
	}

	rq.fitBuckets(vectors, n)

	return rq, nil
}

// fitBuckets derives cutoffs, weights and the average residual magnitude
// from the residuals of a held-out tail of the sample.
func (rq *ResidualQuantizer) fitBuckets(vectors []float32, n int) {
	heldout := n / 10
	if heldout < 1 {
		heldout = 1
	}

	hv := vectors[(n-heldout)*rq.dim:]

	codes := make([]uint32, heldout)
	rq.backend.Assign(hv, rq.centroids, rq.dim, codes)

	pooled := make([]float32, 0, heldout*rq.dim)

	var absSum float64

	for i, code := range codes {
		centroid := rq.centroids[int(code)*rq.dim : (int(code)+1)*rq.dim]
		vec := hv[i*rq.dim : (i+1)*rq.dim]

		for d := range vec {
			r := vec[d] - centroid[d]
			pooled = append(pooled, r)
			absSum += math.Abs(float64(r))
		}
	}

	rq.avgResidual = float32(absSum / float64(len(pooled)))

	slices.Sort(pooled)

	buckets := 1 << rq.nbits

	rq.cutoffs = make([]float32, buckets-1)
	for i := range rq.cutoffs {
		rq.cutoffs[i] = quantile(pooled, float64(i+1)/float64(buckets))
	}

	rq.weights = make([]float32, buckets)
	for i := range rq.weights {
		rq.weights[i] = quantile(pooled, (float64(i)+0.5)/float64(buckets))
	}

	rq.buildLookup()
}

// buildLookup maps the 1-based bucket index used by decompression onto the
// bucket weights. Entry 0 is never addressed.
func (rq *ResidualQuantizer) buildLookup() {
	rq.lookup = make([]float32, len(rq.weights)+1)
	copy(rq.lookup[1:], rq.weights)
}

// quantile returns the q-quantile of sorted data with linear interpolation
// between order statistics.
func quantile(sorted []float32, q float64) float32 {
	if len(sorted) == 1 {
		return sorted[0]
	}

	pos := q * float64(len(sorted)-1)

	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}

	frac := float32(pos - float64(lo))

	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Dim returns the embedding dimension.
func (rq *ResidualQuantizer) Dim() int {
	return rq.dim
}

// NBits returns the residual bits per dimension.
func (rq *ResidualQuantizer) NBits() int {
	return rq.nbits
}

// NumCentroids returns the centroid count.
func (rq *ResidualQuantizer) NumCentroids() int {
	return len(rq.centroids) / rq.dim
}

// PackedLen returns the packed residual size in bytes per embedding.
func (rq *ResidualQuantizer) PackedLen() int {
	return rq.packedLen
}

// AvgResidual returns the mean absolute residual component seen at training.
func (rq *ResidualQuantizer) AvgResidual() float32 {
	return rq.avgResidual
}

// Centroids returns the flat centroid matrix (NumCentroids x Dim).
func (rq *ResidualQuantizer) Centroids() []float32 {
	return rq.centroids
}

// BucketCutoffs returns the ascending bucket boundaries (2^nbits - 1).
func (rq *ResidualQuantizer) BucketCutoffs() []float32 {
	return rq.cutoffs
}

// BucketWeights returns the bucket representative values (2^nbits).
func (rq *ResidualQuantizer) BucketWeights() []float32 {
	return rq.weights
}

// SetBackend swaps the compute backend. Results are identical across
// backends. Not safe to call concurrently with other methods.
func (rq *ResidualQuantizer) SetBackend(b Backend) {
	rq.backend = b
}

// CentroidScores writes the dot product of q against every centroid into
// out. len(out) must equal NumCentroids.
func (rq *ResidualQuantizer) CentroidScores(q, out []float32) error {
	if len(q) != rq.dim {
		return &core.DimensionMismatchError{Want: rq.dim, Got: len(q)}
	}

	if len(out) != rq.NumCentroids() {
		return fmt.Errorf("quantization: scores buffer holds %d entries, need %d", len(out), rq.NumCentroids())
	}

	rq.backend.Scores(q, rq.centroids, rq.dim, out)

	return nil
}

// CompressIntoCodes assigns each embedding to its nearest centroid by dot
// product, first index winning ties, writing into the preallocated out.
func (rq *ResidualQuantizer) CompressIntoCodes(vecs []float32, out []uint32) error {
	if len(vecs)%rq.dim != 0 {
		return fmt.Errorf("quantization: vectors length %d is not a multiple of dim %d", len(vecs), rq.dim)
	}

	n := len(vecs) / rq.dim
	if len(out) != n {
		return fmt.Errorf("quantization: codes buffer holds %d entries, need %d", len(out), n)
	}

	for start := 0; start < n; start += rq.batchSize {
		end := min(start+rq.batchSize, n)
		rq.backend.Assign(vecs[start*rq.dim:end*rq.dim], rq.centroids, rq.dim, out[start:end])
	}

	return nil
}

// Compress quantizes embeddings into centroid codes and packed residuals.
// Output order equals input order regardless of internal batching.
func (rq *ResidualQuantizer) Compress(vecs []float32) ([]uint32, []byte, error) {
	if len(vecs)%rq.dim != 0 {
		return nil, nil, fmt.Errorf("quantization: vectors length %d is not a multiple of dim %d", len(vecs), rq.dim)
	}

	n := len(vecs) / rq.dim

	codes := make([]uint32, n)
	residuals := make([]byte, n*rq.packedLen)

	if n == 0 {
		return codes, residuals, nil
	}

	residual := make([]float32, rq.dim)
	buckets := make([]uint8, rq.dim)

	for start := 0; start < n; start += rq.batchSize {
		end := min(start+rq.batchSize, n)

		rq.backend.Assign(vecs[start*rq.dim:end*rq.dim], rq.centroids, rq.dim, codes[start:end])

		for i := start; i < end; i++ {
			vec := vecs[i*rq.dim : (i+1)*rq.dim]
			centroid := rq.centroids[int(codes[i])*rq.dim : (int(codes[i])+1)*rq.dim]

			math32.Sub(residual, vec, centroid)

			for d, v := range residual {
				buckets[d] = rq.bucketize(v)
			}

			Pack(buckets, rq.dim, rq.nbits, residuals[i*rq.packedLen:(i+1)*rq.packedLen])
		}
	}

	return codes, residuals, nil
}

// bucketize returns the index of the first cutoff >= v; values above every
// cutoff land in the top bucket.
func (rq *ResidualQuantizer) bucketize(v float32) uint8 {
	idx := sort.Search(len(rq.cutoffs), func(i int) bool { return rq.cutoffs[i] >= v })

	return uint8(idx)
}

// DecompressResiduals recovers approximate residual values from packed
// bytes: unpack the bit planes, rebuild each bucket index, shift it to the
// 1-based position and look it up in the weight table.
func (rq *ResidualQuantizer) DecompressResiduals(packed []byte) ([]float32, error) {
	if len(packed)%rq.packedLen != 0 {
		return nil, fmt.Errorf("quantization: packed length %d is not a multiple of %d", len(packed), rq.packedLen)
	}

	n := len(packed) / rq.packedLen
	out := make([]float32, n*rq.dim)

	buckets := make([]uint8, rq.dim)

	for e := 0; e < n; e++ {
		Unpack(packed[e*rq.packedLen:(e+1)*rq.packedLen], rq.dim, rq.nbits, buckets)

		for d, b := range buckets {
			out[e*rq.dim+d] = rq.lookup[int(b)+1]
		}
	}

	return out, nil
}

// Decompress reconstructs approximate embeddings: centroid plus decompressed
// residual, re-normalized to unit length. An all-zero reconstruction stays
// zero. Batching bounds memory only; results are batch-size independent.
func (rq *ResidualQuantizer) Decompress(codes []uint32, residuals []byte) ([]float32, error) {
	if len(residuals) != len(codes)*rq.packedLen {
		return nil, fmt.Errorf("quantization: %d codes need %d residual bytes, got %d", len(codes), len(codes)*rq.packedLen, len(residuals))
	}

	n := len(codes)
	out := make([]float32, n*rq.dim)

	buckets := make([]uint8, rq.dim)
	numCentroids := rq.NumCentroids()

	for start := 0; start < n; start += rq.batchSize {
		end := min(start+rq.batchSize, n)

		for i := start; i < end; i++ {
			code := int(codes[i])
			if code >= numCentroids {
				return nil, fmt.Errorf("quantization: code %d out of range [0, %d)", code, numCentroids)
			}

			Unpack(residuals[i*rq.packedLen:(i+1)*rq.packedLen], rq.dim, rq.nbits, buckets)

			vec := out[i*rq.dim : (i+1)*rq.dim]
			centroid := rq.centroids[code*rq.dim : (code+1)*rq.dim]

			for d := range vec {
				vec[d] = centroid[d] + rq.lookup[int(buckets[d])+1]
			}

			math32.NormalizeInPlace(vec)
		}
	}

	return out, nil
}
