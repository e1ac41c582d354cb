// Package searcher ranks documents against per-token query embeddings.
//
// Candidate generation probes the inverted file: each query token scores all
// centroids, the top nprobe runs contribute their embeddings' documents, and
// the union over tokens forms the candidate set. Every candidate is then
// scored exactly with the late-interaction rule: per query token the maximum
// dot product over the document's decompressed tokens, summed across query
// tokens. Probing only bounds the candidate set; it never changes a surviving
// candidate's score.
package searcher

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/maxsim/core"
	"github.com/hupe1980/maxsim/index"
	"github.com/hupe1980/maxsim/internal/math32"
	"github.com/hupe1980/maxsim/resource"
)

// DefaultNProbe is the number of centroid runs probed per query token.
const DefaultNProbe = 2

// Option configures a Searcher.
type Option func(*Searcher)

// WithNProbe sets how many centroid runs each query token probes. Values
// below 1 are raised to 1; values above the centroid count probe everything.
func WithNProbe(n int) Option {
	return func(s *Searcher) { s.nprobe = n }
}

// WithMaxConcurrency bounds the number of candidates scored in parallel.
func WithMaxConcurrency(n int) Option {
	return func(s *Searcher) { s.workers = n }
}

// WithResourceController routes per-candidate decompression memory through
// the given controller.
func WithResourceController(rc *resource.Controller) Option {
	return func(s *Searcher) { s.rc = rc }
}

// Stats describes the work one search performed.
type Stats struct {
	QueryTokens int
	Probes      int // centroid runs inspected, summed over query tokens
	Candidates  int // documents scored exactly
}

// Searcher executes top-k queries against a loaded index. It holds no
// mutable state between calls and is safe for concurrent use.
type Searcher struct {
	ix      *index.Index
	nprobe  int
	workers int
	rc      *resource.Controller
}

// New creates a Searcher over the given index.
func New(ix *index.Index, opts ...Option) *Searcher {
	s := &Searcher{
		ix:      ix,
		nprobe:  DefaultNProbe,
		workers: runtime.GOMAXPROCS(0),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.nprobe < 1 {
		s.nprobe = 1
	}

	if s.workers < 1 {
		s.workers = 1
	}

	return s
}

// Search returns the top k documents for a query given as row-major
// per-token embeddings, ordered by score descending with ties broken by
// ascending document id. An empty query returns an empty result and no
// error; if fewer than k candidates exist, all of them are returned.
func (s *Searcher) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	results, _, err := s.SearchWithStats(ctx, query, k)

	return results, err
}

// SearchWithStats is Search plus per-query work counters.
func (s *Searcher) SearchWithStats(ctx context.Context, query []float32, k int) ([]Result, Stats, error) {
	dim := s.ix.Config().Dim

	if len(query)%dim != 0 {
		return nil, Stats{}, &core.DimensionMismatchError{Want: dim, Got: len(query)}
	}

	ntokens := len(query) / dim
	stats := Stats{QueryTokens: ntokens}

	if ntokens == 0 || k <= 0 {
		return []Result{}, stats, nil
	}

	candidates, probes, err := s.gatherCandidates(query, ntokens)
	if err != nil {
		return nil, stats, err
	}

	stats.Probes = probes
	stats.Candidates = len(candidates)

	if len(candidates) == 0 {
		return []Result{}, stats, nil
	}

	// Scores land in index-addressed slots so the parallel schedule cannot
	// influence the final ordering.
	scores := make([]float32, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, doc := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			score, err := s.scoreDoc(gctx, core.DocID(doc), query, ntokens)
			if err != nil {
				return fmt.Errorf("score doc %d: %w", doc, err)
			}

			scores[i] = score

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	top := NewTopK(min(k, len(candidates)))
	for i, doc := range candidates {
		top.Push(Result{Doc: core.DocID(doc), Score: scores[i]})
	}

	return top.Results(), stats, nil
}

// gatherCandidates returns the candidate document ids in ascending order.
func (s *Searcher) gatherCandidates(query []float32, ntokens int) ([]uint32, int, error) {
	rq := s.ix.Codec()
	inverted := s.ix.IVF()
	dim := rq.Dim()

	scores := make([]float32, rq.NumCentroids())
	top := NewTopK(min(s.nprobe, inverted.NumCentroids()))
	docs := roaring.New()

	var probes int

	for t := 0; t < ntokens; t++ {
		if err := rq.CentroidScores(query[t*dim:(t+1)*dim], scores); err != nil {
			return nil, 0, err
		}

		// Centroid ids ride in the Doc field; the equal-score tie rule keeps
		// the lowest id, which fixes the probe set deterministically.
		top.Reset()
		for c, score := range scores {
			top.Push(Result{Doc: core.DocID(c), Score: score})
		}

		for _, r := range top.Results() {
			probes++

			for _, eid := range inverted.Lookup(int(r.Doc)) {
				docs.Add(uint32(s.ix.DocForEmbedding(core.EmbeddingID(eid))))
			}
		}
	}

	return docs.ToArray(), probes, nil
}

// scoreDoc computes the exact MaxSim score of one candidate.
func (s *Searcher) scoreDoc(ctx context.Context, doc core.DocID, query []float32, ntokens int) (float32, error) {
	codes, err := s.ix.DocCodes(ctx, doc)
	if err != nil {
		return 0, err
	}

	residuals, err := s.ix.DocResiduals(ctx, doc)
	if err != nil {
		return 0, err
	}

	rq := s.ix.Codec()
	dim := rq.Dim()

	// The decompressed token matrix dominates the transient footprint.
	footprint := int64(len(codes)) * int64(dim) * 4
	if err := s.rc.AcquireMemory(ctx, footprint); err != nil {
		return 0, err
	}
	defer s.rc.ReleaseMemory(footprint)

	vecs, err := rq.Decompress(codes, residuals)
	if err != nil {
		return 0, err
	}

	var score float32

	for t := 0; t < ntokens; t++ {
		qtok := query[t*dim : (t+1)*dim]

		best := float32(math.Inf(-1))
		for j := 0; j < len(codes); j++ {
			if d := math32.Dot(qtok, vecs[j*dim:(j+1)*dim]); d > best {
				best = d
			}
		}

		score += best
	}

	return score, nil
}
