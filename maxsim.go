package maxsim

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/core"
	"github.com/hupe1980/maxsim/encoder"
	"github.com/hupe1980/maxsim/index"
	"github.com/hupe1980/maxsim/indexer"
	"github.com/hupe1980/maxsim/internal/math32"
	"github.com/hupe1980/maxsim/manifest"
	"github.com/hupe1980/maxsim/resource"
	"github.com/hupe1980/maxsim/searcher"
)

// Engine serves top-k queries against one loaded index generation. It is
// safe for concurrent use. Close releases the underlying chunk readers;
// subsequent searches return ErrClosed.
type Engine struct {
	ix      *index.Index
	s       *searcher.Searcher
	enc     encoder.Encoder
	workers int
	rc      *resource.Controller
	metrics MetricsCollector
	logger  *Logger
	closed  atomic.Bool
}

// SearchResult is one ranked document.
type SearchResult struct {
	// Doc is the document's position in the collection the index was built
	// from.
	Doc core.DocID

	// Score is the late-interaction similarity to the query.
	Score float32
}

// SearchStats describes the work one search performed.
type SearchStats = searcher.Stats

// Stats describes the loaded index generation.
type Stats struct {
	Version       uint64
	Dim           int
	NBits         int
	NumCentroids  int
	NumChunks     int
	NumDocs       int64
	NumEmbeddings int64
	AvgResidual   float32
}

// Build creates a complete index generation in store from the collection
// using enc for document embeddings. The manifest is written last, so a
// failed build never becomes visible to Open.
func Build(ctx context.Context, store blobstore.Store, enc encoder.Encoder, coll indexer.Collection, optFns ...Option) (*manifest.Metadata, error) {
	start := time.Now()
	opts := applyOptions(optFns)

	ndocs := 0
	if coll != nil {
		ndocs = coll.Len()
	}

	ixOpts := []indexer.Option{
		indexer.WithLogger(opts.logger.Logger),
	}

	if opts.nbits > 0 {
		ixOpts = append(ixOpts, indexer.WithNBits(opts.nbits))
	}

	if opts.ncentroids > 0 {
		ixOpts = append(ixOpts, indexer.WithNumCentroids(opts.ncentroids))
	}

	if opts.chunkSize > 0 {
		ixOpts = append(ixOpts, indexer.WithChunkSize(opts.chunkSize))
	}

	if opts.seed != nil {
		ixOpts = append(ixOpts, indexer.WithSeed(*opts.seed))
	}

	if opts.maxConcurrency > 0 {
		ixOpts = append(ixOpts, indexer.WithMaxWorkers(opts.maxConcurrency))
	}

	if opts.resources != nil {
		ixOpts = append(ixOpts, indexer.WithResourceController(opts.resources))
	}

	if opts.codec != nil {
		ixOpts = append(ixOpts, indexer.WithManifestCodec(opts.codec))
	}

	bld, err := indexer.New(store, enc, ixOpts...)
	if err != nil {
		err = translateError(err)
		opts.metricsCollector.RecordBuild(ndocs, 0, time.Since(start), err)
		opts.logger.LogBuild(ctx, ndocs, 0, err)

		return nil, err
	}

	m, err := bld.Run(ctx, coll)
	duration := time.Since(start)

	if err != nil {
		err = translateError(err)
		opts.metricsCollector.RecordBuild(ndocs, 0, duration, err)
		opts.logger.LogBuild(ctx, ndocs, 0, err)

		return nil, err
	}

	opts.metricsCollector.RecordBuild(ndocs, m.NumChunks, duration, nil)
	opts.logger.LogBuild(ctx, ndocs, m.NumChunks, nil)

	return m, nil
}

// Open loads the current index generation from store and returns an Engine
// serving it. An encoder configured via WithEncoder enables SearchText.
func Open(ctx context.Context, store blobstore.Store, optFns ...Option) (*Engine, error) {
	start := time.Now()
	opts := applyOptions(optFns)

	ix, err := index.Load(ctx, store)
	if err != nil {
		err = translateError(err)
		opts.metricsCollector.RecordOpen(time.Since(start), err)
		opts.logger.LogOpen(ctx, 0, 0, err)

		return nil, err
	}

	e := &Engine{
		ix:      ix,
		enc:     opts.encoder,
		workers: opts.maxConcurrency,
		rc:      opts.resources,
		metrics: opts.metricsCollector,
		logger:  opts.logger,
	}
	e.s = e.newSearcher(opts.nprobe)

	meta := ix.Metadata()
	opts.metricsCollector.RecordOpen(time.Since(start), nil)
	opts.logger.LogOpen(ctx, meta.Version, meta.NumDocs, nil)

	return e, nil
}

// newSearcher builds a searcher over the engine's index. Zero values fall
// back to the searcher defaults.
func (e *Engine) newSearcher(nprobe int) *searcher.Searcher {
	sOpts := make([]searcher.Option, 0, 3)

	if nprobe > 0 {
		sOpts = append(sOpts, searcher.WithNProbe(nprobe))
	}

	if e.workers > 0 {
		sOpts = append(sOpts, searcher.WithMaxConcurrency(e.workers))
	}

	if e.rc != nil {
		sOpts = append(sOpts, searcher.WithResourceController(e.rc))
	}

	return searcher.New(e.ix, sOpts...)
}

// Search returns the top k documents for a query given as row-major
// per-token embeddings. Tokens are unit-normalized on a copy; the caller's
// slice is never modified. Results are ordered by score descending with
// ties broken by ascending document id.
func (e *Engine) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	results, _, err := e.SearchWithStats(ctx, query, k)
	return results, err
}

// SearchWithStats is Search plus counters describing the work performed.
func (e *Engine) SearchWithStats(ctx context.Context, query []float32, k int) ([]SearchResult, SearchStats, error) {
	return e.searchTokens(ctx, e.s, query, k)
}

// SearchText encodes text with the configured query encoder and searches.
func (e *Engine) SearchText(ctx context.Context, text string, k int) ([]SearchResult, error) {
	results, _, err := e.SearchTextWithStats(ctx, text, k)
	return results, err
}

// SearchTextWithStats is SearchText plus counters describing the work
// performed.
func (e *Engine) SearchTextWithStats(ctx context.Context, text string, k int) ([]SearchResult, SearchStats, error) {
	return e.searchText(ctx, e.s, text, k)
}

// searchText encodes and searches, recording encode failures the same way
// search failures are recorded.
func (e *Engine) searchText(ctx context.Context, s *searcher.Searcher, text string, k int) ([]SearchResult, SearchStats, error) {
	start := time.Now()

	query, err := e.encodeQuery(ctx, text)
	if err != nil {
		e.metrics.RecordSearch(k, 0, time.Since(start), err)
		e.logger.LogSearch(ctx, k, 0, err)

		return nil, SearchStats{}, err
	}

	return e.searchTokens(ctx, s, query, k)
}

// encodeQuery turns text into a flat row-major token matrix using the
// configured query encoder.
func (e *Engine) encodeQuery(ctx context.Context, text string) ([]float32, error) {
	if e.enc == nil {
		return nil, ErrNoEncoder
	}

	tokens, err := e.enc.EncodeQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("maxsim: encode query: %w", err)
	}

	dim := e.ix.Config().Dim

	query := make([]float32, 0, len(tokens)*dim)

	for _, tok := range tokens {
		if len(tok) != dim {
			return nil, &core.DimensionMismatchError{Want: dim, Got: len(tok)}
		}

		query = append(query, tok...)
	}

	return query, nil
}

// searchTokens runs the query through s, recording metrics and logging the
// outcome.
func (e *Engine) searchTokens(ctx context.Context, s *searcher.Searcher, query []float32, k int) ([]SearchResult, SearchStats, error) {
	start := time.Now()

	if e.closed.Load() {
		err := ErrClosed
		e.metrics.RecordSearch(k, 0, time.Since(start), err)
		e.logger.LogSearch(ctx, k, 0, err)

		return nil, SearchStats{}, err
	}

	q, err := e.normalizedQuery(query)
	if err != nil {
		e.metrics.RecordSearch(k, 0, time.Since(start), err)
		e.logger.LogSearch(ctx, k, 0, err)

		return nil, SearchStats{}, err
	}

	results, stats, err := s.SearchWithStats(ctx, q, k)
	duration := time.Since(start)

	if err != nil {
		err = translateError(err)
		e.metrics.RecordSearch(k, stats.Candidates, duration, err)
		e.logger.LogSearch(ctx, k, 0, err)

		return nil, SearchStats{}, err
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{Doc: r.Doc, Score: r.Score}
	}

	e.metrics.RecordSearch(k, stats.Candidates, duration, nil)
	e.logger.LogSearch(ctx, k, len(out), nil)

	return out, stats, nil
}

// normalizedQuery copies query and unit-normalizes each token. Zero tokens
// stay zero.
func (e *Engine) normalizedQuery(query []float32) ([]float32, error) {
	dim := e.ix.Config().Dim

	if len(query)%dim != 0 {
		return nil, &core.DimensionMismatchError{Want: dim, Got: len(query)}
	}

	q := slices.Clone(query)
	for i := 0; i < len(q); i += dim {
		math32.NormalizeInPlace(q[i : i+dim])
	}

	return q, nil
}

// Stats returns counts and configuration of the loaded generation.
func (e *Engine) Stats() Stats {
	m := e.ix.Metadata()

	return Stats{
		Version:       m.Version,
		Dim:           m.Config.Dim,
		NBits:         m.Config.NBits,
		NumCentroids:  m.Config.NumCentroids,
		NumChunks:     m.NumChunks,
		NumDocs:       m.NumDocs,
		NumEmbeddings: m.NumEmbeddings,
		AvgResidual:   m.AvgResidual,
	}
}

// Metadata returns the manifest of the loaded generation.
func (e *Engine) Metadata() *manifest.Metadata {
	return e.ix.Metadata()
}

// Index exposes the underlying read-only index for callers that need raw
// document access.
func (e *Engine) Index() *index.Index {
	return e.ix
}
