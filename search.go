package maxsim

import (
	"context"
)

// Query creates a fluent search builder for a raw per-token query.
//
// Example:
//
//	results, err := eng.Query(vec).
//	    K(100).
//	    NProbe(8).
//	    Execute(ctx)
func (e *Engine) Query(query []float32) *QueryBuilder {
	return &QueryBuilder{
		e:     e,
		query: query,
		k:     10,
	}
}

// QueryText creates a fluent search builder that encodes text with the
// engine's query encoder at execution time.
func (e *Engine) QueryText(text string) *QueryBuilder {
	return &QueryBuilder{
		e:      e,
		text:   text,
		isText: true,
		k:      10,
	}
}

// QueryBuilder is a fluent builder for a single search.
type QueryBuilder struct {
	e      *Engine
	query  []float32
	text   string
	isText bool
	k      int
	nprobe int
}

// K sets the number of documents to return. Default: 10.
func (qb *QueryBuilder) K(k int) *QueryBuilder {
	qb.k = k
	return qb
}

// NProbe overrides the engine's probe width for this query. Wider probing
// grows the candidate set; surviving candidates always score exactly.
func (qb *QueryBuilder) NProbe(n int) *QueryBuilder {
	qb.nprobe = n
	return qb
}

// Execute runs the search.
func (qb *QueryBuilder) Execute(ctx context.Context) ([]SearchResult, error) {
	results, _, err := qb.ExecuteWithStats(ctx)
	return results, err
}

// ExecuteWithStats runs the search and returns work counters alongside the
// results.
func (qb *QueryBuilder) ExecuteWithStats(ctx context.Context) ([]SearchResult, SearchStats, error) {
	s := qb.e.s
	if qb.nprobe > 0 {
		s = qb.e.newSearcher(qb.nprobe)
	}

	if qb.isText {
		return qb.e.searchText(ctx, s, qb.text, qb.k)
	}

	return qb.e.searchTokens(ctx, s, qb.query, qb.k)
}

// MustExecute runs the search, panicking on error.
func (qb *QueryBuilder) MustExecute(ctx context.Context) []SearchResult {
	results, err := qb.Execute(ctx)
	if err != nil {
		panic(err)
	}

	return results
}

// First returns only the best-ranked result, or ErrNotFound if the search
// matches nothing.
func (qb *QueryBuilder) First(ctx context.Context) (SearchResult, error) {
	qb.k = 1

	results, err := qb.Execute(ctx)
	if err != nil {
		return SearchResult{}, err
	}

	if len(results) == 0 {
		return SearchResult{}, ErrNotFound
	}

	return results[0], nil
}
