// Package maxsim provides an embedded late-interaction retrieval engine
// for Go.
//
// Documents and queries are encoded into per-token embedding matrices. A
// document's score for a query is the sum, over query tokens, of the best
// dot product among the document's tokens. Indexes are built once as a set
// of immutable blobs behind a pluggable store and served read-only with
// centroid-probed candidate generation plus exact rescoring.
//
// # Quick Start
//
// Build an index from a document collection and search it:
//
//	ctx := context.Background()
//
//	b := maxsim.Local("./data").Encoder(enc)
//
//	if _, err := b.Build(ctx, indexer.SliceCollection(docs)); err != nil {
//	    log.Fatal(err)
//	}
//
//	eng, err := b.Open(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	results, err := eng.SearchText(ctx, "neural retrieval", 10)
//	for _, r := range results {
//	    fmt.Println(r.Doc, r.Score)
//	}
//
// Cloud mode:
//
//	store, _ := s3.New(ctx, "my-bucket")
//	eng, err := maxsim.Remote(store).Encoder(enc).Open(ctx)
//
// Per-query overrides use the fluent query API:
//
//	results, err := eng.Query(vec).K(100).NProbe(8).Execute(ctx)
//
// # Storage Model
//
// An index generation is a set of immutable blobs: a codec file holding the
// trained residual quantizer, fixed-size document chunks (token counts,
// centroid codes, packed residuals), an inverted file mapping centroids to
// embedding ids, and a versioned manifest. The manifest is written last and
// a CURRENT pointer is switched atomically, so a crash mid-build leaves the
// previous generation live.
//
// # Key Features
//
//   - Late-interaction (per-token) scoring with exact rescoring
//   - Residual compression: centroid code plus quantized residual per token
//   - Centroid-probed candidate generation over an inverted file
//   - Pluggable blob storage (local disk, S3, MinIO, in-memory, caching)
//   - Versioned manifests with atomic generation switch
//   - Structured logging (slog) and pluggable metrics
package maxsim
