// Package encoder defines the text-to-embedding boundary. Late-interaction
// retrieval keeps one embedding per token, so an Encoder returns an ordered
// sequence of vectors, not a single pooled one. The same encoder instance
// must serve build and query time; mixing encoders across the two produces
// meaningless scores.
package encoder

import "context"

// Encoder turns text into ordered per-token embeddings of a fixed dimension.
// Each returned vector is unit-normalized. Documents and queries may be
// preprocessed differently (marker tokens, padding), hence the two methods.
//
// Implementations must be safe for concurrent use; build pipelines call
// EncodeDoc from multiple goroutines.
type Encoder interface {
	EncodeDoc(ctx context.Context, text string) ([][]float32, error)
	EncodeQuery(ctx context.Context, text string) ([][]float32, error)
	Dim() int
}
