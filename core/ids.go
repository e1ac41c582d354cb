package core

// DocID is a dense identifier for a document within a single index.
// Documents are numbered 0..NumDocs-1 in collection order.
type DocID uint32

// EmbeddingID is a dense identifier for a token embedding within a single
// index. Embedding ids are assigned by concatenating chunks in chunk-id
// order; this ordering is load-bearing for every offset computation.
// It is strictly 32-bit, allowing for max 4 billion embeddings per index.
type EmbeddingID uint32

// MaxDocID is the maximum possible value for a DocID.
const MaxDocID = ^DocID(0)

// MaxEmbeddingID is the maximum possible value for an EmbeddingID.
const MaxEmbeddingID = ^EmbeddingID(0)
