// Package quantization compresses token embeddings into a centroid code plus
// a bit-packed residual.
//
// Each embedding is assigned to its nearest centroid (by dot product) and
// only the residual against that centroid is stored, discretized to nbits
// per dimension through learned bucket boundaries. At nbits=2 a 128-dim
// float32 embedding shrinks from 512 bytes to 4 bytes of code plus 32 bytes
// of residual, a 14x reduction, while decompressed vectors stay close enough
// to the originals for late-interaction scoring.
//
// The packed residual layout and the codec file format are persisted wire
// formats; changing either invalidates existing indexes.
package quantization
