// Package kmeans implements k-means clustering over flat float32 vectors.
//
// Used internally by the residual quantizer to learn the centroid set from a
// sample of token embeddings.
package kmeans
