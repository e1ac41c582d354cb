// Package s3 provides an AWS S3 backed blobstore.
//
// Index files are stored as objects; reads use ranged GETs so searchers can
// pull individual document codes and residuals without downloading whole
// chunks. Writes stream through multipart uploads with CRC32C checksums.
//
//	store, err := s3.New(ctx, "my-bucket", s3.WithPrefix("indexes/msmarco"))
//
// For setups with concurrent index publishers, DDBCommitStore adds a
// DynamoDB commit log that turns the CURRENT manifest pointer update into a
// compare-and-swap.
//
// Wrap the store in blobstore.NewCachingStore to keep hot blocks in memory
// between queries.
package s3
