// Package chunk persists the per-chunk slices of a built index: document
// lengths, centroid codes and packed residuals, one file each under
// chunks/. Chunk ids are dense and increasing; concatenating all chunks in
// id order defines the global embedding-id space, so every downstream
// offset computation depends on files never being reordered or rewritten.
//
// Codes and residuals are stored uncompressed behind their fixed headers:
// record offsets stay addressable, which is what makes ranged reads of a
// single document's embeddings possible on every blobstore backend.
package chunk

import (
	"context"
	"fmt"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/core"
)

// Info locates one chunk inside the global id space. It is recorded in the
// manifest and gives O(1) mapping from a global document or embedding id to
// (chunk, local offset).
type Info struct {
	ID               int              `json:"id"`
	FirstDocID       core.DocID       `json:"first_doc_id"`
	FirstEmbeddingID core.EmbeddingID `json:"first_embedding_id"`
	NumDocs          int              `json:"num_docs"`
	NumEmbeddings    int              `json:"num_embeddings"`
}

// DoclensName returns the store path of a chunk's document-length file.
func DoclensName(id int) string {
	return fmt.Sprintf("chunks/%06d.doclens", id)
}

// CodesName returns the store path of a chunk's centroid-code file.
func CodesName(id int) string {
	return fmt.Sprintf("chunks/%06d.codes", id)
}

// ResidualsName returns the store path of a chunk's packed-residual file.
func ResidualsName(id int) string {
	return fmt.Sprintf("chunks/%06d.residuals", id)
}

// Exists reports whether all three files of the chunk are present. The build
// barrier uses it to confirm completeness before the IVF pass.
func Exists(ctx context.Context, store blobstore.Store, id int) (bool, error) {
	for _, name := range []string{DoclensName(id), CodesName(id), ResidualsName(id)} {
		ok, err := store.Exists(ctx, name)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}
