// Package index assembles the read path of a built index: manifest, codec,
// inverted file and chunk readers, plus the offset tables that map between
// document and embedding id spaces. Everything is verified against the
// manifest at load; an Index that opens successfully is internally
// consistent and fully reentrant.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/chunk"
	"github.com/hupe1980/maxsim/core"
	"github.com/hupe1980/maxsim/ivf"
	"github.com/hupe1980/maxsim/manifest"
	"github.com/hupe1980/maxsim/quantization"
)

// Index is a read-only handle to one index generation. It holds every chunk
// open for ranged reads and is safe for concurrent searches; Close may only
// be called once no search uses the Index anymore.
type Index struct {
	meta    *manifest.Metadata
	rq      *quantization.ResidualQuantizer
	ivf     *ivf.IVF
	readers []*chunk.Reader

	// docOffsets[d] is the first global embedding id of document d; the
	// extra tail entry closes the last range.
	docOffsets []uint64
	// emb2doc[e] is the document owning global embedding e.
	emb2doc []uint32

	chunkFirstDoc []uint32
	chunkFirstEmb []uint64

	closed atomic.Bool
}

// Load opens the generation named by the store's CURRENT pointer and
// verifies it: all chunks present, per-chunk counts matching the manifest,
// document lengths summing to the recorded embedding total, IVF and codec
// shapes matching the configuration. On any violation no Index is returned
// and everything opened so far is closed again.
func Load(ctx context.Context, store blobstore.Store) (_ *Index, err error) {
	meta, err := manifest.Load(ctx, store)
	if err != nil {
		return nil, err
	}

	rq, err := quantization.Load(ctx, store, manifest.CodecFileName)
	if err != nil {
		return nil, err
	}

	cfg := meta.Config

	if rq.Dim() != cfg.Dim {
		return nil, &IntegrityError{Field: "codec dim", Expected: int64(cfg.Dim), Actual: int64(rq.Dim())}
	}

	if rq.NBits() != cfg.NBits {
		return nil, &IntegrityError{Field: "codec nbits", Expected: int64(cfg.NBits), Actual: int64(rq.NBits())}
	}

	if rq.NumCentroids() != cfg.NumCentroids {
		return nil, &IntegrityError{Field: "codec centroids", Expected: int64(cfg.NumCentroids), Actual: int64(rq.NumCentroids())}
	}

	inverted, err := ivf.Load(ctx, store, manifest.IVFFileName)
	if err != nil {
		return nil, err
	}

	if inverted.NumCentroids() != cfg.NumCentroids {
		return nil, &IntegrityError{Field: "ivf centroids", Expected: int64(cfg.NumCentroids), Actual: int64(inverted.NumCentroids())}
	}

	if int64(inverted.NumEmbeddings()) != meta.NumEmbeddings {
		return nil, &IntegrityError{Field: "ivf embeddings", Expected: meta.NumEmbeddings, Actual: int64(inverted.NumEmbeddings())}
	}

	ix := &Index{
		meta:    meta,
		rq:      rq,
		ivf:     inverted,
		readers: make([]*chunk.Reader, meta.NumChunks),
	}

	defer func() {
		if err != nil {
			_ = ix.Close()
		}
	}()

	if err = ix.openChunks(ctx, store); err != nil {
		return nil, err
	}

	if err = ix.buildTables(ctx); err != nil {
		return nil, err
	}

	return ix, nil
}

func (ix *Index) openChunks(ctx context.Context, store blobstore.Store) error {
	cfg := ix.meta.Config

	for id := 0; id < ix.meta.NumChunks; id++ {
		r, err := chunk.Open(ctx, store, id)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return &ChunkMissingError{ID: id}
			}

			return err
		}

		ix.readers[id] = r

		info := ix.meta.Chunks[id]

		if r.NumDocs() != info.NumDocs {
			return &IntegrityError{Field: fmt.Sprintf("chunk %d docs", id), Expected: int64(info.NumDocs), Actual: int64(r.NumDocs())}
		}

		if r.NumEmbeddings() != info.NumEmbeddings {
			return &IntegrityError{Field: fmt.Sprintf("chunk %d embeddings", id), Expected: int64(info.NumEmbeddings), Actual: int64(r.NumEmbeddings())}
		}

		if r.Dim() != cfg.Dim || r.NBits() != cfg.NBits {
			return &IntegrityError{Field: fmt.Sprintf("chunk %d dim", id), Expected: int64(cfg.Dim), Actual: int64(r.Dim())}
		}
	}

	return nil
}

// buildTables reads every chunk's document lengths and derives the offset
// tables shared by all lookups.
func (ix *Index) buildTables(ctx context.Context) error {
	meta := ix.meta

	ix.docOffsets = make([]uint64, 0, meta.NumDocs+1)
	ix.emb2doc = make([]uint32, 0, meta.NumEmbeddings)
	ix.chunkFirstDoc = make([]uint32, meta.NumChunks+1)
	ix.chunkFirstEmb = make([]uint64, meta.NumChunks+1)

	var (
		doc uint32
		emb uint64
	)

	ix.docOffsets = append(ix.docOffsets, 0)

	for id, r := range ix.readers {
		ix.chunkFirstDoc[id] = doc
		ix.chunkFirstEmb[id] = emb

		doclens, err := r.Doclens(ctx)
		if err != nil {
			return err
		}

		var chunkTotal uint64

		for _, dl := range doclens {
			for i := uint32(0); i < dl; i++ {
				ix.emb2doc = append(ix.emb2doc, doc)
			}

			emb += uint64(dl)
			chunkTotal += uint64(dl)
			doc++

			ix.docOffsets = append(ix.docOffsets, emb)
		}

		if chunkTotal != uint64(meta.Chunks[id].NumEmbeddings) {
			return &IntegrityError{Field: fmt.Sprintf("chunk %d doclens", id), Expected: int64(meta.Chunks[id].NumEmbeddings), Actual: int64(chunkTotal)}
		}
	}

	ix.chunkFirstDoc[meta.NumChunks] = doc
	ix.chunkFirstEmb[meta.NumChunks] = emb

	if int64(emb) != meta.NumEmbeddings {
		return &IntegrityError{Field: "doclens total", Expected: meta.NumEmbeddings, Actual: int64(emb)}
	}

	return nil
}

// Metadata returns the manifest the index was opened from.
func (ix *Index) Metadata() *manifest.Metadata {
	return ix.meta
}

// Config returns the persisted build configuration.
func (ix *Index) Config() manifest.IndexConfig {
	return ix.meta.Config
}

// Codec returns the trained residual quantizer.
func (ix *Index) Codec() *quantization.ResidualQuantizer {
	return ix.rq
}

// IVF returns the centroid to embedding-id inverted file.
func (ix *Index) IVF() *ivf.IVF {
	return ix.ivf
}

// NumDocs returns the total document count.
func (ix *Index) NumDocs() int64 {
	return ix.meta.NumDocs
}

// NumEmbeddings returns the total embedding count.
func (ix *Index) NumEmbeddings() int64 {
	return ix.meta.NumEmbeddings
}

// NumChunks returns the chunk count.
func (ix *Index) NumChunks() int {
	return ix.meta.NumChunks
}

// DocForEmbedding returns the document owning a global embedding id. The id
// must be below NumEmbeddings; ids obtained from the IVF always are.
func (ix *Index) DocForEmbedding(eid core.EmbeddingID) core.DocID {
	return core.DocID(ix.emb2doc[eid])
}

// DocRange returns the first global embedding id of the document and its
// token count.
func (ix *Index) DocRange(doc core.DocID) (core.EmbeddingID, int, error) {
	if int64(doc) >= ix.meta.NumDocs {
		return 0, 0, fmt.Errorf("index: doc %d outside [0, %d)", doc, ix.meta.NumDocs)
	}

	first := ix.docOffsets[doc]
	count := ix.docOffsets[doc+1] - first

	return core.EmbeddingID(first), int(count), nil
}

// DocCodes reads the centroid codes of one document's embeddings.
func (ix *Index) DocCodes(ctx context.Context, doc core.DocID) ([]uint32, error) {
	c, localFirst, count, err := ix.locate(doc)
	if err != nil {
		return nil, err
	}

	return ix.readers[c].CodesAt(ctx, localFirst, count)
}

// DocResiduals reads the packed residuals of one document's embeddings.
func (ix *Index) DocResiduals(ctx context.Context, doc core.DocID) ([]byte, error) {
	c, localFirst, count, err := ix.locate(doc)
	if err != nil {
		return nil, err
	}

	return ix.readers[c].ResidualsAt(ctx, localFirst, count)
}

// locate maps a document to its chunk and local embedding range.
func (ix *Index) locate(doc core.DocID) (chunkID, localFirst, count int, err error) {
	if int64(doc) >= ix.meta.NumDocs {
		return 0, 0, 0, fmt.Errorf("index: doc %d outside [0, %d)", doc, ix.meta.NumDocs)
	}

	// Smallest chunk whose successor starts past doc.
	chunkID = sort.Search(ix.meta.NumChunks, func(i int) bool {
		return ix.chunkFirstDoc[i+1] > uint32(doc)
	})

	first := ix.docOffsets[doc]
	localFirst = int(first - ix.chunkFirstEmb[chunkID])
	count = int(ix.docOffsets[doc+1] - first)

	return chunkID, localFirst, count, nil
}

// Close releases all chunk readers. Close is idempotent.
func (ix *Index) Close() error {
	if !ix.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error

	for _, r := range ix.readers {
		if r == nil {
			continue
		}

		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
