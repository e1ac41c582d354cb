// Package indexer builds a complete index from a document collection: codec
// training on a sampled subset, parallel chunk compression, an IVF built
// behind a durability barrier, and an atomic manifest save as the final
// step. A saved manifest never references partial output; any failure
// aborts the build with the failing chunk id in the error.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/chunk"
	"github.com/hupe1980/maxsim/codec"
	"github.com/hupe1980/maxsim/core"
	"github.com/hupe1980/maxsim/encoder"
	"github.com/hupe1980/maxsim/ivf"
	"github.com/hupe1980/maxsim/manifest"
	"github.com/hupe1980/maxsim/persistence"
	"github.com/hupe1980/maxsim/quantization"
	"github.com/hupe1980/maxsim/resource"
)

const (
	// DefaultChunkSize is the number of documents per chunk.
	DefaultChunkSize = 25_000

	// DefaultNBits is the residual precision used when none is configured.
	DefaultNBits = 2
)

var (
	// ErrEmptyCollection is returned when the collection holds no documents.
	ErrEmptyCollection = errors.New("indexer: empty collection")

	// ErrEmptyDocument is returned when the encoder yields no embeddings for
	// a document. Every document must contribute at least one token.
	ErrEmptyDocument = errors.New("indexer: document produced no embeddings")
)

// Option configures an Indexer.
type Option func(*Indexer)

// WithNBits sets the residual precision in bits per dimension (1..8).
func WithNBits(n int) Option {
	return func(ix *Indexer) { ix.nbits = n }
}

// WithNumCentroids fixes the centroid count. When unset it is sized
// automatically from the estimated collection embedding count.
func WithNumCentroids(n int) Option {
	return func(ix *Indexer) { ix.ncentroids = n }
}

// WithChunkSize sets the number of documents per chunk.
func WithChunkSize(n int) Option {
	return func(ix *Indexer) { ix.chunkSize = n }
}

// WithSeed fixes the sampling and training seed. Builds with the same seed,
// collection and encoder produce identical indexes.
func WithSeed(seed int64) Option {
	return func(ix *Indexer) { ix.seed = seed }
}

// WithMaxWorkers bounds the number of concurrent chunk jobs.
func WithMaxWorkers(n int) Option {
	return func(ix *Indexer) { ix.workers = n }
}

// WithResourceController routes worker slots and chunk IO through the given
// controller, typically shared with other builds or the serving path.
func WithResourceController(rc *resource.Controller) Option {
	return func(ix *Indexer) { ix.rc = rc }
}

// WithManifestCodec selects the JSON codec used for the manifest.
func WithManifestCodec(c codec.Codec) Option {
	return func(ix *Indexer) { ix.mcodec = c }
}

// WithLogger sets the logger for build progress.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = l }
}

// Indexer runs one-shot builds. Re-running against a store that already
// holds an index writes a new manifest generation over the same chunk
// namespace; building into a fresh prefix is the supported path.
type Indexer struct {
	store blobstore.Store
	enc   encoder.Encoder

	dim        int
	nbits      int
	ncentroids int
	chunkSize  int
	seed       int64
	workers    int

	rc     *resource.Controller
	mcodec codec.Codec
	logger *slog.Logger
}

// New creates an Indexer writing through store and encoding with enc.
func New(store blobstore.Store, enc encoder.Encoder, opts ...Option) (*Indexer, error) {
	if store == nil {
		return nil, errors.New("indexer: store is nil")
	}

	if enc == nil {
		return nil, errors.New("indexer: encoder is nil")
	}

	ix := &Indexer{
		store:     store,
		enc:       enc,
		dim:       enc.Dim(),
		nbits:     DefaultNBits,
		chunkSize: DefaultChunkSize,
		workers:   runtime.GOMAXPROCS(0),
	}

	for _, opt := range opts {
		opt(ix)
	}

	if ix.nbits < 1 || ix.nbits > 8 {
		return nil, fmt.Errorf("indexer: nbits %d: %w", ix.nbits, quantization.ErrInvalidNBits)
	}

	if ix.dim <= 0 || ix.dim*ix.nbits%8 != 0 {
		return nil, fmt.Errorf("indexer: dim %d with nbits %d: %w", ix.dim, ix.nbits, quantization.ErrInvalidDimension)
	}

	if ix.chunkSize < 1 {
		return nil, fmt.Errorf("indexer: invalid chunk size %d", ix.chunkSize)
	}

	if ix.workers < 1 {
		ix.workers = 1
	}

	return ix, nil
}

// Run builds a complete index from the collection and returns the saved
// manifest.
func (ix *Indexer) Run(ctx context.Context, coll Collection) (*manifest.Metadata, error) {
	if coll == nil || coll.Len() == 0 {
		return nil, ErrEmptyCollection
	}

	ndocs := coll.Len()
	if uint64(ndocs) > uint64(core.MaxDocID)+1 {
		return nil, fmt.Errorf("indexer: %d documents exceed the id space", ndocs)
	}

	start := time.Now()

	if ix.logger != nil {
		ix.logger.Info("build started", "docs", ndocs, "chunk_size", ix.chunkSize, "nbits", ix.nbits)
	}

	rq, err := ix.trainCodec(ctx, coll)
	if err != nil {
		return nil, err
	}

	infos, totalEmb, err := ix.writeChunks(ctx, coll, rq)
	if err != nil {
		return nil, err
	}

	if err := ix.verifyChunks(ctx, len(infos)); err != nil {
		return nil, err
	}

	if err := ix.buildIVF(ctx, infos, totalEmb, rq.NumCentroids()); err != nil {
		return nil, err
	}

	version, err := manifest.NextVersion(ctx, ix.store)
	if err != nil {
		return nil, fmt.Errorf("indexer: next manifest version: %w", err)
	}

	m := &manifest.Metadata{
		Version: version,
		Config: manifest.IndexConfig{
			Dim:          ix.dim,
			NBits:        ix.nbits,
			NumCentroids: rq.NumCentroids(),
			ChunkSize:    ix.chunkSize,
		},
		NumChunks:     len(infos),
		NumDocs:       int64(ndocs),
		NumEmbeddings: int64(totalEmb),
		AvgResidual:   rq.AvgResidual(),
		Chunks:        infos,
	}

	if err := manifest.Save(ctx, ix.store, ix.mcodec, m); err != nil {
		return nil, fmt.Errorf("indexer: save manifest: %w", err)
	}

	if ix.logger != nil {
		ix.logger.Info("build complete",
			"version", m.Version,
			"chunks", m.NumChunks,
			"docs", m.NumDocs,
			"embeddings", m.NumEmbeddings,
			"centroids", m.Config.NumCentroids,
			"duration", time.Since(start))
	}

	return m, nil
}

// trainCodec samples documents, trains the residual quantizer and persists
// the codec file.
func (ix *Indexer) trainCodec(ctx context.Context, coll Collection) (*quantization.ResidualQuantizer, error) {
	ndocs := coll.Len()

	nsample := int(16 * math.Sqrt(120*float64(ndocs)))
	if nsample > ndocs {
		nsample = ndocs
	}

	rng := rand.New(rand.NewSource(ix.seed))
	pids := rng.Perm(ndocs)[:nsample]
	slices.Sort(pids)

	sample := make([][]float32, len(pids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)

	for i, pid := range pids {
		g.Go(func() error {
			flat, _, err := ix.encodeDoc(gctx, coll, pid)
			if err != nil {
				return err
			}

			sample[i] = flat

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("indexer: encode sample: %w", err)
	}

	var total int
	for _, s := range sample {
		total += len(s)
	}

	vectors := make([]float32, 0, total)
	for _, s := range sample {
		vectors = append(vectors, s...)
	}

	nEmb := total / ix.dim

	// The sample's embeddings-per-document rate extrapolates to the whole
	// collection; that estimate drives the automatic centroid count.
	ncentroids := ix.ncentroids
	if ncentroids <= 0 {
		est := int(float64(nEmb) / float64(len(pids)) * float64(ndocs))
		ncentroids = quantization.DefaultNumCentroids(est)
	}

	if ncentroids > nEmb {
		ncentroids = nEmb
	}

	rq, err := quantization.Train(ctx, vectors, ix.dim,
		quantization.WithNBits(ix.nbits),
		quantization.WithNumCentroids(ncentroids),
		quantization.WithSeed(ix.seed))
	if err != nil {
		return nil, fmt.Errorf("indexer: train codec: %w", err)
	}

	if err := rq.Save(ctx, ix.store, manifest.CodecFileName); err != nil {
		return nil, fmt.Errorf("indexer: save codec: %w", err)
	}

	if ix.logger != nil {
		ix.logger.Info("codec trained",
			"sampled_docs", len(pids),
			"sample_embeddings", nEmb,
			"centroids", rq.NumCentroids(),
			"avg_residual", rq.AvgResidual())
	}

	return rq, nil
}

// encodeDoc encodes one document into a flat row-major token matrix.
func (ix *Indexer) encodeDoc(ctx context.Context, coll Collection, pid int) ([]float32, int, error) {
	text, err := coll.Doc(pid)
	if err != nil {
		return nil, 0, fmt.Errorf("doc %d: %w", pid, err)
	}

	tokens, err := ix.enc.EncodeDoc(ctx, text)
	if err != nil {
		return nil, 0, fmt.Errorf("doc %d: encode: %w", pid, err)
	}

	if len(tokens) == 0 {
		return nil, 0, fmt.Errorf("doc %d: %w", pid, ErrEmptyDocument)
	}

	flat := make([]float32, 0, len(tokens)*ix.dim)

	for _, tok := range tokens {
		if len(tok) != ix.dim {
			return nil, 0, fmt.Errorf("doc %d: %w", pid, &core.DimensionMismatchError{Want: ix.dim, Got: len(tok)})
		}

		flat = append(flat, tok...)
	}

	return flat, len(tokens), nil
}

// writeChunks encodes, compresses and persists every chunk concurrently,
// then fixes up the global offsets in chunk-id order.
func (ix *Indexer) writeChunks(ctx context.Context, coll Collection, rq *quantization.ResidualQuantizer) ([]chunk.Info, int, error) {
	ndocs := coll.Len()
	nchunks := (ndocs + ix.chunkSize - 1) / ix.chunkSize

	w, err := chunk.NewWriter(ix.store, ix.dim, ix.nbits)
	if err != nil {
		return nil, 0, fmt.Errorf("indexer: %w", err)
	}

	// Index-addressed so the parallel schedule cannot reorder anything;
	// offsets are filled in afterwards.
	infos := make([]chunk.Info, nchunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)

	for id := 0; id < nchunks; id++ {
		g.Go(func() error {
			if err := ix.rc.AcquireWorker(gctx); err != nil {
				return fmt.Errorf("chunk %d: %w", id, err)
			}
			defer ix.rc.ReleaseWorker()

			info, err := ix.writeChunk(gctx, coll, rq, w, id)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", id, err)
			}

			infos[id] = info

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("indexer: %w", err)
	}

	// Concatenation in chunk-id order defines the global id spaces.
	var docs, embs int
	for i := range infos {
		infos[i].FirstDocID = core.DocID(docs)
		infos[i].FirstEmbeddingID = core.EmbeddingID(embs)
		docs += infos[i].NumDocs
		embs += infos[i].NumEmbeddings
	}

	return infos, embs, nil
}

func (ix *Indexer) writeChunk(ctx context.Context, coll Collection, rq *quantization.ResidualQuantizer, w *chunk.Writer, id int) (chunk.Info, error) {
	first := id * ix.chunkSize
	last := min(first+ix.chunkSize, coll.Len())

	doclens := make([]uint32, 0, last-first)

	var vecs []float32

	for pid := first; pid < last; pid++ {
		flat, ntokens, err := ix.encodeDoc(ctx, coll, pid)
		if err != nil {
			return chunk.Info{}, err
		}

		doclens = append(doclens, uint32(ntokens))
		vecs = append(vecs, flat...)
	}

	codes, residuals, err := rq.Compress(vecs)
	if err != nil {
		return chunk.Info{}, err
	}

	// Admit the write against the IO budget before it hits the store.
	nbytes := len(doclens)*4 + len(codes)*4 + len(residuals) + 3*persistence.HeaderSize
	if err := ix.rc.AcquireIO(ctx, nbytes); err != nil {
		return chunk.Info{}, err
	}

	if err := w.Write(ctx, id, doclens, codes, residuals); err != nil {
		return chunk.Info{}, err
	}

	if ix.logger != nil {
		ix.logger.Debug("chunk written", "chunk", id, "docs", len(doclens), "embeddings", len(codes))
	}

	return chunk.Info{ID: id, NumDocs: len(doclens), NumEmbeddings: len(codes)}, nil
}

// verifyChunks is the durability barrier: every chunk must be fully present
// in the store before the IVF build starts.
func (ix *Indexer) verifyChunks(ctx context.Context, nchunks int) error {
	for id := 0; id < nchunks; id++ {
		ok, err := chunk.Exists(ctx, ix.store, id)
		if err != nil {
			return fmt.Errorf("indexer: verify chunk %d: %w", id, err)
		}

		if !ok {
			return fmt.Errorf("indexer: chunk %d incomplete after write", id)
		}
	}

	return nil
}

// buildIVF reads codes back chunk-by-chunk in id order and persists the
// inverted file. Codes are re-read from the store rather than kept from the
// compress phase: the IVF must describe what was durably written.
func (ix *Indexer) buildIVF(ctx context.Context, infos []chunk.Info, totalEmb, ncentroids int) error {
	codes := make([]uint32, totalEmb)

	for _, info := range infos {
		r, err := chunk.Open(ctx, ix.store, info.ID)
		if err != nil {
			return fmt.Errorf("indexer: reopen chunk %d: %w", info.ID, err)
		}

		chunkCodes, err := r.Codes(ctx)
		closeErr := r.Close()

		if err != nil {
			return fmt.Errorf("indexer: read codes of chunk %d: %w", info.ID, err)
		}

		if closeErr != nil {
			return fmt.Errorf("indexer: close chunk %d: %w", info.ID, closeErr)
		}

		if len(chunkCodes) != info.NumEmbeddings {
			return fmt.Errorf("indexer: chunk %d holds %d codes, wrote %d", info.ID, len(chunkCodes), info.NumEmbeddings)
		}

		copy(codes[info.FirstEmbeddingID:], chunkCodes)
	}

	inverted, err := ivf.Build(codes, ncentroids)
	if err != nil {
		return fmt.Errorf("indexer: build ivf: %w", err)
	}

	if err := inverted.Save(ctx, ix.store, manifest.IVFFileName); err != nil {
		return fmt.Errorf("indexer: save ivf: %w", err)
	}

	if ix.logger != nil {
		ix.logger.Info("ivf built", "centroids", inverted.NumCentroids(), "embeddings", inverted.NumEmbeddings())
	}

	return nil
}
