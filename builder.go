package maxsim

import (
	"context"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/codec"
	"github.com/hupe1980/maxsim/encoder"
	"github.com/hupe1980/maxsim/indexer"
	"github.com/hupe1980/maxsim/manifest"
	"github.com/hupe1980/maxsim/resource"
)

// Builder assembles an engine configuration with a fluent API. Builder
// values are immutable; every method returns a copy, so a partially
// configured builder can be stored and forked.
//
//	eng, err := maxsim.Local("./data").
//		Encoder(enc).
//		NProbe(4).
//		Open(ctx)
type Builder struct {
	store blobstore.Store
	opts  []Option
}

// Local starts a builder over a directory on the local filesystem.
func Local(path string) Builder {
	return Remote(blobstore.NewLocalStore(path))
}

// Remote starts a builder over an arbitrary blob store, such as s3.Store or
// minio.Store.
func Remote(store blobstore.Store) Builder {
	return Builder{store: store}
}

// with returns a copy holding one more option. The copy owns its backing
// array, so forked builders never see each other's appends.
func (b Builder) with(fn Option) Builder {
	opts := make([]Option, len(b.opts), len(b.opts)+1)
	copy(opts, b.opts)
	b.opts = append(opts, fn)

	return b
}

// Encoder sets the encoder used by Build and by text queries.
func (b Builder) Encoder(enc encoder.Encoder) Builder {
	return b.with(WithEncoder(enc))
}

// NBits sets the residual precision in bits per dimension.
func (b Builder) NBits(n int) Builder {
	return b.with(WithNBits(n))
}

// Centroids fixes the centroid count for builds.
func (b Builder) Centroids(n int) Builder {
	return b.with(WithNumCentroids(n))
}

// ChunkSize sets the number of documents per chunk for builds.
func (b Builder) ChunkSize(n int) Builder {
	return b.with(WithChunkSize(n))
}

// Seed fixes the sampling and training seed for reproducible builds.
func (b Builder) Seed(seed int64) Builder {
	return b.with(WithSeed(seed))
}

// NProbe sets the default number of centroid runs probed per query token.
func (b Builder) NProbe(n int) Builder {
	return b.with(WithNProbe(n))
}

// MaxConcurrency bounds build and search parallelism.
func (b Builder) MaxConcurrency(n int) Builder {
	return b.with(WithMaxConcurrency(n))
}

// Resources routes admission through a shared resource controller.
func (b Builder) Resources(rc *resource.Controller) Builder {
	return b.with(WithResourceController(rc))
}

// Codec sets the manifest codec.
func (b Builder) Codec(c codec.Codec) Builder {
	return b.with(WithCodec(c))
}

// Logger enables structured logging.
func (b Builder) Logger(logger *Logger) Builder {
	return b.with(WithLogger(logger))
}

// Metrics enables metrics collection.
func (b Builder) Metrics(mc MetricsCollector) Builder {
	return b.with(WithMetricsCollector(mc))
}

// Build indexes the collection and publishes a new generation on the
// builder's store. An encoder must have been set.
func (b Builder) Build(ctx context.Context, coll indexer.Collection) (*manifest.Metadata, error) {
	opts := applyOptions(b.opts)
	if opts.encoder == nil {
		return nil, ErrNoEncoder
	}

	return Build(ctx, b.store, opts.encoder, coll, b.opts...)
}

// Open opens the current generation on the builder's store.
func (b Builder) Open(ctx context.Context) (*Engine, error) {
	return Open(ctx, b.store, b.opts...)
}

// MustOpen is like Open but panics on error. Intended for tests and
// examples.
func (b Builder) MustOpen(ctx context.Context) *Engine {
	e, err := b.Open(ctx)
	if err != nil {
		panic(err)
	}

	return e
}
