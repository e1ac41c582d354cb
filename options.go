package maxsim

import (
	"log/slog"

	"github.com/hupe1980/maxsim/codec"
	"github.com/hupe1980/maxsim/encoder"
	"github.com/hupe1980/maxsim/resource"
)

type options struct {
	encoder          encoder.Encoder
	codec            codec.Codec
	nbits            int
	ncentroids       int
	chunkSize        int
	seed             *int64
	nprobe           int
	maxConcurrency   int
	resources        *resource.Controller
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Build and Open behavior. Build ignores search-side
// options and Open ignores build-side ones, so the same option list can be
// passed to both.
type Option func(*options)

// WithEncoder configures the encoder used by SearchText and QueryText.
// Open works without one; text search then returns ErrNoEncoder.
func WithEncoder(enc encoder.Encoder) Option {
	return func(o *options) {
		o.encoder = enc
	}
}

// WithCodec configures the codec a build encodes the manifest with. Load
// never needs it; manifests name their codec.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithNBits sets the residual precision in bits per dimension (1..8).
// Build-side only. Default: 2.
func WithNBits(n int) Option {
	return func(o *options) {
		o.nbits = n
	}
}

// WithNumCentroids fixes the centroid count instead of sizing it from the
// estimated collection embedding count. Build-side only.
func WithNumCentroids(n int) Option {
	return func(o *options) {
		o.ncentroids = n
	}
}

// WithChunkSize sets the number of documents per chunk. Build-side only.
// Default: 25000.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

// WithSeed fixes the sampling and training seed, making builds
// reproducible. Build-side only.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = &seed
	}
}

// WithNProbe sets how many centroid runs each query token probes.
// Search-side only. Default: 2.
func WithNProbe(n int) Option {
	return func(o *options) {
		o.nprobe = n
	}
}

// WithMaxConcurrency bounds parallelism: concurrent chunk jobs during Build,
// concurrent candidate scoring during search. Default: GOMAXPROCS.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		o.maxConcurrency = n
	}
}

// WithResourceController routes memory, worker and IO admission through the
// given controller, typically shared across engines on one host.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithMetricsCollector configures a metrics collector for monitoring.
//
// If nil is passed, metrics are disabled.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
//
// If nil is passed, logging is disabled.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}

	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	return o
}
