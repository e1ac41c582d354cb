package maxsim

import (
	"errors"
	"fmt"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/quantization"
)

var (
	// ErrNotFound is returned when no index exists at the store, or by
	// QueryBuilder.First when the query matched nothing.
	ErrNotFound = errors.New("maxsim: not found")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("maxsim: engine closed")

	// ErrNoEncoder is returned by text search on an engine opened without
	// WithEncoder.
	ErrNoEncoder = errors.New("maxsim: no encoder configured")

	// ErrInvalidDimension is returned when the embedding dimension and nbits
	// cannot produce whole residual bytes.
	ErrInvalidDimension = errors.New("maxsim: invalid dimension")

	// ErrInvalidNBits is returned for residual precision outside 1..8 bits.
	ErrInvalidNBits = errors.New("maxsim: invalid nbits")

	// ErrEmptySample is returned when a build collects no embeddings to
	// train on.
	ErrEmptySample = errors.New("maxsim: empty training sample")

	// ErrDegenerateSample is returned when the training embeddings collapse
	// onto too few distinct points for the requested centroid count.
	ErrDegenerateSample = errors.New("maxsim: degenerate training sample")
)

// translateError maps subpackage errors onto the package sentinels at the
// API boundary. The original error stays on the chain for errors.Is and
// errors.As; anything without a sentinel mapping passes through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, quantization.ErrInvalidDimension):
		return fmt.Errorf("%w: %w", ErrInvalidDimension, err)
	case errors.Is(err, quantization.ErrInvalidNBits):
		return fmt.Errorf("%w: %w", ErrInvalidNBits, err)
	case errors.Is(err, quantization.ErrEmptySample):
		return fmt.Errorf("%w: %w", ErrEmptySample, err)
	case errors.Is(err, quantization.ErrDegenerateSample):
		return fmt.Errorf("%w: %w", ErrDegenerateSample, err)
	}

	return err
}
