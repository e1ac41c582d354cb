package chunk

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/persistence"
)

// Writer persists chunks through a blobstore. Each file is written with
// store.Put, so a failed write never leaves a partial blob behind. Increasing
// chunk-id discipline is owned by the caller; Writer only checks shape.
//
// A Writer is stateless and safe for concurrent use by parallel chunk jobs.
type Writer struct {
	store     blobstore.Store
	dim       int
	nbits     int
	packedLen int
}

// NewWriter returns a Writer for embeddings of the given dimension and
// residual width.
func NewWriter(store blobstore.Store, dim, nbits int) (*Writer, error) {
	if dim <= 0 || nbits < 1 || dim*nbits%8 != 0 {
		return nil, fmt.Errorf("chunk: invalid shape: dim %d, nbits %d", dim, nbits)
	}

	return &Writer{
		store:     store,
		dim:       dim,
		nbits:     nbits,
		packedLen: dim * nbits / 8,
	}, nil
}

// Write persists one chunk as its three files. doclens holds the per-document
// token counts, codes one centroid code per embedding in document order, and
// residuals the packed residual bytes in the same order.
func (w *Writer) Write(ctx context.Context, id int, doclens, codes []uint32, residuals []byte) error {
	if id < 0 {
		return fmt.Errorf("chunk: negative chunk id %d", id)
	}

	if len(doclens) == 0 {
		return fmt.Errorf("chunk %d: no documents", id)
	}

	var total uint64
	for _, dl := range doclens {
		total += uint64(dl)
	}

	if total != uint64(len(codes)) {
		return fmt.Errorf("chunk %d: doclens sum to %d embeddings, got %d codes", id, total, len(codes))
	}

	if len(residuals) != len(codes)*w.packedLen {
		return fmt.Errorf("chunk %d: %d codes need %d residual bytes, got %d", id, len(codes), len(codes)*w.packedLen, len(residuals))
	}

	if err := w.writeFile(ctx, DoclensName(id), persistence.FileKindDoclens, uint64(len(doclens)), uint32Payload(doclens)); err != nil {
		return fmt.Errorf("chunk %d: doclens: %w", id, err)
	}

	if err := w.writeFile(ctx, CodesName(id), persistence.FileKindCodes, uint64(len(codes)), uint32Payload(codes)); err != nil {
		return fmt.Errorf("chunk %d: codes: %w", id, err)
	}

	if err := w.writeFile(ctx, ResidualsName(id), persistence.FileKindResiduals, uint64(len(codes)), residuals); err != nil {
		return fmt.Errorf("chunk %d: residuals: %w", id, err)
	}

	return nil
}

func (w *Writer) writeFile(ctx context.Context, name string, kind uint8, count uint64, payload []byte) error {
	header := persistence.NewFileHeader(kind)
	header.NBits = uint8(w.nbits)
	header.Compression = uint8(persistence.CompressionNone)
	header.Dim = uint32(w.dim)
	header.Count = count
	header.PayloadSize = uint64(len(payload))
	header.Checksum = persistence.Checksum(payload)

	hdr, err := header.MarshalBinary()
	if err != nil {
		return err
	}

	buf := make([]byte, 0, len(hdr)+len(payload))
	buf = append(buf, hdr...)
	buf = append(buf, payload...)

	return w.store.Put(ctx, name, buf)
}

// uint32Payload renders a uint32 slice in the little-endian on-disk form.
func uint32Payload(values []uint32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}

	return buf
}
