package chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/persistence"
)

// Reader provides read access to one chunk. Full reads verify the file
// checksum; the ranged reads used at query time address records directly and
// rely on the write-time checksum plus the backend's integrity guarantees.
//
// A Reader is safe for concurrent use once opened.
type Reader struct {
	id int

	doclens   blobstore.Blob
	codes     blobstore.Blob
	residuals blobstore.Blob

	doclensHeader   persistence.FileHeader
	codesHeader     persistence.FileHeader
	residualsHeader persistence.FileHeader

	numDocs       int
	numEmbeddings int
	dim           int
	nbits         int
	packedLen     int
}

// Open opens the chunk's three files and cross-checks their headers.
func Open(ctx context.Context, store blobstore.Store, id int) (_ *Reader, err error) {
	r := &Reader{id: id}

	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	if r.doclens, err = store.Open(ctx, DoclensName(id)); err != nil {
		return nil, fmt.Errorf("chunk %d: doclens: %w", id, err)
	}

	if r.codes, err = store.Open(ctx, CodesName(id)); err != nil {
		return nil, fmt.Errorf("chunk %d: codes: %w", id, err)
	}

	if r.residuals, err = store.Open(ctx, ResidualsName(id)); err != nil {
		return nil, fmt.Errorf("chunk %d: residuals: %w", id, err)
	}

	if r.doclensHeader, err = readHeader(ctx, r.doclens, persistence.FileKindDoclens); err != nil {
		return nil, fmt.Errorf("chunk %d: doclens: %w", id, err)
	}

	if r.codesHeader, err = readHeader(ctx, r.codes, persistence.FileKindCodes); err != nil {
		return nil, fmt.Errorf("chunk %d: codes: %w", id, err)
	}

	if r.residualsHeader, err = readHeader(ctx, r.residuals, persistence.FileKindResiduals); err != nil {
		return nil, fmt.Errorf("chunk %d: residuals: %w", id, err)
	}

	if err = r.validate(); err != nil {
		return nil, fmt.Errorf("chunk %d: %w", id, err)
	}

	return r, nil
}

// validate cross-checks the three headers against each other and against
// the fixed record sizes.
func (r *Reader) validate() error {
	r.numDocs = int(r.doclensHeader.Count)
	r.numEmbeddings = int(r.codesHeader.Count)
	r.dim = int(r.codesHeader.Dim)
	r.nbits = int(r.codesHeader.NBits)

	if r.dim <= 0 || r.nbits < 1 || r.dim*r.nbits%8 != 0 {
		return fmt.Errorf("invalid shape: dim %d, nbits %d", r.dim, r.nbits)
	}

	r.packedLen = r.dim * r.nbits / 8

	if r.residualsHeader.Count != r.codesHeader.Count {
		return fmt.Errorf("codes hold %d embeddings, residuals %d", r.codesHeader.Count, r.residualsHeader.Count)
	}

	if r.residualsHeader.Dim != r.codesHeader.Dim || r.residualsHeader.NBits != r.codesHeader.NBits {
		return errors.New("codes and residuals disagree on embedding shape")
	}

	if want := uint64(r.numDocs) * 4; r.doclensHeader.PayloadSize != want {
		return fmt.Errorf("doclens payload is %d bytes, want %d", r.doclensHeader.PayloadSize, want)
	}

	if want := uint64(r.numEmbeddings) * 4; r.codesHeader.PayloadSize != want {
		return fmt.Errorf("codes payload is %d bytes, want %d", r.codesHeader.PayloadSize, want)
	}

	if want := uint64(r.numEmbeddings) * uint64(r.packedLen); r.residualsHeader.PayloadSize != want {
		return fmt.Errorf("residuals payload is %d bytes, want %d", r.residualsHeader.PayloadSize, want)
	}

	return nil
}

// ID returns the chunk id.
func (r *Reader) ID() int {
	return r.id
}

// NumDocs returns the number of documents in the chunk.
func (r *Reader) NumDocs() int {
	return r.numDocs
}

// NumEmbeddings returns the number of embeddings in the chunk.
func (r *Reader) NumEmbeddings() int {
	return r.numEmbeddings
}

// Dim returns the embedding dimension recorded in the chunk headers.
func (r *Reader) Dim() int {
	return r.dim
}

// NBits returns the residual bits per dimension recorded in the headers.
func (r *Reader) NBits() int {
	return r.nbits
}

// Doclens reads all per-document token counts, verifying the checksum.
func (r *Reader) Doclens(ctx context.Context) ([]uint32, error) {
	payload, err := r.payload(ctx, r.doclens, r.doclensHeader)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: doclens: %w", r.id, err)
	}

	return persistence.NewBinaryReader(bytes.NewReader(payload)).ReadUint32Slice(r.numDocs)
}

// Codes reads all centroid codes, verifying the checksum. The IVF build
// uses this path.
func (r *Reader) Codes(ctx context.Context) ([]uint32, error) {
	payload, err := r.payload(ctx, r.codes, r.codesHeader)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: codes: %w", r.id, err)
	}

	return persistence.NewBinaryReader(bytes.NewReader(payload)).ReadUint32Slice(r.numEmbeddings)
}

// Residuals reads all packed residual bytes, verifying the checksum.
func (r *Reader) Residuals(ctx context.Context) ([]byte, error) {
	payload, err := r.payload(ctx, r.residuals, r.residualsHeader)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: residuals: %w", r.id, err)
	}

	return payload, nil
}

// CodesAt reads the centroid codes of local embeddings [first, first+count).
func (r *Reader) CodesAt(ctx context.Context, first, count int) ([]uint32, error) {
	if err := r.checkRange(first, count); err != nil {
		return nil, err
	}

	if count == 0 {
		return nil, nil
	}

	buf := make([]byte, count*4)
	off := int64(persistence.HeaderSize) + int64(first)*4

	if _, err := readFull(ctx, r.codes, buf, off); err != nil {
		return nil, fmt.Errorf("chunk %d: codes [%d, %d): %w", r.id, first, first+count, err)
	}

	return persistence.NewBinaryReader(bytes.NewReader(buf)).ReadUint32Slice(count)
}

// ResidualsAt reads the packed residuals of local embeddings
// [first, first+count).
func (r *Reader) ResidualsAt(ctx context.Context, first, count int) ([]byte, error) {
	if err := r.checkRange(first, count); err != nil {
		return nil, err
	}

	if count == 0 {
		return nil, nil
	}

	buf := make([]byte, count*r.packedLen)
	off := int64(persistence.HeaderSize) + int64(first)*int64(r.packedLen)

	if _, err := readFull(ctx, r.residuals, buf, off); err != nil {
		return nil, fmt.Errorf("chunk %d: residuals [%d, %d): %w", r.id, first, first+count, err)
	}

	return buf, nil
}

// Close releases the underlying blobs.
func (r *Reader) Close() error {
	var errs []error

	for _, b := range []blobstore.Blob{r.doclens, r.codes, r.residuals} {
		if b == nil {
			continue
		}

		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Reader) checkRange(first, count int) error {
	if first < 0 || count < 0 || first+count > r.numEmbeddings {
		return fmt.Errorf("chunk %d: embedding range [%d, %d) outside [0, %d)", r.id, first, first+count, r.numEmbeddings)
	}

	return nil
}

func (r *Reader) payload(ctx context.Context, blob blobstore.Blob, header persistence.FileHeader) ([]byte, error) {
	buf := make([]byte, header.PayloadSize)
	if _, err := readFull(ctx, blob, buf, persistence.HeaderSize); err != nil {
		return nil, err
	}

	if err := persistence.VerifyChecksum(header.Checksum, persistence.Checksum(buf)); err != nil {
		return nil, err
	}

	return buf, nil
}

// readHeader reads and validates one chunk file header. Chunk payloads are
// always stored uncompressed.
func readHeader(ctx context.Context, blob blobstore.Blob, kind uint8) (persistence.FileHeader, error) {
	buf := make([]byte, persistence.HeaderSize)
	if _, err := readFull(ctx, blob, buf, 0); err != nil {
		return persistence.FileHeader{}, err
	}

	var header persistence.FileHeader
	if err := header.UnmarshalBinary(buf); err != nil {
		return persistence.FileHeader{}, err
	}

	if err := header.Validate(kind); err != nil {
		return persistence.FileHeader{}, err
	}

	if persistence.CompressionType(header.Compression) != persistence.CompressionNone {
		return persistence.FileHeader{}, fmt.Errorf("unsupported chunk compression %d", header.Compression)
	}

	if got, want := blob.Size(), int64(persistence.HeaderSize)+int64(header.PayloadSize); got != want {
		return persistence.FileHeader{}, fmt.Errorf("file size %d does not match header payload size %d", got, header.PayloadSize)
	}

	return header, nil
}

// readFull reads exactly len(p) bytes at off, treating a short read as
// io.ErrUnexpectedEOF.
func readFull(ctx context.Context, blob blobstore.Blob, p []byte, off int64) (int, error) {
	n, err := blob.ReadAt(ctx, p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}

	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}

	return n, nil
}
