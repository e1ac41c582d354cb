package quantization

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/persistence"
)

// Codec file payload, after the 64-byte header (all shapes derive from the
// header's Dim, NBits and Count fields):
//
//	centroids   Count*Dim float32
//	cutoffs     2^NBits - 1 float32
//	weights     2^NBits float32
//	avgResidual float32
//
// The payload is block-compressed (zstd) and checksummed as stored.

// Save writes the trained codec to name in store.
func (rq *ResidualQuantizer) Save(ctx context.Context, store blobstore.Store, name string) error {
	var payload bytes.Buffer

	bw := persistence.NewBinaryWriter(&payload)

	if err := bw.WriteFloat32Slice(rq.centroids); err != nil {
		return fmt.Errorf("write centroids: %w", err)
	}

	if err := bw.WriteFloat32Slice(rq.cutoffs); err != nil {
		return fmt.Errorf("write cutoffs: %w", err)
	}

	if err := bw.WriteFloat32Slice(rq.weights); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}

	if err := bw.WriteFloat32Value(rq.avgResidual); err != nil {
		return fmt.Errorf("write avg residual: %w", err)
	}

	var stored bytes.Buffer

	cw := persistence.NewBlockWriter(&stored, persistence.CompressionZSTD, 0)
	if _, err := cw.Write(payload.Bytes()); err != nil {
		return fmt.Errorf("compress codec payload: %w", err)
	}

	if err := cw.Flush(); err != nil {
		return fmt.Errorf("compress codec payload: %w", err)
	}

	header := persistence.NewFileHeader(persistence.FileKindCodec)
	header.Dim = uint32(rq.dim)
	header.NBits = uint8(rq.nbits)
	header.Compression = uint8(persistence.CompressionZSTD)
	header.Count = uint64(rq.NumCentroids())
	header.PayloadSize = uint64(stored.Len())
	header.Checksum = persistence.Checksum(stored.Bytes())

	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal codec header: %w", err)
	}

	file := make([]byte, 0, len(headerBytes)+stored.Len())
	file = append(file, headerBytes...)
	file = append(file, stored.Bytes()...)

	return store.Put(ctx, name, file)
}

// Load reads a codec file saved by Save. The returned quantizer uses the
// default scalar backend; use SetBackend before sharing it.
func Load(ctx context.Context, store blobstore.Store, name string) (*ResidualQuantizer, error) {
	data, err := blobstore.ReadAll(ctx, store, name)
	if err != nil {
		return nil, fmt.Errorf("read codec file: %w", err)
	}

	var header persistence.FileHeader
	if err := header.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	if err := header.Validate(persistence.FileKindCodec); err != nil {
		return nil, err
	}

	stored := data[persistence.HeaderSize:]
	if uint64(len(stored)) != header.PayloadSize {
		return nil, fmt.Errorf("codec payload is %d bytes, header says %d", len(stored), header.PayloadSize)
	}

	if err := persistence.VerifyChecksum(header.Checksum, persistence.Checksum(stored)); err != nil {
		return nil, err
	}

	payload, err := persistence.DecompressAll(stored, persistence.CompressionType(header.Compression))
	if err != nil {
		return nil, fmt.Errorf("decompress codec payload: %w", err)
	}

	dim := int(header.Dim)
	nbits := int(header.NBits)
	numCentroids := int(header.Count)

	if nbits < 1 || nbits > 8 {
		return nil, ErrInvalidNBits
	}

	if dim <= 0 || dim*nbits%8 != 0 {
		return nil, ErrInvalidDimension
	}

	buckets := 1 << nbits

	br := persistence.NewBinaryReader(bytes.NewReader(payload))

	centroids, err := br.ReadFloat32Slice(numCentroids * dim)
	if err != nil {
		return nil, fmt.Errorf("read centroids: %w", err)
	}

	cutoffs, err := br.ReadFloat32Slice(buckets - 1)
	if err != nil {
		return nil, fmt.Errorf("read cutoffs: %w", err)
	}

	weights, err := br.ReadFloat32Slice(buckets)
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}

	avgResidual, err := br.ReadFloat32Value()
	if err != nil {
		return nil, fmt.Errorf("read avg residual: %w", err)
	}

	rq := &ResidualQuantizer{
		dim:         dim,
		nbits:       nbits,
		packedLen:   PackedLen(dim, nbits),
		batchSize:   defaultBatchSize,
		centroids:   centroids,
		cutoffs:     cutoffs,
		weights:     weights,
		avgResidual: avgResidual,
		backend:     ScalarBackend{},
	}

	rq.buildLookup()

	return rq, nil
}
