package ivf

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/persistence"
)

// File payload, in logical (uncompressed) order:
//
//	offsets  (ncentroids+1) x uint64
//	eids     offsets[ncentroids] x uint32
//
// The header carries the centroid count; both shapes derive from it.

// Save writes the inverted file through block compression. The file is only
// ever loaded whole, so compression costs nothing at query time.
func (f *IVF) Save(ctx context.Context, store blobstore.Store, name string) error {
	var payload bytes.Buffer

	payload.Grow(len(f.offsets)*8 + len(f.eids)*4)

	bw := persistence.NewBinaryWriter(&payload)

	if err := bw.WriteUint64Slice(f.offsets); err != nil {
		return fmt.Errorf("ivf: encode offsets: %w", err)
	}

	if err := bw.WriteUint32Slice(f.eids); err != nil {
		return fmt.Errorf("ivf: encode embedding ids: %w", err)
	}

	var stored bytes.Buffer

	cw := persistence.NewBlockWriter(&stored, persistence.CompressionZSTD, 0)
	if _, err := cw.Write(payload.Bytes()); err != nil {
		return fmt.Errorf("ivf: compress: %w", err)
	}

	if err := cw.Flush(); err != nil {
		return fmt.Errorf("ivf: compress: %w", err)
	}

	header := persistence.NewFileHeader(persistence.FileKindIVF)
	header.Compression = uint8(persistence.CompressionZSTD)
	header.Count = uint64(f.NumCentroids())
	header.PayloadSize = uint64(stored.Len())
	header.Checksum = persistence.Checksum(stored.Bytes())

	hdr, err := header.MarshalBinary()
	if err != nil {
		return err
	}

	buf := make([]byte, 0, len(hdr)+stored.Len())
	buf = append(buf, hdr...)
	buf = append(buf, stored.Bytes()...)

	return store.Put(ctx, name, buf)
}

// Load reads an inverted file and revalidates its structural invariant.
func Load(ctx context.Context, store blobstore.Store, name string) (*IVF, error) {
	data, err := blobstore.ReadAll(ctx, store, name)
	if err != nil {
		return nil, fmt.Errorf("ivf: %w", err)
	}

	var header persistence.FileHeader
	if err := header.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("ivf: %w", err)
	}

	if err := header.Validate(persistence.FileKindIVF); err != nil {
		return nil, fmt.Errorf("ivf: %w", err)
	}

	if got := uint64(len(data) - persistence.HeaderSize); got != header.PayloadSize {
		return nil, fmt.Errorf("ivf: file holds %d payload bytes, header says %d", got, header.PayloadSize)
	}

	stored := data[persistence.HeaderSize:]

	if err := persistence.VerifyChecksum(header.Checksum, persistence.Checksum(stored)); err != nil {
		return nil, fmt.Errorf("ivf: %w", err)
	}

	payload, err := persistence.DecompressAll(stored, persistence.CompressionType(header.Compression))
	if err != nil {
		return nil, fmt.Errorf("ivf: decompress: %w", err)
	}

	ncentroids := int(header.Count)
	if ncentroids <= 0 {
		return nil, fmt.Errorf("ivf: invalid centroid count %d", ncentroids)
	}

	br := persistence.NewBinaryReader(bytes.NewReader(payload))

	offsets, err := br.ReadUint64Slice(ncentroids + 1)
	if err != nil {
		return nil, fmt.Errorf("ivf: read offsets: %w", err)
	}

	total := offsets[ncentroids]
	if want := uint64(ncentroids+1)*8 + total*4; uint64(len(payload)) != want {
		return nil, fmt.Errorf("ivf: payload is %d bytes, want %d for %d embeddings", len(payload), want, total)
	}

	eids, err := br.ReadUint32Slice(int(total))
	if err != nil {
		return nil, fmt.Errorf("ivf: read embedding ids: %w", err)
	}

	f := &IVF{offsets: offsets, eids: eids}
	if err := f.validate(); err != nil {
		return nil, err
	}

	return f, nil
}
