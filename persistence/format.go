package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MagicNumber identifies index files (ASCII: "MXS1")
	MagicNumber = 0x4D585331
	// FormatVersion is the current file format version (v1.0.0)
	FormatVersion = 0x00010000

	// HeaderSize is the encoded size of FileHeader. Every record offset in a
	// file is computed relative to this fixed prefix, so it must never change
	// within a format version.
	HeaderSize = 64
)

// File kinds.
const (
	FileKindCodec     uint8 = 1
	FileKindDoclens   uint8 = 2
	FileKindCodes     uint8 = 3
	FileKindResiduals uint8 = 4
	FileKindIVF       uint8 = 5
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported format version")
	ErrInvalidKind    = errors.New("unexpected file kind")
	ErrShortHeader    = errors.New("truncated file header")
)

// FileHeader is the 64-byte header at the start of every index file.
// Shape fields (Dim, NBits, Count) carry whatever is primary for the file
// kind: centroid count for codec files, document count for doclens files,
// embedding count for codes/residuals files, centroid count for IVF files.
type FileHeader struct {
	Magic       uint32 // 0x4D585331 ("MXS1")
	Version     uint32 // File format version
	Kind        uint8  // FileKind* constant
	NBits       uint8  // Bits per residual component (0 where not applicable)
	Compression uint8  // CompressionType of the payload
	Padding1    [1]byte
	Dim         uint32 // Embedding dimensionality (0 where not applicable)
	Count       uint64 // Primary record count for this file kind
	PayloadSize uint64 // Payload bytes following the header, as stored
	Checksum    uint32 // CRC32 (IEEE) of the stored payload
	Padding2    [4]byte
	Reserved    [24]byte // Future use
}

// NewFileHeader returns a header of the given kind with magic and version set.
func NewFileHeader(kind uint8) FileHeader {
	return FileHeader{
		Magic:   MagicNumber,
		Version: FormatVersion,
		Kind:    kind,
	}
}

// Validate checks magic, version and the expected file kind.
func (h *FileHeader) Validate(kind uint8) error {
	if h.Magic != MagicNumber {
		return fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, h.Magic)
	}

	if h.Version != FormatVersion {
		return fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, h.Version)
	}

	if h.Kind != kind {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidKind, h.Kind, kind)
	}

	return nil
}

// MarshalBinary encodes the header into its fixed 64-byte form.
func (h *FileHeader) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary decodes the header from the first 64 bytes of data. It does
// not validate; callers follow up with Validate.
func (h *FileHeader) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return ErrShortHeader
	}

	return binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, h)
}
