package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType defines the compression algorithm used for a file payload.
type CompressionType uint8

const (
	// CompressionNone indicates no compression. Chunk codes and residuals use
	// this so record offsets stay addressable for ranged reads.
	CompressionNone CompressionType = 0
	// CompressionLZ4 indicates LZ4 block compression (fast decompression).
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD indicates ZSTD block compression (better ratio). The
	// default for codec and IVF files, which are always loaded whole.
	CompressionZSTD CompressionType = 2
)

// String implements fmt.Stringer.
func (t CompressionType) String() string {
	switch t {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}

	// Level 3 balances compression ratio vs speed
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}

	dec, _ := zstd.NewReader(nil)

	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// BlockHeaderSize is the per-block prefix: uncompressed size followed by
// compressed size, both uint32 little-endian. A compressed size of zero marks
// a stored (uncompressed) block.
const BlockHeaderSize = 8

// CompressBlock compresses a block using the specified algorithm and prepends
// the block header. With CompressionNone the data is returned unchanged and
// headerless.
func CompressBlock(data []byte, typ CompressionType) ([]byte, error) {
	if typ == CompressionNone || len(data) == 0 {
		return data, nil
	}

	var (
		compressed []byte
		err        error
	)

	switch typ {
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZSTD:
		compressed, err = compressZSTD(data)
	default:
		return nil, fmt.Errorf("unknown compression type %d", typ)
	}

	if err != nil {
		return nil, err
	}

	// If compression doesn't help (ratio > 0.9), store the block as-is.
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		result := make([]byte, BlockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(result[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(result[4:], 0) // 0 = stored
		copy(result[BlockHeaderSize:], data)

		return result, nil
	}

	result := make([]byte, BlockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(result[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(result[4:], uint32(len(compressed)))
	copy(result[BlockHeaderSize:], compressed)

	return result, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}

	if n == 0 {
		return nil, nil // Incompressible
	}

	return compressed[:n], nil
}

func compressZSTD(data []byte) ([]byte, error) {
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)

	return enc.EncodeAll(data, nil), nil
}

// DecompressBlock decompresses a single block produced by CompressBlock and
// returns the payload plus the number of stored bytes consumed.
func DecompressBlock(data []byte, typ CompressionType) ([]byte, int, error) {
	if len(data) < BlockHeaderSize {
		return nil, 0, errors.New("block too small for header")
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	compressedSize := binary.LittleEndian.Uint32(data[4:])

	if compressedSize == 0 {
		// Stored block
		end := BlockHeaderSize + int(uncompressedSize)
		if len(data) < end {
			return nil, 0, errors.New("block data too small")
		}

		return data[BlockHeaderSize:end], end, nil
	}

	end := BlockHeaderSize + int(compressedSize)
	if len(data) < end {
		return nil, 0, errors.New("compressed block data too small")
	}

	compressedData := data[BlockHeaderSize:end]
	result := make([]byte, uncompressedSize)

	switch typ {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(compressedData, result)
		if err != nil {
			return nil, 0, err
		}

		if uint32(n) != uncompressedSize {
			return nil, 0, errors.New("decompressed size mismatch")
		}

		return result, end, nil

	case CompressionZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		decoded, err := dec.DecodeAll(compressedData, result[:0])
		if err != nil {
			return nil, 0, err
		}

		if uint32(len(decoded)) != uncompressedSize {
			return nil, 0, errors.New("decompressed size mismatch")
		}

		return decoded, end, nil

	default:
		return nil, 0, fmt.Errorf("unknown compression type %d", typ)
	}
}

// DecompressAll decompresses a sequence of blocks back into the full payload.
// With CompressionNone the data is returned unchanged.
func DecompressAll(data []byte, typ CompressionType) ([]byte, error) {
	if typ == CompressionNone {
		return data, nil
	}

	var result []byte

	for len(data) > 0 {
		block, consumed, err := DecompressBlock(data, typ)
		if err != nil {
			return nil, err
		}

		result = append(result, block...)
		data = data[consumed:]
	}

	return result, nil
}

// BlockWriter splits a stream into fixed-size blocks and writes each through
// CompressBlock. With CompressionNone it degrades to a plain pass-through so
// the payload layout matches ranged-read expectations.
type BlockWriter struct {
	w         io.Writer
	typ       CompressionType
	blockSize int
	buffer    *bytes.Buffer
	written   int64
}

// NewBlockWriter creates a new compressed block writer.
func NewBlockWriter(w io.Writer, typ CompressionType, blockSize int) *BlockWriter {
	if blockSize <= 0 {
		blockSize = 256 * 1024 // 256KB default block size
	}

	return &BlockWriter{
		w:         w,
		typ:       typ,
		blockSize: blockSize,
		buffer:    bytes.NewBuffer(make([]byte, 0, blockSize)),
	}
}

// Write implements io.Writer, flushing full blocks as needed.
func (bw *BlockWriter) Write(p []byte) (int, error) {
	if bw.typ == CompressionNone {
		n, err := bw.w.Write(p)
		bw.written += int64(n)

		return n, err
	}

	total := 0

	for len(p) > 0 {
		space := bw.blockSize - bw.buffer.Len()
		if space <= 0 {
			if err := bw.flushBlock(); err != nil {
				return total, err
			}

			space = bw.blockSize
		}

		toWrite := len(p)
		if toWrite > space {
			toWrite = space
		}

		n, err := bw.buffer.Write(p[:toWrite])
		if err != nil {
			return total, err
		}

		total += n
		p = p[n:]
	}

	return total, nil
}

func (bw *BlockWriter) flushBlock() error {
	if bw.buffer.Len() == 0 {
		return nil
	}

	compressed, err := CompressBlock(bw.buffer.Bytes(), bw.typ)
	if err != nil {
		return err
	}

	n, err := bw.w.Write(compressed)
	if err != nil {
		return err
	}

	bw.written += int64(n)
	bw.buffer.Reset()

	return nil
}

// Flush writes any remaining buffered data as a final block.
func (bw *BlockWriter) Flush() error {
	if bw.typ == CompressionNone {
		return nil
	}

	return bw.flushBlock()
}

// BytesWritten returns the total stored bytes written so far.
func (bw *BlockWriter) BytesWritten() int64 {
	return bw.written
}
