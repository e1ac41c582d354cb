package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"
)

var (
	// ErrUnsupportedArchitecture is returned when running on unsupported CPU architecture
	ErrUnsupportedArchitecture = errors.New("unsupported architecture: only amd64 and arm64 are supported")

	// ErrBigEndian is returned when running on big-endian systems
	ErrBigEndian = errors.New("big-endian systems are not supported")

	// ErrUnalignedAccess is returned when attempting unaligned memory access
	ErrUnalignedAccess = errors.New("unaligned memory access detected")
)

// init validates platform requirements for the unsafe slice conversions below.
func init() {
	if arch := runtime.GOARCH; arch != "amd64" && arch != "arm64" {
		panic(fmt.Sprintf("maxsim/persistence: %v: %s", ErrUnsupportedArchitecture, arch))
	}

	if !isLittleEndian() {
		panic(fmt.Sprintf("maxsim/persistence: %v", ErrBigEndian))
	}
}

// isLittleEndian checks if the system is little-endian
func isLittleEndian() bool {
	var test uint16 = 0x0001
	firstByte := *(*byte)(unsafe.Pointer(&test))

	return firstByte == 1
}

// checkAlignment verifies the base address of a slice before an unsafe
// byte-view conversion. Misalignment only happens for slices carved out of
// byte buffers, never for allocator-provided slices.
func checkAlignment(ptr unsafe.Pointer, align uintptr) error {
	if uintptr(ptr)%align != 0 {
		return fmt.Errorf("%w: address 0x%x, need %d-byte alignment", ErrUnalignedAccess, uintptr(ptr), align)
	}

	return nil
}

// BinaryWriter writes index file sections in little-endian binary form.
type BinaryWriter struct {
	w         io.Writer
	byteOrder binary.ByteOrder
}

// NewBinaryWriter creates a new binary writer.
func NewBinaryWriter(w io.Writer) *BinaryWriter {
	return &BinaryWriter{
		w:         w,
		byteOrder: binary.LittleEndian, // Native on x86/ARM
	}
}

// WriteHeader writes the file header, forcing magic and version.
func (bw *BinaryWriter) WriteHeader(header *FileHeader) error {
	header.Magic = MagicNumber
	header.Version = FormatVersion

	return binary.Write(bw.w, bw.byteOrder, header)
}

// WriteUint32Value writes a single uint32 length prefix or scalar.
func (bw *BinaryWriter) WriteUint32Value(v uint32) error {
	return binary.Write(bw.w, bw.byteOrder, v)
}

// WriteFloat32Value writes a single float32 scalar.
func (bw *BinaryWriter) WriteFloat32Value(v float32) error {
	return binary.Write(bw.w, bw.byteOrder, v)
}

// WriteFloat32Slice writes a float32 slice as raw bytes (zero-copy compatible).
// Safety: Validates alignment before unsafe conversion.
func (bw *BinaryWriter) WriteFloat32Slice(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}

	if err := checkAlignment(unsafe.Pointer(&vec[0]), 4); err != nil {
		return err
	}

	// Direct memory conversion (no allocation)
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*4)
	_, err := bw.w.Write(byteSlice)

	return err
}

// WriteUint32Slice writes a uint32 slice as raw bytes.
// Safety: Validates alignment before unsafe conversion.
func (bw *BinaryWriter) WriteUint32Slice(slice []uint32) error {
	if len(slice) == 0 {
		return nil
	}

	if err := checkAlignment(unsafe.Pointer(&slice[0]), 4); err != nil {
		return err
	}

	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&slice[0])), len(slice)*4)
	_, err := bw.w.Write(byteSlice)

	return err
}

// WriteUint64Slice writes a uint64 slice as raw bytes.
// Safety: Validates alignment before unsafe conversion.
func (bw *BinaryWriter) WriteUint64Slice(slice []uint64) error {
	if len(slice) == 0 {
		return nil
	}

	if err := checkAlignment(unsafe.Pointer(&slice[0]), 8); err != nil {
		return err
	}

	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&slice[0])), len(slice)*8)
	_, err := bw.w.Write(byteSlice)

	return err
}

// WriteBytes writes raw bytes, e.g. packed residual planes.
func (bw *BinaryWriter) WriteBytes(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	_, err := bw.w.Write(data)

	return err
}

// BinaryReader reads index file sections from binary format.
type BinaryReader struct {
	r         io.Reader
	byteOrder binary.ByteOrder
}

// NewBinaryReader creates a new binary reader.
func NewBinaryReader(r io.Reader) *BinaryReader {
	return &BinaryReader{
		r:         r,
		byteOrder: binary.LittleEndian,
	}
}

// ReadHeader reads the file header and validates magic and version. Kind
// validation is left to the caller via FileHeader.Validate.
func (br *BinaryReader) ReadHeader() (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(br.r, br.byteOrder, &header); err != nil {
		return nil, err
	}

	if header.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, header.Magic)
	}

	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, header.Version)
	}

	return &header, nil
}

// ReadUint32Value reads a single uint32 length prefix or scalar.
func (br *BinaryReader) ReadUint32Value() (uint32, error) {
	var v uint32
	if err := binary.Read(br.r, br.byteOrder, &v); err != nil {
		return 0, err
	}

	return v, nil
}

// ReadFloat32Value reads a single float32 scalar.
func (br *BinaryReader) ReadFloat32Value() (float32, error) {
	var v float32
	if err := binary.Read(br.r, br.byteOrder, &v); err != nil {
		return 0, err
	}

	return v, nil
}

// ReadFloat32Slice reads a float32 slice.
func (br *BinaryReader) ReadFloat32Slice(count int) ([]float32, error) {
	if count == 0 {
		return nil, nil
	}

	vec := make([]float32, count)
	if err := br.ReadFloat32SliceInto(vec); err != nil {
		return nil, err
	}

	return vec, nil
}

// ReadFloat32SliceInto reads a float32 slice into the provided buffer.
func (br *BinaryReader) ReadFloat32SliceInto(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}

	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*4)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return err
	}

	return nil
}

// ReadUint32Slice reads a uint32 slice.
func (br *BinaryReader) ReadUint32Slice(count int) ([]uint32, error) {
	if count == 0 {
		return nil, nil
	}

	slice := make([]uint32, count)
	if err := br.ReadUint32SliceInto(slice); err != nil {
		return nil, err
	}

	return slice, nil
}

// ReadUint32SliceInto reads a uint32 slice into the provided buffer.
func (br *BinaryReader) ReadUint32SliceInto(slice []uint32) error {
	if len(slice) == 0 {
		return nil
	}

	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&slice[0])), len(slice)*4)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return err
	}

	return nil
}

// ReadUint64Slice reads a uint64 slice.
func (br *BinaryReader) ReadUint64Slice(count int) ([]uint64, error) {
	if count == 0 {
		return nil, nil
	}

	slice := make([]uint64, count)
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&slice[0])), count*8)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return nil, err
	}

	return slice, nil
}

// ReadBytes reads exactly count raw bytes.
func (br *BinaryReader) ReadBytes(count int) ([]byte, error) {
	if count == 0 {
		return nil, nil
	}

	data := make([]byte, count)
	if _, err := io.ReadFull(br.r, data); err != nil {
		return nil, err
	}

	return data, nil
}

// SaveToFile is a helper to save data to a file.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	// Write to a temp file in the same directory to ensure rename is atomic.
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	// Match typical file permissions (best-effort).
	_ = tmp.Chmod(0644)

	// Use buffered writer to batch writes (critical for performance)
	buf := bufio.NewWriterSize(tmp, 256*1024) // 256KB buffer
	if err := writeFunc(buf); err != nil {
		return err
	}

	if err := buf.Flush(); err != nil {
		return err
	}

	if err := tmp.Sync(); err != nil {
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	// Atomically replace target.
	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	// Success: prevent deferred cleanup from removing the final file.
	tmpName = ""

	return nil
}

// LoadFromFile is a helper to load data from a file.
func LoadFromFile(filename string, readFunc func(io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	// Use buffered reader to batch reads
	buf := bufio.NewReaderSize(f, 256*1024) // 256KB buffer

	return readFunc(buf)
}
