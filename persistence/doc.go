// Package persistence implements the binary on-disk format shared by the
// codec, chunk and IVF files: a fixed 64-byte header (magic, version, file
// kind, shape, checksum), little-endian bulk slice IO, CRC32 integrity
// wrappers and optional block compression for files that are always read
// whole.
//
// PLATFORM REQUIREMENTS:
// - Architecture: amd64 or arm64 only
// - Endianness: Little-endian (native on x86_64 and ARM64)
// - Alignment: 4-byte for float32/uint32, 8-byte for uint64
//
// The unsafe operations in this package are verified at runtime with
// alignment checks and platform validation.
package persistence
