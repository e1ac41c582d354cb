// Package mmap provides read-only memory mapping of index files.
//
// Chunk residual and code files are read with small random ReadAt calls at
// query time; mapping them avoids a syscall per candidate document.
package mmap

import (
	"io"
	"os"
	"sync/atomic"
)

// File is a read-only memory-mapped file.
type File struct {
	data   []byte
	f      *os.File
	closed atomic.Bool
}

// Open maps the file at path into memory as read-only.
// A zero-length file maps to an empty, valid File.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	size := fi.Size()
	if size == 0 {
		return &File{f: f}, nil
	}

	data, err := mmap(f, int(size))
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &File{data: data, f: f}, nil
}

// Bytes returns the mapped contents. The slice is valid until Close.
func (m *File) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *File) Size() int64 {
	return int64(len(m.data))
}

// ReadAt implements io.ReaderAt over the mapping.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, os.ErrClosed
	}
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// Close unmaps the memory and closes the underlying file. It is idempotent.
func (m *File) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	var err error
	if m.data != nil {
		err = munmap(m.data)
		m.data = nil
	}

	if m.f != nil {
		if cerr := m.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		m.f = nil
	}

	return err
}
