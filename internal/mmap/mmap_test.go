package mmap

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenReadAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	content := []byte("maxsim chunk payload")

	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = m.Close() }()

	if m.Size() != int64(len(content)) {
		t.Fatalf("Size() = %d, want %d", m.Size(), len(content))
	}

	if !bytes.Equal(m.Bytes(), content) {
		t.Fatalf("Bytes() = %q, want %q", m.Bytes(), content)
	}

	p := make([]byte, 5)
	n, err := m.ReadAt(p, 7)
	if err != nil || n != 5 {
		t.Fatalf("ReadAt() = (%d, %v), want (5, nil)", n, err)
	}
	if string(p) != "chunk" {
		t.Fatalf("ReadAt() read %q, want %q", p, "chunk")
	}

	// Short read at the tail reports EOF.
	n, err = m.ReadAt(make([]byte, 10), int64(len(content)-3))
	if n != 3 || err != io.EOF {
		t.Fatalf("tail ReadAt() = (%d, %v), want (3, EOF)", n, err)
	}
}

func TestOpenEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if m.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", m.Size())
	}

	if _, err := m.ReadAt(make([]byte, 1), 0); err != io.EOF {
		t.Fatalf("ReadAt() error = %v, want EOF", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if m.Bytes() != nil {
		t.Fatal("Bytes() after Close must be nil")
	}
}
