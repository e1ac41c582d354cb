// Package manifest defines the metadata file describing one built index
// generation and the CURRENT pointer that publishes it. A manifest is only
// ever written after every file it references is durable, so readers that
// follow CURRENT never observe a partial index.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/chunk"
	"github.com/hupe1980/maxsim/codec"
)

const (
	// MetadataVersion is the manifest format version written by this package.
	MetadataVersion = 1

	// CurrentName is the pointer blob naming the live manifest generation.
	CurrentName = "CURRENT"

	// CodecFileName is the store path of the trained codec file.
	CodecFileName = "codec.bin"

	// IVFFileName is the store path of the inverted file.
	IVFFileName = "ivf.bin"
)

// IndexConfig is the persisted subset of the build configuration. Search
// knobs are not recorded; they vary per query.
type IndexConfig struct {
	Dim          int `json:"dim"`
	NBits        int `json:"nbits"`
	NumCentroids int `json:"num_centroids"`
	ChunkSize    int `json:"chunk_size"`
}

// Metadata describes one index generation.
type Metadata struct {
	FormatVersion int          `json:"format_version"`
	Version       uint64       `json:"version"`
	CreatedAt     time.Time    `json:"created_at"`
	Codec         string       `json:"codec"`
	Config        IndexConfig  `json:"config"`
	NumChunks     int          `json:"num_chunks"`
	NumDocs       int64        `json:"num_docs"`
	NumEmbeddings int64        `json:"num_embeddings"`
	AvgResidual   float32      `json:"avg_residual"`
	Chunks        []chunk.Info `json:"chunks"`
}

// Name returns the manifest blob name for a generation.
func Name(version uint64) string {
	return fmt.Sprintf("manifest-%06d.json", version)
}

// Save validates the metadata, writes it under its generation name and then
// points CURRENT at it. The two writes are ordered so a crash in between
// leaves the previous generation live.
func Save(ctx context.Context, store blobstore.Store, c codec.Codec, m *Metadata) error {
	if c == nil {
		c = codec.Default
	}

	m.FormatVersion = MetadataVersion
	m.Codec = c.Name()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	if err := m.Validate(); err != nil {
		return err
	}

	data, err := c.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}

	name := Name(m.Version)
	if err := store.Put(ctx, name, data); err != nil {
		return fmt.Errorf("manifest: write %s: %w", name, err)
	}

	if err := store.Put(ctx, CurrentName, []byte(name)); err != nil {
		return fmt.Errorf("manifest: point %s at %s: %w", CurrentName, name, err)
	}

	return nil
}

// Load reads the generation named by CURRENT.
func Load(ctx context.Context, store blobstore.Store) (*Metadata, error) {
	current, err := blobstore.ReadAll(ctx, store, CurrentName)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", CurrentName, err)
	}

	name := strings.TrimSpace(string(current))
	if name == "" {
		return nil, fmt.Errorf("manifest: %s is empty", CurrentName)
	}

	return LoadNamed(ctx, store, name)
}

// LoadNamed reads a specific manifest generation and validates it.
func LoadNamed(ctx context.Context, store blobstore.Store, name string) (*Metadata, error) {
	data, err := blobstore.ReadAll(ctx, store, name)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", name, err)
	}

	m, err := decode(data)
	if err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// decode selects the unmarshal codec by the recorded name, so a manifest is
// always read by the codec family that wrote it.
func decode(data []byte) (*Metadata, error) {
	var m Metadata
	if err := codec.Default.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}

	if m.Codec == "" || m.Codec == codec.Default.Name() {
		return &m, nil
	}

	c, ok := codec.ByName(m.Codec)
	if !ok {
		return nil, fmt.Errorf("manifest: unknown codec %q", m.Codec)
	}

	m = Metadata{}
	if err := c.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}

	return &m, nil
}

// NextVersion returns the lowest unused generation number.
func NextVersion(ctx context.Context, store blobstore.Store) (uint64, error) {
	names, err := store.List(ctx, "manifest-")
	if err != nil {
		return 0, fmt.Errorf("manifest: list generations: %w", err)
	}

	var latest uint64

	for _, name := range names {
		if v, ok := parseVersion(name); ok && v > latest {
			latest = v
		}
	}

	return latest + 1, nil
}

func parseVersion(name string) (uint64, bool) {
	s := strings.TrimPrefix(name, "manifest-")
	s = strings.TrimSuffix(s, ".json")

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

// Validate checks internal consistency: version fields, configuration shape
// and the chunk concatenation order that defines the global id spaces.
func (m *Metadata) Validate() error {
	if m.FormatVersion != MetadataVersion {
		return fmt.Errorf("manifest: unsupported format version %d", m.FormatVersion)
	}

	if m.Version == 0 {
		return errors.New("manifest: generation must be positive")
	}

	cfg := m.Config
	if cfg.Dim <= 0 || cfg.NBits < 1 || cfg.NBits > 8 || cfg.Dim*cfg.NBits%8 != 0 {
		return fmt.Errorf("manifest: invalid shape: dim %d, nbits %d", cfg.Dim, cfg.NBits)
	}

	if cfg.NumCentroids <= 0 {
		return fmt.Errorf("manifest: invalid centroid count %d", cfg.NumCentroids)
	}

	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("manifest: invalid chunk size %d", cfg.ChunkSize)
	}

	if m.NumChunks != len(m.Chunks) {
		return fmt.Errorf("manifest: records %d chunks, lists %d", m.NumChunks, len(m.Chunks))
	}

	if m.NumChunks == 0 {
		return errors.New("manifest: no chunks")
	}

	var docs, embeddings int64

	for i, info := range m.Chunks {
		if info.ID != i {
			return fmt.Errorf("manifest: chunk at position %d has id %d", i, info.ID)
		}

		if info.NumDocs <= 0 || info.NumEmbeddings <= 0 {
			return fmt.Errorf("manifest: chunk %d is empty", i)
		}

		if int64(info.FirstDocID) != docs || int64(info.FirstEmbeddingID) != embeddings {
			return fmt.Errorf("manifest: chunk %d breaks the concatenation order", i)
		}

		docs += int64(info.NumDocs)
		embeddings += int64(info.NumEmbeddings)
	}

	if docs != m.NumDocs || embeddings != m.NumEmbeddings {
		return fmt.Errorf("manifest: chunks sum to %d docs and %d embeddings, metadata records %d and %d",
			docs, embeddings, m.NumDocs, m.NumEmbeddings)
	}

	if m.AvgResidual < 0 {
		return errors.New("manifest: negative average residual")
	}

	return nil
}
