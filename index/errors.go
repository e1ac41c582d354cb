package index

import "fmt"

// ChunkMissingError reports a chunk whose files are absent from the store
// even though the manifest references it.
type ChunkMissingError struct {
	ID int
}

func (e *ChunkMissingError) Error() string {
	return fmt.Sprintf("index: chunk %d referenced by the manifest is missing", e.ID)
}

// IntegrityError reports a count or shape that disagrees between the
// manifest and the files it references. An index with any integrity error
// is never partially opened.
type IntegrityError struct {
	Field    string
	Expected int64
	Actual   int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("index: %s: expected %d, found %d", e.Field, e.Expected, e.Actual)
}
