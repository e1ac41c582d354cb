package indexer

import "fmt"

// Collection is the ordered document source for one build. Document position
// is identity: document i of the collection becomes DocID i of the index.
//
// Implementations must tolerate concurrent Doc calls; chunk jobs read
// disjoint ranges in parallel.
type Collection interface {
	Len() int
	Doc(i int) (string, error)
}

// SliceCollection adapts an in-memory document slice.
type SliceCollection []string

// Len returns the number of documents.
func (c SliceCollection) Len() int {
	return len(c)
}

// Doc returns document i.
func (c SliceCollection) Doc(i int) (string, error) {
	if i < 0 || i >= len(c) {
		return "", fmt.Errorf("indexer: doc %d out of range [0,%d)", i, len(c))
	}

	return c[i], nil
}
