// Package ivf builds and serves the centroid to embedding-id inverted file.
// For every centroid it records the contiguous run of embedding ids assigned
// to it, so candidate generation touches only the runs of the probed
// centroids instead of scanning the collection.
package ivf

import (
	"fmt"

	"github.com/hupe1980/maxsim/core"
)

// IVF maps each centroid to its run of embedding ids. Runs are stored as
// prefix offsets into one flat array sorted by (centroid, embedding id), so
// lookups are zero-copy subslices. An IVF is immutable and safe for
// concurrent use.
type IVF struct {
	offsets []uint64 // ncentroids+1 prefix offsets into eids
	eids    []uint32 // embedding ids grouped by centroid, ascending per run
}

// Build constructs the inverted file from the global code sequence, where
// codes[eid] is the centroid of embedding eid. A counting sort keyed by code
// with insertion in eid order is exactly a stable sort of (code, eid) pairs
// and yields the offset table in the same pass.
func Build(codes []uint32, ncentroids int) (*IVF, error) {
	if ncentroids <= 0 {
		return nil, fmt.Errorf("ivf: invalid centroid count %d", ncentroids)
	}

	if int64(len(codes)) > int64(core.MaxEmbeddingID)+1 {
		return nil, fmt.Errorf("ivf: %d embeddings exceed the id space", len(codes))
	}

	counts := make([]uint64, ncentroids)
	for eid, c := range codes {
		if int(c) >= ncentroids {
			return nil, fmt.Errorf("ivf: embedding %d has code %d, outside [0, %d)", eid, c, ncentroids)
		}

		counts[c]++
	}

	offsets := make([]uint64, ncentroids+1)
	for i, c := range counts {
		offsets[i+1] = offsets[i] + c
	}

	eids := make([]uint32, len(codes))

	next := make([]uint64, ncentroids)
	copy(next, offsets[:ncentroids])

	for eid, c := range codes {
		eids[next[c]] = uint32(eid)
		next[c]++
	}

	return &IVF{offsets: offsets, eids: eids}, nil
}

// NumCentroids returns the number of centroid runs.
func (f *IVF) NumCentroids() int {
	return len(f.offsets) - 1
}

// NumEmbeddings returns the total number of embedding ids across all runs.
func (f *IVF) NumEmbeddings() int {
	return len(f.eids)
}

// Lookup returns the embedding ids assigned to the centroid, ascending. The
// returned slice aliases the internal array and must not be modified.
// Out-of-range centroids yield an empty run.
func (f *IVF) Lookup(centroid int) []uint32 {
	if centroid < 0 || centroid >= f.NumCentroids() {
		return nil
	}

	return f.eids[f.offsets[centroid]:f.offsets[centroid+1]]
}

// validate checks the structural invariant: offsets form a nondecreasing
// prefix table covering eids, and eids is a permutation of [0, n). n entries
// that are all in range and pairwise distinct are necessarily a permutation.
func (f *IVF) validate() error {
	n := len(f.eids)

	if len(f.offsets) < 2 {
		return fmt.Errorf("ivf: offset table has %d entries", len(f.offsets))
	}

	if f.offsets[0] != 0 {
		return fmt.Errorf("ivf: offset table starts at %d", f.offsets[0])
	}

	if got := f.offsets[len(f.offsets)-1]; got != uint64(n) {
		return fmt.Errorf("ivf: runs cover %d embeddings, flat array holds %d", got, n)
	}

	for i := 1; i < len(f.offsets); i++ {
		if f.offsets[i] < f.offsets[i-1] {
			return fmt.Errorf("ivf: offset table decreases at centroid %d", i-1)
		}
	}

	seen := make([]uint64, (n+63)/64)

	for _, eid := range f.eids {
		if int64(eid) >= int64(n) {
			return fmt.Errorf("ivf: embedding id %d outside [0, %d)", eid, n)
		}

		word, bit := eid/64, eid%64
		if seen[word]&(1<<bit) != 0 {
			return fmt.Errorf("ivf: embedding id %d appears in two runs", eid)
		}

		seen[word] |= 1 << bit
	}

	return nil
}
