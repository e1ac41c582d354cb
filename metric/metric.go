// Package metric provides similarity helpers for callers that post-process
// results, and a reference MaxSim used to cross-check the search path.
package metric

import (
	"math"

	"github.com/hupe1980/maxsim/core"
	"github.com/hupe1980/maxsim/internal/math32"
)

// Magnitude returns the Euclidean length of v.
func Magnitude(v []float32) float32 {
	return math32.Sqrt(math32.Dot(v, v))
}

// CosineSimilarity returns the cosine of the angle between v1 and v2. A zero
// vector on either side yields 0.
func CosineSimilarity(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, &core.DimensionMismatchError{Want: len(v1), Got: len(v2)}
	}

	dot := math32.Dot(v1, v2)

	m1 := Magnitude(v1)
	m2 := Magnitude(v2)

	if m1 == 0 || m2 == 0 {
		return 0, nil
	}

	return dot / (m1 * m2), nil
}

// SquaredL2 returns the squared Euclidean distance between v1 and v2.
func SquaredL2(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, &core.DimensionMismatchError{Want: len(v1), Got: len(v2)}
	}

	return math32.SquaredL2(v1, v2), nil
}

// MaxSim returns the late-interaction similarity of a query and a document,
// both flat row-major token matrices of the given dimension: for every query
// token the largest dot product over the document's tokens, summed. Either
// side empty yields 0.
func MaxSim(query, doc []float32, dim int) (float32, error) {
	if dim <= 0 || len(query)%dim != 0 {
		return 0, &core.DimensionMismatchError{Want: dim, Got: len(query)}
	}

	if len(doc)%dim != 0 {
		return 0, &core.DimensionMismatchError{Want: dim, Got: len(doc)}
	}

	if len(query) == 0 || len(doc) == 0 {
		return 0, nil
	}

	var sum float32

	for q := 0; q < len(query); q += dim {
		qv := query[q : q+dim]

		best := float32(math.Inf(-1))

		for d := 0; d < len(doc); d += dim {
			if s := math32.Dot(qv, doc[d:d+dim]); s > best {
				best = s
			}
		}

		sum += best
	}

	return sum, nil
}
