package core

import "fmt"

// DimensionMismatchError reports a vector whose dimensionality differs from
// the index configuration. It is returned before any compute happens.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: want %d, got %d", e.Want, e.Got)
}
