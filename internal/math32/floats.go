// Package math32 provides float32 vector kernels shared by the quantizer and
// the searcher. This is an internal package; acceleration beyond these scalar
// loops plugs in at the quantization.Backend level.
package math32

import "math"

// Dot calculates the dot product of two vectors.
// Both slices must have the same length.
func Dot(a, b []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * b[i]
	}

	return ret
}

// SquaredL2 calculates the squared L2 distance between two vectors.
func SquaredL2(a, b []float32) float32 {
	var distance float32
	for i := range a {
		d := a[i] - b[i]
		distance += d * d
	}

	return distance
}

// Axpy computes a[i] += alpha * x[i] in place.
func Axpy(alpha float32, x, a []float32) {
	for i := range a {
		a[i] += alpha * x[i]
	}
}

// Sub computes dst[i] = a[i] - b[i].
func Sub(dst, a, b []float32) {
	for i := range dst {
		dst[i] = a[i] - b[i]
	}
}

// ScaleInPlace multiplies all elements of a by scalar.
func ScaleInPlace(a []float32, scalar float32) {
	for i := range a {
		a[i] *= scalar
	}
}

// Sqrt returns the square root of x as a float32.
func Sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	return Sqrt(Dot(v, v))
}

// NormalizeInPlace scales v to unit length. A zero vector is left
// unchanged and false is returned.
func NormalizeInPlace(v []float32) bool {
	n := Norm(v)
	if n == 0 {
		return false
	}

	ScaleInPlace(v, 1/n)

	return true
}
