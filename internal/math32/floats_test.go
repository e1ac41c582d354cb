package math32

import (
	"math"
	"testing"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{name: "empty", a: nil, b: nil, want: 0},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "parallel", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 14},
		{name: "mixed signs", a: []float32{1, -2, 0.5}, b: []float32{2, 1, 4}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Dot(tt.a, tt.b); got != tt.want {
				t.Errorf("Dot() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSquaredL2(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}

	if got := SquaredL2(a, b); got != 25 {
		t.Errorf("SquaredL2() = %v, want 25", got)
	}

	if got := SquaredL2(a, a); got != 0 {
		t.Errorf("SquaredL2(a, a) = %v, want 0", got)
	}
}

func TestSub(t *testing.T) {
	dst := make([]float32, 3)
	Sub(dst, []float32{5, 3, 1}, []float32{1, 1, 1})

	want := []float32{4, 2, 0}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("Sub()[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestAxpy(t *testing.T) {
	a := []float32{1, 1, 1}
	Axpy(2, []float32{1, 2, 3}, a)

	want := []float32{3, 5, 7}
	for i := range want {
		if a[i] != want[i] {
			t.Fatalf("Axpy()[%d] = %v, want %v", i, a[i], want[i])
		}
	}
}

func TestNormalizeInPlace(t *testing.T) {
	v := []float32{3, 4}
	if !NormalizeInPlace(v) {
		t.Fatal("NormalizeInPlace() = false for non-zero vector")
	}

	if n := Norm(v); math.Abs(float64(n)-1) > 1e-6 {
		t.Errorf("norm after normalize = %v, want 1", n)
	}

	zero := []float32{0, 0, 0}
	if NormalizeInPlace(zero) {
		t.Error("NormalizeInPlace() = true for zero vector")
	}

	for i, x := range zero {
		if x != 0 {
			t.Errorf("zero[%d] = %v, want 0 (zero vector must stay unchanged)", i, x)
		}
	}
}
