package kmeans

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/hupe1980/maxsim/internal/math32"
)

// clusteredSample builds n vectors around k well-separated anchors.
func clusteredSample(seed int64, n, dim, k int) []float32 {
	rng := rand.New(rand.NewSource(seed))

	anchors := make([]float32, k*dim)
	for j := 0; j < k; j++ {
		anchors[j*dim+j%dim] = float32(j + 1)
	}

	vectors := make([]float32, n*dim)
	for i := 0; i < n; i++ {
		j := i % k
		for d := 0; d < dim; d++ {
			vectors[i*dim+d] = anchors[j*dim+d] + (rng.Float32()-0.5)*0.01
		}
	}

	return vectors
}

func TestTrain(t *testing.T) {
	const (
		n   = 400
		dim = 8
		k   = 4
	)

	vectors := clusteredSample(1, n, dim, k)

	centroids, err := Train(context.Background(), vectors, dim, k, Options{Seed: 42})
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	if len(centroids) != k*dim {
		t.Fatalf("len(centroids) = %d, want %d", len(centroids), k*dim)
	}

	// Every vector must sit close to some centroid: the anchors are spread
	// ~1 apart while intra-cluster noise is ~0.01.
	for i := 0; i < n; i++ {
		vec := vectors[i*dim : (i+1)*dim]
		best := float32(1e30)
		for j := 0; j < k; j++ {
			d := math32.SquaredL2(vec, centroids[j*dim:(j+1)*dim])
			if d < best {
				best = d
			}
		}
		if best > 0.01 {
			t.Fatalf("vector %d is %.4f away from the nearest centroid", i, best)
		}
	}
}

func TestTrainDeterministic(t *testing.T) {
	vectors := clusteredSample(7, 200, 4, 3)

	a, err := Train(context.Background(), vectors, 4, 3, Options{Seed: 99})
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	b, err := Train(context.Background(), vectors, 4, 3, Options{Seed: 99})
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("centroid[%d] differs between runs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestTrainTooFewVectors(t *testing.T) {
	vectors := make([]float32, 2*4)

	_, err := Train(context.Background(), vectors, 4, 3, Options{Seed: 1})
	if !errors.Is(err, ErrTooFewVectors) {
		t.Fatalf("Train() error = %v, want ErrTooFewVectors", err)
	}
}

func TestTrainDegenerate(t *testing.T) {
	// All points identical: no clustering can yield distinct centroids.
	vectors := make([]float32, 10*4)
	for i := range vectors {
		vectors[i] = 1
	}

	_, err := Train(context.Background(), vectors, 4, 2, Options{Seed: 1})
	if !errors.Is(err, ErrDegenerate) {
		t.Fatalf("Train() error = %v, want ErrDegenerate", err)
	}
}

func TestTrainCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vectors := clusteredSample(3, 100, 4, 2)

	_, err := Train(ctx, vectors, 4, 2, Options{Seed: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Train() error = %v, want context.Canceled", err)
	}
}
