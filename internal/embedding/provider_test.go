package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/clipmind/clipmind-server/internal/metrics"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("Normalize([3 4]) = %v, want [0.6 0.8]", v)
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("norm^2 = %v, want 1", sum)
	}
}

func TestNormalize_ZeroVector(t *testing.T) {
	v := Normalize(make([]float32, 4))
	for i, x := range v {
		if x != 0 {
			t.Errorf("v[%d] = %v, want 0", i, x)
		}
	}
}

func TestEmbedChunked_PreservesOrder(t *testing.T) {
	vecs, err := EmbedChunked(context.Background(), 25, 8, 4,
		func(_ context.Context, start, end int) ([][]float32, error) {
			out := make([][]float32, end-start)
			for i := range out {
				out[i] = []float32{float32(start + i)}
			}
			return out, nil
		})
	if err != nil {
		t.Fatalf("EmbedChunked() error = %v", err)
	}
	if len(vecs) != 25 {
		t.Fatalf("got %d vectors, want 25", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Fatalf("vecs[%d] = %v, order not preserved", i, v)
		}
	}
}

func TestEmbedChunked_PropagatesError(t *testing.T) {
	wantErr := errors.New("provider down")
	_, err := EmbedChunked(context.Background(), 10, 3, 2,
		func(_ context.Context, start, end int) ([][]float32, error) {
			if start >= 6 {
				return nil, wantErr
			}
			return make([][]float32, end-start), nil
		})
	if !errors.Is(err, wantErr) {
		t.Errorf("EmbedChunked() error = %v, want %v", err, wantErr)
	}
}

func TestEmbedChunked_Empty(t *testing.T) {
	vecs, err := EmbedChunked(context.Background(), 0, 8, 4,
		func(context.Context, int, int) ([][]float32, error) {
			t.Fatal("embed called for zero items")
			return nil, nil
		})
	if err != nil || vecs != nil {
		t.Errorf("EmbedChunked(0) = %v, %v; want nil, nil", vecs, err)
	}
}

type failingJoint struct{ dim int }

func (f *failingJoint) Dimension() int { return f.dim }
func (f *failingJoint) EmbedImages(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("model not loaded")
}
func (f *failingJoint) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("model not loaded")
}

func TestDegradedJoint_FallsBackToZeroVectors(t *testing.T) {
	m := metrics.New()
	d := NewDegradedJoint(&failingJoint{dim: 4}, m, nil)

	vecs, err := d.EmbedImages(context.Background(), []string{"a.jpg", "b.jpg", "c.jpg"})
	if err != nil {
		t.Fatalf("EmbedImages() error = %v, want degraded success", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 4 {
			t.Fatalf("vecs[%d] has dimension %d, want 4", i, len(v))
		}
		for _, x := range v {
			if x != 0 {
				t.Fatalf("vecs[%d] = %v, want zero vector", i, v)
			}
		}
	}

	got := testutil.ToFloat64(m.DegradedEmbeddings.WithLabelValues("visual"))
	if got != 3 {
		t.Errorf("degraded counter = %v, want 3", got)
	}
}

func TestDegradedJoint_CancellationIsNotDegraded(t *testing.T) {
	m := metrics.New()
	d := NewDegradedJoint(&failingJoint{dim: 4}, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.EmbedImages(ctx, []string{"a.jpg"}); !errors.Is(err, context.Canceled) {
		t.Errorf("EmbedImages() error = %v, want context.Canceled", err)
	}
	if got := testutil.ToFloat64(m.DegradedEmbeddings.WithLabelValues("visual")); got != 0 {
		t.Errorf("degraded counter = %v, want 0", got)
	}
}

type failingText struct{ dim int }

func (f *failingText) Dimension() int { return f.dim }
func (f *failingText) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("rate limited")
}

func TestDegradedText_FallsBackToZeroVectors(t *testing.T) {
	m := metrics.New()
	d := NewDegradedText(&failingText{dim: 8}, m, nil)

	vecs, err := d.EmbedTexts(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("EmbedTexts() error = %v, want degraded success", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 8 {
		t.Fatalf("vecs = %v, want two zero vectors of dim 8", vecs)
	}
	if got := testutil.ToFloat64(m.DegradedEmbeddings.WithLabelValues("text")); got != 2 {
		t.Errorf("degraded counter = %v, want 2", got)
	}
}
