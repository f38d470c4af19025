// Package embedding produces L2-normalized vectors for video keyframes,
// transcript segments, and search queries. Visual and joint text
// embeddings come from a local CLIP model invoked as a Python
// subprocess; text-only embeddings come from the OpenAI embeddings API.
package embedding

import (
	"context"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/clipmind/clipmind-server/internal/metrics"
)

// JointEmbedder maps images and text into one shared vector space, so
// a text query can be scored against visual vectors directly.
type JointEmbedder interface {
	EmbedImages(ctx context.Context, paths []string) ([][]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// TextEmbedder maps text into a text-only vector space.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Normalize scales v to unit L2 length in place and returns it. A zero
// vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// ZeroVector returns an all-zero vector of the given dimension. Zero
// vectors score zero against every normalized query, so degraded items
// are indexed without polluting results.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}

// EmbedChunked splits n items into chunks of chunkSize, runs embed on
// up to concurrency chunks at once, and reassembles results in input
// order. embed receives the half-open item range [start, end).
func EmbedChunked(ctx context.Context, n, chunkSize, concurrency int, embed func(ctx context.Context, start, end int) ([][]float32, error)) ([][]float32, error) {
	if n == 0 {
		return nil, nil
	}
	if chunkSize <= 0 {
		chunkSize = n
	}

	out := make([][]float32, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for start := 0; start < n; start += chunkSize {
		start := start
		end := min(start+chunkSize, n)
		g.Go(func() error {
			vecs, err := embed(ctx, start, end)
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DegradedJoint wraps a JointEmbedder so that provider failures yield
// zero vectors instead of failing the whole ingestion. Every fallback
// is counted and logged; context cancellation still propagates.
type DegradedJoint struct {
	inner   JointEmbedder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewDegradedJoint(inner JointEmbedder, m *metrics.Metrics, logger *slog.Logger) *DegradedJoint {
	if logger == nil {
		logger = slog.Default()
	}
	return &DegradedJoint{inner: inner, metrics: m, logger: logger}
}

func (d *DegradedJoint) Dimension() int { return d.inner.Dimension() }

func (d *DegradedJoint) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	vecs, err := d.inner.EmbedImages(ctx, paths)
	if err != nil {
		return d.fallback(ctx, "visual", len(paths), err)
	}
	return vecs, nil
}

func (d *DegradedJoint) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := d.inner.EmbedTexts(ctx, texts)
	if err != nil {
		return d.fallback(ctx, "visual", len(texts), err)
	}
	return vecs, nil
}

func (d *DegradedJoint) fallback(ctx context.Context, modality string, n int, err error) ([][]float32, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	d.logger.Warn("embedding provider failed, indexing zero vectors",
		"modality", modality, "count", n, "error", err)
	d.metrics.DegradedEmbeddings.WithLabelValues(modality).Add(float64(n))

	vecs := make([][]float32, n)
	for i := range vecs {
		vecs[i] = ZeroVector(d.inner.Dimension())
	}
	return vecs, nil
}

// DegradedText is the text-modality counterpart of DegradedJoint.
type DegradedText struct {
	inner   TextEmbedder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewDegradedText(inner TextEmbedder, m *metrics.Metrics, logger *slog.Logger) *DegradedText {
	if logger == nil {
		logger = slog.Default()
	}
	return &DegradedText{inner: inner, metrics: m, logger: logger}
}

func (d *DegradedText) Dimension() int { return d.inner.Dimension() }

func (d *DegradedText) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := d.inner.EmbedTexts(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warn("embedding provider failed, indexing zero vectors",
			"modality", "text", "count", len(texts), "error", err)
		d.metrics.DegradedEmbeddings.WithLabelValues("text").Add(float64(len(texts)))

		vecs = make([][]float32, len(texts))
		for i := range vecs {
			vecs[i] = ZeroVector(d.inner.Dimension())
		}
	}
	return vecs, nil
}
