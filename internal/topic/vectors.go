package topic

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Embedder turns texts into vectors, one per input in the same order.
type Embedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func embed(ctx context.Context, embedder Embedder, texts []string) ([][]float64, error) {
	raw, err := embedder.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(raw), len(texts))
	}
	vectors := make([][]float64, len(raw))
	for i, v := range raw {
		vectors[i] = toFloat64(v)
	}
	return vectors, nil
}

// mean averages equally sized vectors.
func mean(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		floats.Add(out, v)
	}
	floats.Scale(1/float64(len(vectors)), out)
	return out
}

// cosine returns 0 when either vector has no length.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// Centroid embeds texts and averages the vectors.
func Centroid(ctx context.Context, embedder Embedder, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("centroid of no texts")
	}
	vectors, err := embed(ctx, embedder, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed centroid texts: %w", err)
	}
	for _, v := range vectors[1:] {
		if len(v) != len(vectors[0]) {
			return nil, fmt.Errorf("embedding dimensions differ: %d and %d", len(vectors[0]), len(v))
		}
	}
	return mean(vectors), nil
}
