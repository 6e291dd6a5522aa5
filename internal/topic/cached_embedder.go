package topic

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/metrics"
	"github.com/newsrisk/backend/pkg/logger"
	"github.com/newsrisk/backend/pkg/utils"
)

// EmbeddingCache stores vectors by key. internal/cache/redis implements it.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder serves repeated texts from a cache and only sends misses to
// the wrapped Embedder. Cache failures degrade to a plain embedding call.
type CachedEmbedder struct {
	next  Embedder
	cache EmbeddingCache
	model string
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, cache EmbeddingCache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model, ttl: ttl}
}

func (c *CachedEmbedder) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	missing := make(map[string][]int)
	var order []string
	for i, text := range texts {
		keys[i] = utils.HashParts(c.model, text)

		if vec, ok, err := c.cache.GetEmbedding(ctx, keys[i]); err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		} else if ok {
			out[i] = vec
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			continue
		}

		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		if _, ok := missing[text]; !ok {
			order = append(order, text)
		}
		missing[text] = append(missing[text], i)
	}

	if len(order) == 0 {
		return out, nil
	}

	fresh, err := embed32(ctx, c.next, order)
	if err != nil {
		return nil, err
	}

	for j, text := range order {
		for _, i := range missing[text] {
			out[i] = fresh[j]
		}
		if err := c.cache.SetEmbedding(ctx, keys[missing[text][0]], fresh[j], c.ttl); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	return out, nil
}

func embed32(ctx context.Context, embedder Embedder, texts []string) ([][]float32, error) {
	vectors, err := embedder.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}
