// Package topic groups titles into topics and ranks snippets against them.
package topic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/cluster"
	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/pkg/logger"
)

// FitResult is the output of one topic model fit. Assignments[i] is the topic
// of the i-th fitted document; Topics holds every assigned id, noise included.
type FitResult struct {
	Assignments []int
	Topics      map[int]models.Topic
}

// Modeler is the swappable topic modelling capability.
type Modeler interface {
	Fit(ctx context.Context, docs []string) (*FitResult, error)
}

type ModelerConfig struct {
	MaxDistance        float64
	MinSamples         int
	RepresentativeDocs int
	TopNWords          int
	Tokenizer          Tokenizer
}

func DefaultModelerConfig() ModelerConfig {
	return ModelerConfig{
		MaxDistance:        0.35,
		MinSamples:         3,
		RepresentativeDocs: 3,
		TopNWords:          10,
		Tokenizer:          ProseTokens,
	}
}

// EmbeddingModeler clusters document embeddings with DBSCAN over cosine
// distance and describes each cluster with class-based TF-IDF keywords.
type EmbeddingModeler struct {
	embedder Embedder
	cfg      ModelerConfig
}

func NewEmbeddingModeler(embedder Embedder, cfg ModelerConfig) *EmbeddingModeler {
	def := DefaultModelerConfig()
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = def.MaxDistance
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.RepresentativeDocs <= 0 {
		cfg.RepresentativeDocs = def.RepresentativeDocs
	}
	if cfg.TopNWords <= 0 {
		cfg.TopNWords = def.TopNWords
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = def.Tokenizer
	}
	return &EmbeddingModeler{embedder: embedder, cfg: cfg}
}

func (m *EmbeddingModeler) Fit(ctx context.Context, docs []string) (*FitResult, error) {
	start := time.Now()

	result := &FitResult{
		Assignments: make([]int, len(docs)),
		Topics:      make(map[int]models.Topic),
	}
	if len(docs) == 0 {
		return result, nil
	}

	vectors, err := embed(ctx, m.embedder, docs)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	for i, v := range vectors {
		if len(v) != len(vectors[0]) {
			return nil, fmt.Errorf("document %d has embedding dimension %d, want %d", i, len(v), len(vectors[0]))
		}
	}

	raw := cluster.DBSCAN(len(vectors), m.cfg.MaxDistance, m.cfg.MinSamples, func(i, j int) float64 {
		return 1 - cosine(vectors[i], vectors[j])
	})
	copy(result.Assignments, renumberBySize(raw))

	members := cluster.Members(result.Assignments)
	classDocs := make(map[int][]string, len(members))
	for id, idx := range members {
		for _, i := range idx {
			classDocs[id] = append(classDocs[id], docs[i])
		}
	}
	keywords := classKeywords(classDocs, m.cfg.Tokenizer, m.cfg.TopNWords)

	for id, idx := range members {
		words := keywords[id]
		representation := words
		if len(representation) > 4 {
			representation = representation[:4]
		}
		result.Topics[id] = models.Topic{
			ID:                 id,
			Representation:     strings.Join(representation, ", "),
			RepresentativeDocs: m.representatives(docs, vectors, idx),
			TopNWords:          strings.Join(words, " - "),
		}
	}

	topics := len(members)
	if _, ok := members[cluster.Noise]; ok {
		topics--
	}
	logger.Debug("Topic model fitted",
		zap.Int("documents", len(docs)),
		zap.Int("topics", topics),
		zap.Int("noise", len(members[cluster.Noise])),
		zap.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// representatives returns the documents closest to the cluster centroid.
func (m *EmbeddingModeler) representatives(docs []string, vectors [][]float64, idx []int) []string {
	clusterVectors := make([][]float64, len(idx))
	for i, id := range idx {
		clusterVectors[i] = vectors[id]
	}
	centroid := mean(clusterVectors)

	type scored struct {
		doc   int
		score float64
	}
	ranked := make([]scored, len(idx))
	for i, id := range idx {
		ranked[i] = scored{doc: id, score: cosine(vectors[id], centroid)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	n := m.cfg.RepresentativeDocs
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = docs[ranked[i].doc]
	}
	return out
}

// renumberBySize relabels clusters so the largest is 0. Equal sizes keep the
// order of their first member. Noise stays noise.
func renumberBySize(labels []int) []int {
	sizes := make(map[int]int)
	first := make(map[int]int)
	for i, l := range labels {
		if l == cluster.Noise {
			continue
		}
		if _, ok := first[l]; !ok {
			first[l] = i
		}
		sizes[l]++
	}

	order := make([]int, 0, len(sizes))
	for l := range sizes {
		order = append(order, l)
	}
	sort.Slice(order, func(i, j int) bool {
		if sizes[order[i]] != sizes[order[j]] {
			return sizes[order[i]] > sizes[order[j]]
		}
		return first[order[i]] < first[order[j]]
	})

	mapping := make(map[int]int, len(order))
	for newID, old := range order {
		mapping[old] = newID
	}

	out := make([]int, len(labels))
	for i, l := range labels {
		if l == cluster.Noise {
			out[i] = models.NoiseTopic
			continue
		}
		out[i] = mapping[l]
	}
	return out
}
