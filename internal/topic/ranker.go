package topic

import (
	"context"
	"fmt"
	"sort"

	"github.com/newsrisk/backend/internal/models"
)

const DefaultMaxSnippets = 5

// Ranker orders snippets by similarity to the centroid of a topic's
// exemplar titles.
type Ranker struct {
	embedder Embedder
}

func NewRanker(embedder Embedder) *Ranker {
	return &Ranker{embedder: embedder}
}

// FindDuplicates returns at most maxReturn distinct candidates, best first.
// Scores are cosine similarities clamped to [0,1]; equal scores keep input
// order.
func (r *Ranker) FindDuplicates(ctx context.Context, exemplars, candidates []string, maxReturn int) ([]models.RankedSnippet, error) {
	if maxReturn <= 0 {
		maxReturn = DefaultMaxSnippets
	}

	unique := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		unique = append(unique, c)
	}

	ranked := make([]models.RankedSnippet, 0, len(unique))
	if len(unique) == 0 || len(exemplars) == 0 {
		return ranked, nil
	}

	centroid, err := Centroid(ctx, r.embedder, exemplars)
	if err != nil {
		return nil, err
	}

	vectors, err := embed(ctx, r.embedder, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to embed snippets: %w", err)
	}

	for i, snippet := range unique {
		ranked = append(ranked, models.RankedSnippet{
			Snippet: snippet,
			Score:   clamp01(cosine(vectors[i], centroid)),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > maxReturn {
		ranked = ranked[:maxReturn]
	}
	return ranked, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
