package builder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/kg/neo4j"
	"github.com/newsrisk/backend/internal/metrics"
	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/pkg/logger"
)

// GraphStore persists relation edges. *neo4j.Client implements it.
type GraphStore interface {
	MergeRelations(ctx context.Context, reportID, company string, relations []neo4j.Relation) error
}

type Builder struct {
	kgClient GraphStore
}

func NewBuilder(kgClient GraphStore) *Builder {
	return &Builder{kgClient: kgClient}
}

// BuildFromReport collapses repeated triplets into counted edges and writes
// them under the report id.
func (b *Builder) BuildFromReport(ctx context.Context, reportID, company string, triplets models.Triplets) error {
	relations := Aggregate(triplets)
	if len(relations) == 0 {
		logger.Debug("No relations to build", zap.String("report_id", reportID))
		return nil
	}

	if err := b.kgClient.MergeRelations(ctx, reportID, company, relations); err != nil {
		return fmt.Errorf("failed to build relation graph: %w", err)
	}
	metrics.KGRelationsTotal.Add(float64(len(relations)))

	logger.Info("Relation graph built",
		zap.String("report_id", reportID),
		zap.Int("triplets", len(triplets)),
		zap.Int("relations", len(relations)),
	)

	return nil
}

// Aggregate counts identical triplets, keeping first-seen order.
func Aggregate(triplets models.Triplets) []neo4j.Relation {
	index := make(map[models.Triplet]int, len(triplets))
	var relations []neo4j.Relation

	for _, t := range triplets {
		if t.Subject == "" || t.Object == "" {
			continue
		}
		if i, ok := index[t]; ok {
			relations[i].Count++
			continue
		}
		index[t] = len(relations)
		relations = append(relations, neo4j.Relation{
			Subject:  t.Subject,
			Relation: t.Relation,
			Object:   t.Object,
			Count:    1,
		})
	}

	return relations
}
