package topic

import (
	"context"
	"fmt"
	"sync"

	"github.com/newsrisk/backend/internal/models"
)

// Clusterer fits a Modeler once over a set of unique titles and answers topic
// lookups against that fit. Create one per pipeline run.
type Clusterer struct {
	modeler Modeler

	mu     sync.Mutex
	index  map[string]int
	result *FitResult
}

func NewClusterer(modeler Modeler) *Clusterer {
	return &Clusterer{modeler: modeler}
}

// Fit deduplicates titles and fits the model. It does nothing when the
// Clusterer is already fitted.
func (c *Clusterer) Fit(ctx context.Context, titles []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fitLocked(ctx, titles)
}

func (c *Clusterer) fitLocked(ctx context.Context, titles []string) error {
	if c.result != nil {
		return nil
	}

	docs := make([]string, 0, len(titles))
	index := make(map[string]int, len(titles))
	for _, t := range titles {
		if _, ok := index[t]; ok {
			continue
		}
		index[t] = len(docs)
		docs = append(docs, t)
	}

	result, err := c.modeler.Fit(ctx, docs)
	if err != nil {
		return fmt.Errorf("topic model fit failed: %w", err)
	}
	if len(result.Assignments) != len(docs) {
		return fmt.Errorf("%w: topic model assigned %d of %d titles", models.ErrJoin, len(result.Assignments), len(docs))
	}

	c.index = index
	c.result = result
	return nil
}

// GetTopics returns one entry per unique title, in first-seen order. The
// first call fits on titles; later calls may only ask about fitted titles.
func (c *Clusterer) GetTopics(ctx context.Context, titles []string) ([]models.DocumentTopic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fitLocked(ctx, titles); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(titles))
	out := make([]models.DocumentTopic, 0, len(titles))
	for _, t := range titles {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}

		i, ok := c.index[t]
		if !ok {
			return nil, fmt.Errorf("%w: title %q was not part of the fitted set", models.ErrJoin, t)
		}
		id := c.result.Assignments[i]
		topic, ok := c.result.Topics[id]
		if !ok {
			topic = models.Topic{ID: id}
		}
		out = append(out, models.DocumentTopic{Document: t, Topic: topic})
	}
	return out, nil
}

// Join copies each title's topic id onto every record carrying that title.
func Join(records []models.Record, docTopics []models.DocumentTopic) error {
	byTitle := make(map[string]int, len(docTopics))
	for _, dt := range docTopics {
		byTitle[dt.Document] = dt.Topic.ID
	}

	for i := range records {
		id, ok := byTitle[records[i].Title]
		if !ok {
			return fmt.Errorf("%w: record %d title %q has no topic assignment", models.ErrJoin, i, records[i].Title)
		}
		records[i].Topic = id
	}
	return nil
}

// TopicsByID collects the distinct topics of docTopics, keyed by id.
func TopicsByID(docTopics []models.DocumentTopic) map[int]models.Topic {
	out := make(map[int]models.Topic)
	for _, dt := range docTopics {
		if _, ok := out[dt.Topic.ID]; !ok {
			out[dt.Topic.ID] = dt.Topic
		}
	}
	return out
}
