// Package records turns a raw search-result document into deduplicated
// pipeline records.
package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/pkg/logger"
)

// ContainerKey is the document key holding the result list.
const ContainerKey = "SearchResults"

// Parse decodes data and returns one record per distinct title+snippet text,
// keeping the first occurrence in input order.
func Parse(data []byte) ([]models.Record, error) {
	var document map[string]json.RawMessage
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("%w: document is not a JSON object: %v", models.ErrSchema, err)
	}

	container, ok := document[ContainerKey]
	if !ok {
		return nil, fmt.Errorf("%w: document has no %q key", models.ErrSchema, ContainerKey)
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(container, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s must be a list of objects: %v", models.ErrSchema, ContainerKey, err)
	}

	return Normalize(raw)
}

// Normalize lower-cases field names, builds the full text and drops repeats.
func Normalize(raw []map[string]json.RawMessage) ([]models.Record, error) {
	records := make([]models.Record, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))

	for i, item := range raw {
		if item == nil {
			return nil, fmt.Errorf("%w: record %d is null", models.ErrSchema, i)
		}

		fields, err := lowerKeys(item)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", models.ErrSchema, i, err)
		}

		title, err := requiredString(fields, "title")
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", models.ErrSchema, i, err)
		}
		snippet, err := requiredString(fields, "snippet")
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", models.ErrSchema, i, err)
		}

		fullText := title + snippet
		if _, dup := seen[fullText]; dup {
			continue
		}
		seen[fullText] = struct{}{}

		var date json.RawMessage
		if v, ok := fields["date"]; ok && !isNull(v) {
			date = v
		}

		records = append(records, models.Record{
			Title:         title,
			Snippet:       snippet,
			FullText:      fullText,
			Date:          date,
			TemporalLabel: models.LabelNoDate,
			Topic:         models.NoiseTopic,
		})
	}

	logger.Debug("Records normalized",
		zap.Int("input", len(raw)),
		zap.Int("unique", len(records)),
	)

	return records, nil
}

// UniqueTitles returns each distinct title once, in record order.
func UniqueTitles(records []models.Record) []string {
	seen := make(map[string]struct{}, len(records))
	titles := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Title]; ok {
			continue
		}
		seen[r.Title] = struct{}{}
		titles = append(titles, r.Title)
	}
	return titles
}

// lowerKeys fails when two keys differ only by case, since either value
// could otherwise win.
func lowerKeys(item map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage, len(item))
	for k, v := range item {
		lk := strings.ToLower(k)
		if _, dup := fields[lk]; dup {
			return nil, fmt.Errorf("duplicate key %q after lower-casing", lk)
		}
		fields[lk] = v
	}
	return fields, nil
}

func requiredString(fields map[string]json.RawMessage, name string) (string, error) {
	v, ok := fields[name]
	if !ok || isNull(v) {
		return "", fmt.Errorf("missing %q", name)
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%q must be a string", name)
	}
	return s, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
