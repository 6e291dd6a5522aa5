package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// BurstInterval is one fitted period of elevated news activity.
type BurstInterval struct {
	Label int
	Start Date
	End   Date
}

func (b BurstInterval) Contains(d Date) bool {
	return b.Start.Compare(d) <= 0 && d.Compare(b.End) <= 0
}

func (b BurstInterval) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]Date{b.Start, b.End})
}

func (b *BurstInterval) UnmarshalJSON(data []byte) error {
	var pair [2]Date
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	b.Start, b.End = pair[0], pair[1]
	return nil
}

// Bursts maps a burst label to its interval.
type Bursts map[int]BurstInterval

// Labels returns the burst labels in ascending order.
func (b Bursts) Labels() []int {
	labels := make([]int, 0, len(b))
	for label := range b {
		labels = append(labels, label)
	}
	sort.Ints(labels)
	return labels
}

func (b *Bursts) UnmarshalJSON(data []byte) error {
	var raw map[string]BurstInterval
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Bursts, len(raw))
	for key, interval := range raw {
		label, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("burst label %q: %w", key, err)
		}
		interval.Label = label
		out[label] = interval
	}
	*b = out
	return nil
}

// Triplet is a subject-relation-object edge produced by relation extraction.
type Triplet struct {
	Subject  string
	Relation string
	Object   string
}

func (t Triplet) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{t.Subject, t.Relation, t.Object})
}

func (t *Triplet) UnmarshalJSON(data []byte) error {
	var parts [3]string
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	t.Subject, t.Relation, t.Object = parts[0], parts[1], parts[2]
	return nil
}

type Triplets []Triplet

// RankedSnippet is a snippet scored against a topic centroid.
type RankedSnippet struct {
	Snippet string
	Score   float64
}

func (r RankedSnippet) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{r.Snippet, r.Score})
}

func (r *RankedSnippet) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("ranked snippet needs 2 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &r.Snippet); err != nil {
		return err
	}
	return json.Unmarshal(parts[1], &r.Score)
}

// TopicSummary is one entry of the report's topic list.
type TopicSummary struct {
	TopicID           int             `json:"-"`
	Theme             string          `json:"theme"`
	TopTitles         []string        `json:"top_titles"`
	ExtractedKeywords string          `json:"extracted_keywords"`
	TopSnippets       []RankedSnippet `json:"top_snippets"`
	RiskLabel         *int            `json:"risk_label,omitempty"`
}

// Report is the pipeline output. NewsBursts and NERGraph are nil when their
// stage was skipped, so the keys disappear from the JSON instead of being null.
type Report struct {
	NewsBursts *Bursts        `json:"news_bursts,omitempty"`
	NERGraph   *Triplets      `json:"ner_graph,omitempty"`
	Topics     []TopicSummary `json:"topics"`
}
