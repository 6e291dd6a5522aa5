package models

import "encoding/json"

// Temporal labels that are not burst ids.
const (
	LabelOrdinary = -1 // dated, outside every burst
	LabelNoDate   = -2 // no date at all
)

// NoiseTopic is the topic id of titles no topic claimed.
const NoiseTopic = -1

// Record is one deduplicated search result. Date keeps the raw provider value
// so a malformed date only fails the stage that reads it.
type Record struct {
	Title         string
	Snippet       string
	FullText      string
	Date          json.RawMessage
	TemporalLabel int
	Topic         int
}

func (r Record) ParsedDate() (*Date, error) {
	return ParseDate(r.Date)
}

// Topic is a cluster of semantically related titles.
type Topic struct {
	ID                 int
	Representation     string
	RepresentativeDocs []string
	TopNWords          string
}

// DocumentTopic assigns one unique title to its topic.
type DocumentTopic struct {
	Document string
	Topic    Topic
}

// TimelinePoint feeds the burst scatter plot.
type TimelinePoint struct {
	Date  Date `json:"date"`
	Label int  `json:"label"`
}
