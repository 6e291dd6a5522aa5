package models

import "time"

// ReportRow is one persisted pipeline run.
type ReportRow struct {
	ID         string
	Company    string
	Options    string
	InputHash  string
	ReportJSON string
	Records    int
	Topics     int
	CreatedAt  time.Time
}

// RecordRow is one annotated record of a stored report.
type RecordRow struct {
	ReportID      string
	Index         int
	Title         string
	Snippet       string
	Date          string
	TemporalLabel int
	Topic         int
}
