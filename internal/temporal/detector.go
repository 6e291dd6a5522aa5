// Package temporal finds bursts of news activity on the time axis.
package temporal

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/cluster"
	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/pkg/logger"
)

const (
	DefaultMaxIntervalDays = 182.5
	DefaultMinSamples      = 10
)

// Config controls burst fitting.
type Config struct {
	MaxIntervalDays float64
	MinSamples      int
}

// Detector fits burst intervals once and labels dates against them. A
// Detector belongs to one pipeline run; its intervals are only valid for the
// dates it was fitted on.
type Detector struct {
	cfg Config

	mu     sync.Mutex
	bursts models.Bursts
}

func NewDetector(cfg Config) *Detector {
	if cfg.MaxIntervalDays <= 0 {
		cfg.MaxIntervalDays = DefaultMaxIntervalDays
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	return &Detector{cfg: cfg}
}

// Fit clusters the non-nil dates and stores one interval per cluster whose
// size strictly exceeds MinSamples. Refitting replaces the stored intervals.
func (d *Detector) Fit(dates []*models.Date) models.Bursts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fitLocked(dates)
}

func (d *Detector) fitLocked(dates []*models.Date) models.Bursts {
	start := time.Now()

	present := make([]models.Date, 0, len(dates))
	for _, date := range dates {
		if date != nil {
			present = append(present, *date)
		}
	}

	days := make([]float64, len(present))
	for i, date := range present {
		days[i] = DayNumber(date)
	}

	labels := cluster.DBSCAN(len(days), d.cfg.MaxIntervalDays, d.cfg.MinSamples, func(i, j int) float64 {
		return math.Abs(days[i] - days[j])
	})

	bursts := make(models.Bursts)
	for label, members := range cluster.Members(labels) {
		if label == cluster.Noise || len(members) <= d.cfg.MinSamples {
			continue
		}
		interval := models.BurstInterval{Label: label, Start: present[members[0]], End: present[members[0]]}
		for _, idx := range members[1:] {
			if present[idx].Compare(interval.Start) < 0 {
				interval.Start = present[idx]
			}
			if present[idx].Compare(interval.End) > 0 {
				interval.End = present[idx]
			}
		}
		bursts[label] = interval
	}

	d.bursts = bursts

	logger.Debug("Burst intervals fitted",
		zap.Int("dates", len(present)),
		zap.Int("bursts", len(bursts)),
		zap.Duration("duration", time.Since(start)),
	)

	return bursts
}

// Bursts returns the fitted intervals, or nil before the first fit.
func (d *Detector) Bursts() models.Bursts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bursts
}

// Predict labels each date: models.LabelNoDate for nil, the matching burst
// label, or models.LabelOrdinary. The first call fits on dates when the
// detector is still unfitted. Intervals are checked in ascending label order
// and the last match wins.
func (d *Detector) Predict(dates []*models.Date) []int {
	d.mu.Lock()
	if d.bursts == nil {
		d.fitLocked(dates)
	}
	bursts := d.bursts
	d.mu.Unlock()

	order := bursts.Labels()
	labels := make([]int, len(dates))
	for i, date := range dates {
		if date == nil {
			labels[i] = models.LabelNoDate
			continue
		}
		labels[i] = models.LabelOrdinary
		for _, label := range order {
			if bursts[label].Contains(*date) {
				labels[i] = label
			}
		}
	}
	return labels
}

// Points pairs every dated entry with its label for the timeline plot.
func (d *Detector) Points(dates []*models.Date) []models.TimelinePoint {
	labels := d.Predict(dates)
	points := make([]models.TimelinePoint, 0, len(dates))
	for i, date := range dates {
		if date == nil {
			continue
		}
		points = append(points, models.TimelinePoint{Date: *date, Label: labels[i]})
	}
	return points
}

// ParseDates decodes every record date. A malformed date fails the whole
// stage since the clustering needs the complete date set.
func ParseDates(records []models.Record) ([]*models.Date, error) {
	dates := make([]*models.Date, len(records))
	for i, r := range records {
		date, err := r.ParsedDate()
		if err != nil {
			return nil, fmt.Errorf("temporal: record %d (%q): %w", i, r.Title, err)
		}
		dates[i] = date
	}
	return dates, nil
}

// DayNumber is the number of days between the Unix epoch and date.
func DayNumber(date models.Date) float64 {
	return math.Floor(float64(date.Time().Unix()) / 86400)
}
