package temporal

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/newsrisk/backend/internal/models"
)

func date(y, m, d int) *models.Date {
	return &models.Date{Year: y, Month: m, Day: d}
}

// weekAndScattered returns 15 dates within one week followed by 5 dates a
// year apart from each other and from the week.
func weekAndScattered() []*models.Date {
	var dates []*models.Date
	for i := 0; i < 15; i++ {
		dates = append(dates, date(2020, 3, 1+i%7))
	}
	for _, y := range []int{2015, 2016, 2017, 2018, 2022} {
		dates = append(dates, date(y, 6, 15))
	}
	return dates
}

func TestFitFindsOneBurst(t *testing.T) {
	d := NewDetector(Config{MaxIntervalDays: 182.5, MinSamples: 10})
	bursts := d.Fit(weekAndScattered())

	if len(bursts) != 1 {
		t.Fatalf("len(bursts) = %d, want 1: %v", len(bursts), bursts)
	}
	for label, b := range bursts {
		if label < 0 {
			t.Errorf("label = %d, want non-negative", label)
		}
		if b.Start != *date(2020, 3, 1) || b.End != *date(2020, 3, 7) {
			t.Errorf("interval = %s..%s, want 2020-03-01..2020-03-07", b.Start, b.End)
		}
		if b.Start.Compare(b.End) > 0 {
			t.Errorf("start after end: %+v", b)
		}
	}
}

func TestPredictLabels(t *testing.T) {
	dates := append(weekAndScattered(), nil)
	d := NewDetector(Config{})
	labels := d.Predict(dates)

	burst := labels[0]
	if burst < 0 {
		t.Fatalf("week dates got label %d", burst)
	}
	for i := 0; i < 15; i++ {
		if labels[i] != burst {
			t.Errorf("labels[%d] = %d, want %d", i, labels[i], burst)
		}
	}
	for i := 15; i < 20; i++ {
		if labels[i] != models.LabelOrdinary {
			t.Errorf("scattered labels[%d] = %d, want -1", i, labels[i])
		}
	}
	if labels[20] != models.LabelNoDate {
		t.Errorf("nil date label = %d, want -2", labels[20])
	}
}

func TestPredictFitsOnce(t *testing.T) {
	d := NewDetector(Config{})
	d.Predict(weekAndScattered())
	fitted := d.Bursts()

	// A dense fortnight would be a burst of its own if the detector refitted.
	var other []*models.Date
	for i := 0; i < 15; i++ {
		other = append(other, date(1999, 1, 1+i))
	}
	for i, l := range d.Predict(other) {
		if l != models.LabelOrdinary {
			t.Errorf("labels[%d] = %d, want -1 from the first fit", i, l)
		}
	}
	if len(d.Bursts()) != len(fitted) {
		t.Errorf("bursts = %v, want %v", d.Bursts(), fitted)
	}
}

func TestPredictUnseenDates(t *testing.T) {
	d := NewDetector(Config{})
	d.Fit(weekAndScattered())

	labels := d.Predict([]*models.Date{date(2020, 3, 4), date(2020, 3, 8), nil})
	if labels[0] < 0 || labels[1] != models.LabelOrdinary || labels[2] != models.LabelNoDate {
		t.Errorf("labels = %v", labels)
	}
}

func TestClusterAtMinSamplesIsDropped(t *testing.T) {
	var dates []*models.Date
	for i := 0; i < 10; i++ {
		dates = append(dates, date(2021, 1, 1+i))
	}
	d := NewDetector(Config{MinSamples: 10})
	if bursts := d.Fit(dates); len(bursts) != 0 {
		t.Errorf("cluster of exactly MinSamples kept: %v", bursts)
	}

	labels := d.Predict(dates)
	for i, l := range labels {
		if l != models.LabelOrdinary {
			t.Errorf("labels[%d] = %d, want -1", i, l)
		}
	}
}

func TestOverlappingIntervalsHighestLabelWins(t *testing.T) {
	d := NewDetector(Config{})
	d.bursts = models.Bursts{
		0: {Label: 0, Start: *date(2020, 1, 1), End: *date(2020, 12, 31)},
		3: {Label: 3, Start: *date(2020, 6, 1), End: *date(2020, 6, 30)},
	}

	labels := d.Predict([]*models.Date{date(2020, 6, 10), date(2020, 2, 1)})
	if labels[0] != 3 || labels[1] != 0 {
		t.Errorf("labels = %v, want [3 0]", labels)
	}
}

func TestPoints(t *testing.T) {
	d := NewDetector(Config{})
	points := d.Points([]*models.Date{date(2020, 1, 1), nil})
	if len(points) != 1 || points[0].Label != models.LabelOrdinary {
		t.Errorf("points = %+v", points)
	}
}

func TestParseDatesPropagatesErrors(t *testing.T) {
	records := []models.Record{
		{Title: "ok", Date: json.RawMessage(`{"Year":2020,"Month":1,"Day":1}`)},
		{Title: "none"},
		{Title: "bad", Date: json.RawMessage(`{"Year":2020,"Month":"x","Day":1}`)},
	}
	if _, err := ParseDates(records); !errors.Is(err, models.ErrDateParse) {
		t.Fatalf("err = %v, want ErrDateParse", err)
	}

	dates, err := ParseDates(records[:2])
	if err != nil {
		t.Fatal(err)
	}
	if dates[0] == nil || dates[1] != nil {
		t.Errorf("dates = %v", dates)
	}
}

func TestDayNumber(t *testing.T) {
	if got := DayNumber(models.Date{Year: 1970, Month: 1, Day: 2}); got != 1 {
		t.Errorf("DayNumber = %v, want 1", got)
	}
}
