package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/newsrisk/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.InitSchema(); err != nil {
		t.Fatal(err)
	}
	return c
}

func insert(t *testing.T, c *Client, id, company string, created time.Time, records ...models.RecordRow) {
	t.Helper()
	row := &models.ReportRow{
		ID:         id,
		Company:    company,
		Options:    "t=true",
		InputHash:  "hash-" + id,
		ReportJSON: `{"topics":[]}`,
		Records:    len(records),
		CreatedAt:  created,
	}
	if err := c.InsertReport(context.Background(), row, records); err != nil {
		t.Fatal(err)
	}
}

func TestInsertAndGetReport(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	insert(t, c, "r1", "Niramax", time.Unix(1700000000, 0),
		models.RecordRow{Index: 1, Title: "b", Date: "2019-01-02", TemporalLabel: 0, Topic: 1},
		models.RecordRow{Index: 0, Title: "a", Snippet: "s", TemporalLabel: -2, Topic: -1},
	)

	got, err := c.GetReport(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Company != "Niramax" || got.ReportJSON != `{"topics":[]}` || got.Records != 2 {
		t.Errorf("report = %+v", got)
	}
	if !got.CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("created_at = %v", got.CreatedAt)
	}

	recs, err := c.GetRecords(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Title != "a" || recs[1].Date != "2019-01-02" {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].TemporalLabel != -2 || recs[0].Topic != -1 {
		t.Errorf("labels = %+v", recs[0])
	}
}

func TestGetReportNotFound(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.GetReport(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestListReports(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	insert(t, c, "old", "Niramax", time.Unix(100, 0))
	insert(t, c, "new", "Niramax", time.Unix(200, 0))
	insert(t, c, "other", "Acme", time.Unix(300, 0))

	all, err := c.ListReports(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "other" {
		t.Fatalf("all = %+v", all)
	}

	filtered, err := c.ListReports(ctx, "Niramax", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].ID != "new" {
		t.Fatalf("filtered = %+v", filtered)
	}
}

func TestFindByHash(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	insert(t, c, "r1", "Niramax", time.Unix(100, 0))

	got, err := c.FindByHash(ctx, "hash-r1", "Niramax", "t=true")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "r1" {
		t.Errorf("id = %s", got.ID)
	}

	misses := []struct {
		name    string
		company string
		options string
	}{
		{"other options", "Niramax", "t=false"},
		{"other company", "Acme", "t=true"},
		{"no company", "", "t=true"},
	}
	for _, m := range misses {
		if _, err := c.FindByHash(ctx, "hash-r1", m.company, m.options); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: err = %v", m.name, err)
		}
	}
}

func TestDeleteReportCascades(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	insert(t, c, "r1", "", time.Unix(100, 0), models.RecordRow{Index: 0, Title: "a"})

	if err := c.DeleteReport(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	recs, err := c.GetRecords(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("records left = %d", len(recs))
	}
	if err := c.DeleteReport(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}
