package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/internal/summarizer"
	"github.com/newsrisk/backend/internal/topic"
)

// titleModeler assigns topics from a fixed title → id table.
type titleModeler struct {
	mu     sync.Mutex
	ids    map[string]int
	fits   int
	fitErr error
}

func (m *titleModeler) Fit(ctx context.Context, docs []string) (*topic.FitResult, error) {
	m.mu.Lock()
	m.fits++
	m.mu.Unlock()
	if m.fitErr != nil {
		return nil, m.fitErr
	}

	res := &topic.FitResult{Assignments: make([]int, len(docs)), Topics: map[int]models.Topic{}}
	for i, d := range docs {
		id, ok := m.ids[d]
		if !ok {
			id = models.NoiseTopic
		}
		res.Assignments[i] = id
		t := res.Topics[id]
		t.ID = id
		t.Representation = fmt.Sprintf("keywords %d", id)
		t.TopNWords = fmt.Sprintf("kw%d - more", id)
		t.RepresentativeDocs = append(t.RepresentativeDocs, d)
		res.Topics[id] = t
	}
	return res, nil
}

// orderRanker scores candidates by their position.
type orderRanker struct{}

func (orderRanker) FindDuplicates(ctx context.Context, exemplars, candidates []string, maxReturn int) ([]models.RankedSnippet, error) {
	out := []models.RankedSnippet{}
	seen := map[string]bool{}
	for i, c := range candidates {
		if seen[c] || len(out) == maxReturn {
			continue
		}
		seen[c] = true
		out = append(out, models.RankedSnippet{Snippet: c, Score: 1 / float64(i+1)})
	}
	return out, nil
}

type fakeSummarizer struct {
	readyErr error
	theme    func(titles []string) (string, error)
	label    int
	calls    int
	mu       sync.Mutex
}

func (f *fakeSummarizer) Ready() error { return f.readyErr }

func (f *fakeSummarizer) Predict(ctx context.Context, titles []string, task string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.theme == nil {
		return "generated: " + strings.Join(titles, "|"), nil
	}
	return f.theme(titles)
}

func (f *fakeSummarizer) Classify(ctx context.Context, title, snippet string) (int, bool, error) {
	return f.label, true, nil
}

type fakeExtractor struct{}

func (fakeExtractor) ExtractVerbTriplets(ctx context.Context, texts []string) (models.Triplets, error) {
	return models.Triplets{{Subject: "jailed", Relation: "dobj", Object: texts[0]}}, nil
}

const sampleDoc = `{"SearchResults": [
	{"title": "Boss jailed", "snippet": "Elliott jailed for attack", "date": {"Year": 2020, "Month": 3, "Day": 5}},
	{"title": "Tax inquiry", "snippet": "HMRC investigates landfill tax", "date": {"Year": 2022, "Month": 10, "Day": 19}},
	{"title": "Boss jailed", "snippet": "Revenge attack sentence", "date": null},
	{"title": "Football sponsor", "snippet": "Club deal signed"},
	{"title": "Tax inquiry", "snippet": "HMRC investigates landfill tax", "date": null}
]}`

func newTestEngine(m *titleModeler, s *fakeSummarizer) *Engine {
	return NewEngine(Config{Workers: 2}, m, orderRanker{}, s, fakeExtractor{})
}

func sampleModeler() *titleModeler {
	return &titleModeler{ids: map[string]int{"Boss jailed": 1, "Tax inquiry": 0}}
}

func TestRunFullPipeline(t *testing.T) {
	m := sampleModeler()
	res, err := newTestEngine(m, &fakeSummarizer{}).Run(context.Background(), []byte(sampleDoc), DefaultOptions())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(res.Records) != 4 {
		t.Fatalf("records = %d, want 4 after dedup", len(res.Records))
	}
	if res.Records[0].Topic != 1 || res.Records[2].Topic != 1 || res.Records[3].Topic != models.NoiseTopic {
		t.Errorf("topics not joined: %+v", res.Records)
	}
	if res.Records[2].TemporalLabel != models.LabelNoDate || res.Records[0].TemporalLabel != models.LabelOrdinary {
		t.Errorf("temporal labels: %+v", res.Records)
	}
	if len(res.Timeline) != 2 {
		t.Errorf("timeline = %+v", res.Timeline)
	}
	for _, p := range res.Timeline {
		if p.Label != models.LabelOrdinary {
			t.Errorf("timeline point %+v, want the record label -1", p)
		}
	}

	report := res.Report
	if len(report.Topics) != 2 {
		t.Fatalf("topics = %+v, want 2 non-noise topics", report.Topics)
	}
	if report.Topics[0].TopicID != 0 || report.Topics[1].TopicID != 1 {
		t.Errorf("topic order = %d,%d", report.Topics[0].TopicID, report.Topics[1].TopicID)
	}
	if report.Topics[1].Theme != "generated: Boss jailed" {
		t.Errorf("theme = %q", report.Topics[1].Theme)
	}
	if got := report.Topics[1].TopSnippets; len(got) != 2 || got[0].Snippet != "Elliott jailed for attack" {
		t.Errorf("snippets = %+v", got)
	}
	if report.Topics[0].ExtractedKeywords != "kw0 - more" {
		t.Errorf("keywords = %q", report.Topics[0].ExtractedKeywords)
	}
	if report.NewsBursts == nil || len(*report.NewsBursts) != 0 {
		t.Errorf("news bursts = %v, want empty", report.NewsBursts)
	}
	if report.NERGraph == nil || len(*report.NERGraph) != 1 {
		t.Errorf("ner graph = %v", report.NERGraph)
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"news_bursts":{}`, `"ner_graph":[`, `"topics":[`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("json %s missing %s", data, key)
		}
	}
}

func TestRunTopicModelDisabled(t *testing.T) {
	m := sampleModeler()
	s := &fakeSummarizer{readyErr: models.ErrConfiguration}
	opts := DefaultOptions()
	opts.TopicModel = false

	report, err := newTestEngine(m, s).ModelRisk(context.Background(), []byte(sampleDoc), opts)
	if err != nil {
		t.Fatalf("ModelRisk() error = %v", err)
	}
	if m.fits != 0 || s.calls != 0 {
		t.Errorf("topic stage ran: fits=%d summaries=%d", m.fits, s.calls)
	}
	if report.Topics == nil || len(report.Topics) != 0 {
		t.Errorf("topics = %v, want empty list", report.Topics)
	}
}

func TestRunSkippedStagesHaveNoKeys(t *testing.T) {
	opts := Options{TopicModel: false}
	report, err := newTestEngine(sampleModeler(), &fakeSummarizer{}).ModelRisk(context.Background(), []byte(sampleDoc), opts)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(report)
	if string(data) != `{"topics":[]}` {
		t.Errorf("json = %s", data)
	}
}

func TestRunKeepsMachineThemeOnFailure(t *testing.T) {
	tests := []struct {
		name string
		fn   func([]string) (string, error)
	}{
		{"sentinel", func([]string) (string, error) { return summarizer.FailedSentinel, nil }},
		{"external failure", func([]string) (string, error) {
			return "", fmt.Errorf("%w: 500", models.ErrExternalService)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSummarizer{theme: tt.fn}
			report, err := newTestEngine(sampleModeler(), s).ModelRisk(context.Background(), []byte(sampleDoc), DefaultOptions())
			if err != nil {
				t.Fatalf("ModelRisk() error = %v", err)
			}
			for _, ts := range report.Topics {
				if ts.Theme == summarizer.FailedSentinel {
					t.Fatal("sentinel leaked into the report")
				}
				if ts.Theme != fmt.Sprintf("keywords %d", ts.TopicID) {
					t.Errorf("theme = %q, want machine theme", ts.Theme)
				}
			}
		})
	}
}

func TestRunFatalSummarizerErrors(t *testing.T) {
	s := &fakeSummarizer{theme: func([]string) (string, error) {
		return "", fmt.Errorf("%w: %q", models.ErrUnsupportedTask, "summary")
	}}
	_, err := newTestEngine(sampleModeler(), s).Run(context.Background(), []byte(sampleDoc), DefaultOptions())
	if !errors.Is(err, models.ErrUnsupportedTask) {
		t.Errorf("err = %v, want ErrUnsupportedTask", err)
	}
}

func TestRunMissingCredentialFailsBeforeWork(t *testing.T) {
	m := sampleModeler()
	s := &fakeSummarizer{readyErr: fmt.Errorf("%w: no key", models.ErrConfiguration)}

	_, err := newTestEngine(m, s).Run(context.Background(), []byte(`not json`), DefaultOptions())
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if m.fits != 0 {
		t.Error("modeler ran before the credential check")
	}

	opts := DefaultOptions()
	opts.UseGenerativeSummary = false
	if _, err := newTestEngine(m, s).Run(context.Background(), []byte(sampleDoc), opts); err != nil {
		t.Errorf("credential required without generative summaries: %v", err)
	}
}

func TestRunPropagatesErrors(t *testing.T) {
	badDate := `{"SearchResults": [{"title": "a", "snippet": "b", "date": {"Year": 2020}}]}`
	opts := DefaultOptions()
	opts.UseGenerativeSummary = false

	_, err := newTestEngine(sampleModeler(), nil).Run(context.Background(), []byte(badDate), opts)
	if !errors.Is(err, models.ErrDateParse) {
		t.Errorf("err = %v, want ErrDateParse", err)
	}

	_, err = newTestEngine(sampleModeler(), nil).Run(context.Background(), []byte(`{"Results": []}`), opts)
	if !errors.Is(err, models.ErrSchema) {
		t.Errorf("err = %v, want ErrSchema", err)
	}

	m := &titleModeler{fitErr: errors.New("embedding backend down")}
	if _, err := newTestEngine(m, nil).Run(context.Background(), []byte(sampleDoc), opts); err == nil {
		t.Error("expected topic stage error")
	}
}

func TestRunDetectsBursts(t *testing.T) {
	var items []string
	for i := 0; i < 15; i++ {
		items = append(items, fmt.Sprintf(`{"title": "week %d", "snippet": "s", "date": {"Year": 2020, "Month": 3, "Day": %d}}`, i, 1+i%7))
	}
	for i, y := range []int{2015, 2016, 2017, 2018, 2022} {
		items = append(items, fmt.Sprintf(`{"title": "old %d", "snippet": "s", "date": {"Year": %d, "Month": 6, "Day": 15}}`, i, y))
	}
	doc := `{"SearchResults": [` + strings.Join(items, ",") + `]}`

	opts := Options{TemporalModel: true}
	res, err := newTestEngine(sampleModeler(), nil).Run(context.Background(), []byte(doc), opts)
	if err != nil {
		t.Fatal(err)
	}

	bursts := *res.Report.NewsBursts
	if len(bursts) != 1 {
		t.Fatalf("bursts = %v, want 1", bursts)
	}
	for _, r := range res.Records[15:] {
		if r.TemporalLabel != models.LabelOrdinary {
			t.Errorf("%q label = %d, want -1", r.Title, r.TemporalLabel)
		}
	}
	for _, r := range res.Records[:15] {
		if _, ok := bursts[r.TemporalLabel]; !ok {
			t.Errorf("%q label = %d, want a burst", r.Title, r.TemporalLabel)
		}
	}
}

func TestRunTopicOrderIsDeterministic(t *testing.T) {
	ids := map[string]int{}
	var items []string
	for i := 0; i < 12; i++ {
		title := fmt.Sprintf("title %d", i)
		ids[title] = 11 - i
		items = append(items, fmt.Sprintf(`{"title": %q, "snippet": "s%d"}`, title, i))
	}
	doc := `{"SearchResults": [` + strings.Join(items, ",") + `]}`

	s := &fakeSummarizer{theme: func(titles []string) (string, error) {
		// Later topics finish first.
		var n int
		fmt.Sscanf(titles[0], "title %d", &n)
		time.Sleep(time.Duration(12-n) * time.Millisecond)
		return titles[0], nil
	}}
	e := NewEngine(Config{Workers: 4}, &titleModeler{ids: ids}, orderRanker{}, s, fakeExtractor{})

	report, err := e.ModelRisk(context.Background(), []byte(doc), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	for i, summary := range report.Topics {
		if summary.TopicID != i {
			t.Fatalf("topics[%d].TopicID = %d", i, summary.TopicID)
		}
		if summary.Theme != fmt.Sprintf("title %d", 11-i) {
			t.Errorf("topics[%d].Theme = %q", i, summary.Theme)
		}
	}
}

func TestRunRiskClassification(t *testing.T) {
	opts := DefaultOptions()
	opts.RiskClassification = true
	report, err := newTestEngine(sampleModeler(), &fakeSummarizer{label: 1}).ModelRisk(context.Background(), []byte(sampleDoc), opts)
	if err != nil {
		t.Fatal(err)
	}
	for _, ts := range report.Topics {
		if ts.RiskLabel == nil || *ts.RiskLabel != 1 {
			t.Errorf("topic %d risk label = %v", ts.TopicID, ts.RiskLabel)
		}
	}
}

func TestRunReportsProgress(t *testing.T) {
	var stages []string
	opts := DefaultOptions()
	opts.Progress = func(stage string) { stages = append(stages, stage) }

	if _, err := newTestEngine(sampleModeler(), &fakeSummarizer{}).Run(context.Background(), []byte(sampleDoc), opts); err != nil {
		t.Fatal(err)
	}
	if stages[0] != StageValidate || stages[len(stages)-1] != StageDone {
		t.Errorf("stages = %v", stages)
	}
	if len(stages) != 7 {
		t.Errorf("stages = %v, want 7", stages)
	}
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(map[string]bool{"ner_graph": false, "use_gpt": false, "Topic_Model": true})
	if err != nil {
		t.Fatal(err)
	}
	if opts.RelationExtraction || opts.UseGenerativeSummary || !opts.TopicModel || !opts.TemporalModel {
		t.Errorf("opts = %+v", opts)
	}
	if opts.RiskClassification {
		t.Error("risk classification should default to off")
	}

	if _, err := ParseOptions(map[string]bool{"sentiment": true}); !errors.Is(err, models.ErrSchema) {
		t.Errorf("err = %v, want ErrSchema", err)
	}
}
