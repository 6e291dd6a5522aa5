package report

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/internal/risk"
	"github.com/newsrisk/backend/internal/search/web"
	"github.com/newsrisk/backend/internal/storage/sqlite"
	"github.com/newsrisk/backend/internal/vector/zilliz"
)

const input = `{"SearchResults":[
	{"Title":"Niramax fined","Snippet":"tax","Date":{"Year":2019,"Month":1,"Day":2}},
	{"Title":"Boss jailed","Snippet":"attack"}
]}`

type fakeEngine struct {
	runs int
	err  error
}

func (f *fakeEngine) Run(ctx context.Context, data []byte, opts risk.Options) (*risk.Result, error) {
	f.runs++
	if f.err != nil {
		return nil, f.err
	}
	bursts := models.Bursts{0: {Label: 0, Start: models.Date{Year: 2019, Month: 1, Day: 1}, End: models.Date{Year: 2019, Month: 1, Day: 5}}}
	graph := models.Triplets{{Subject: "fined", Relation: "dobj", Object: "Niramax"}}
	return &risk.Result{
		Report: &models.Report{
			NewsBursts: &bursts,
			NERGraph:   &graph,
			Topics: []models.TopicSummary{{
				TopicID:           0,
				Theme:             "tax fraud",
				TopTitles:         []string{"Niramax fined"},
				ExtractedKeywords: "tax - fraud",
				TopSnippets:       []models.RankedSnippet{{Snippet: "tax", Score: 0.9}},
			}},
		},
		Records: []models.Record{
			{Title: "Niramax fined", Snippet: "tax", Date: json.RawMessage(`{"Year":2019,"Month":1,"Day":2}`), TemporalLabel: 0, Topic: 0},
			{Title: "Boss jailed", Snippet: "attack", TemporalLabel: models.LabelNoDate, Topic: -1},
		},
	}, nil
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (m *memoryCache) GetReport(ctx context.Context, key string, report interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.items[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, report)
}

func (m *memoryCache) SetReport(ctx context.Context, key string, report interface{}, ttl time.Duration) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = map[string][]byte{}
	}
	m.items[key] = data
	return nil
}

func (m *memoryCache) InvalidateReports(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	return nil
}

type fakeGraph struct {
	reportID string
	company  string
	triplets models.Triplets
	err      error
}

func (f *fakeGraph) BuildFromReport(ctx context.Context, reportID, company string, triplets models.Triplets) error {
	f.reportID, f.company, f.triplets = reportID, company, triplets
	return f.err
}

type fakeIndex struct {
	inserted []zilliz.TopicVector
	query    []float32
	company  string
}

func (f *fakeIndex) InsertTopics(ctx context.Context, topics []zilliz.TopicVector) error {
	f.inserted = append(f.inserted, topics...)
	return nil
}

func (f *fakeIndex) SearchSimilar(ctx context.Context, embedding []float32, topK int, company string) ([]zilliz.SimilarTopic, error) {
	f.query, f.company = embedding, company
	return []zilliz.SimilarTopic{{ReportID: "r1", TopicID: 0, Score: 0.9}}, nil
}

type unitEmbedder struct{}

func (unitEmbedder) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeNews struct {
	items []web.NewsItem
	err   error
}

func (f *fakeNews) FetchNews(ctx context.Context, company string, maxResults int) ([]web.NewsItem, error) {
	return f.items, f.err
}

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	store, err := sqlite.NewClient(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestAnalyzePersistsToEverySink(t *testing.T) {
	engine := &fakeEngine{}
	graph := &fakeGraph{}
	index := &fakeIndex{}
	store := newStore(t)

	svc := NewService(Config{}, Dependencies{
		Engine:   engine,
		Store:    store,
		Cache:    &memoryCache{},
		Graph:    graph,
		Topics:   index,
		Embedder: unitEmbedder{},
	})

	ctx := context.Background()
	got, err := svc.Analyze(ctx, Request{Company: "Niramax", Data: []byte(input), Options: risk.DefaultOptions()})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID == "" || got.Cached {
		t.Fatalf("analysis = %+v", got)
	}

	if graph.reportID != got.ID || graph.company != "Niramax" || len(graph.triplets) != 1 {
		t.Errorf("graph = %+v", graph)
	}
	if len(index.inserted) != 1 || index.inserted[0].ReportID != got.ID || index.inserted[0].Theme != "tax fraud" {
		t.Errorf("index = %+v", index.inserted)
	}

	stored, err := svc.Get(ctx, got.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Company != "Niramax" || len(stored.Report.Topics) != 1 || stored.Report.NewsBursts == nil {
		t.Errorf("stored = %+v", stored.Report)
	}

	timeline, err := svc.Timeline(ctx, got.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(timeline) != 1 || timeline[0].Date != (models.Date{Year: 2019, Month: 1, Day: 2}) || timeline[0].Label != 0 {
		t.Errorf("timeline = %+v", timeline)
	}

	list, err := svc.List(ctx, "Niramax", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != got.ID || list[0].Records != 2 || list[0].Topics != 1 {
		t.Errorf("list = %+v", list)
	}
}

func TestAnalyzeServesRepeatsFromCache(t *testing.T) {
	engine := &fakeEngine{}
	svc := NewService(Config{}, Dependencies{Engine: engine, Cache: &memoryCache{}})
	ctx := context.Background()

	first, err := svc.Analyze(ctx, Request{Data: []byte(input), Options: risk.DefaultOptions()})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Analyze(ctx, Request{Data: []byte(input), Options: risk.DefaultOptions()})
	if err != nil {
		t.Fatal(err)
	}
	if engine.runs != 1 || !second.Cached || second.ID != first.ID {
		t.Fatalf("runs = %d, second = %+v", engine.runs, second)
	}

	other := risk.DefaultOptions()
	other.RelationExtraction = false
	if _, err := svc.Analyze(ctx, Request{Data: []byte(input), Options: other}); err != nil {
		t.Fatal(err)
	}
	if engine.runs != 2 {
		t.Errorf("different options should rerun, runs = %d", engine.runs)
	}
}

func TestAnalyzeSeparatesCompanies(t *testing.T) {
	tests := []struct {
		name  string
		cache Cache
		store bool
	}{
		{name: "cache", cache: &memoryCache{}},
		{name: "history", store: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			deps := Dependencies{Engine: engine, Cache: tt.cache}
			if tt.store {
				deps.Store = newStore(t)
			}
			svc := NewService(Config{}, deps)
			ctx := context.Background()

			first, err := svc.Analyze(ctx, Request{Company: "Niramax", Data: []byte(input), Options: risk.DefaultOptions()})
			if err != nil {
				t.Fatal(err)
			}
			other, err := svc.Analyze(ctx, Request{Company: "Acme", Data: []byte(input), Options: risk.DefaultOptions()})
			if err != nil {
				t.Fatal(err)
			}
			if engine.runs != 2 || other.Cached || other.Company != "Acme" || other.ID == first.ID {
				t.Fatalf("runs = %d, other = %+v", engine.runs, other)
			}

			again, err := svc.Analyze(ctx, Request{Company: "Niramax", Data: []byte(input), Options: risk.DefaultOptions()})
			if err != nil {
				t.Fatal(err)
			}
			if engine.runs != 2 || !again.Cached || again.ID != first.ID {
				t.Errorf("runs = %d, again = %+v", engine.runs, again)
			}
		})
	}
}

func TestDeleteDropsHistoryAndCache(t *testing.T) {
	engine := &fakeEngine{}
	cache := &memoryCache{}
	svc := NewService(Config{}, Dependencies{Engine: engine, Store: newStore(t), Cache: cache})
	ctx := context.Background()

	first, err := svc.Analyze(ctx, Request{Company: "Niramax", Data: []byte(input), Options: risk.DefaultOptions()})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if len(cache.items) != 0 {
		t.Errorf("cache still holds %d reports", len(cache.items))
	}
	if _, err := svc.Get(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() err = %v", err)
	}

	again, err := svc.Analyze(ctx, Request{Company: "Niramax", Data: []byte(input), Options: risk.DefaultOptions()})
	if err != nil {
		t.Fatal(err)
	}
	if engine.runs != 2 || again.Cached {
		t.Errorf("runs = %d, again = %+v", engine.runs, again)
	}

	if err := svc.Delete(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() err = %v", err)
	}
}

func TestAnalyzeFallsBackToHistory(t *testing.T) {
	engine := &fakeEngine{}
	store := newStore(t)
	ctx := context.Background()

	first, err := NewService(Config{}, Dependencies{Engine: engine, Store: store}).
		Analyze(ctx, Request{Data: []byte(input), Options: risk.DefaultOptions()})
	if err != nil {
		t.Fatal(err)
	}

	again, err := NewService(Config{}, Dependencies{Engine: engine, Store: store}).
		Analyze(ctx, Request{Data: []byte(input), Options: risk.DefaultOptions()})
	if err != nil {
		t.Fatal(err)
	}
	if engine.runs != 1 || again.ID != first.ID || !again.Cached {
		t.Errorf("runs = %d, again = %+v", engine.runs, again)
	}
}

func TestAnalyzeEngineError(t *testing.T) {
	engine := &fakeEngine{err: models.ErrSchema}
	_, err := NewService(Config{}, Dependencies{Engine: engine}).
		Analyze(context.Background(), Request{Data: []byte("{}")})
	if !errors.Is(err, models.ErrSchema) {
		t.Fatalf("err = %v", err)
	}
}

func TestAnalyzeSinkFailureIsNotFatal(t *testing.T) {
	svc := NewService(Config{}, Dependencies{Engine: &fakeEngine{}, Graph: &fakeGraph{err: errors.New("neo4j down")}})
	if _, err := svc.Analyze(context.Background(), Request{Data: []byte(input), Options: risk.DefaultOptions()}); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	svc := NewService(Config{}, Dependencies{Engine: &fakeEngine{}, Store: newStore(t)})
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.Timeline(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestHistoryRequiresStore(t *testing.T) {
	svc := NewService(Config{}, Dependencies{Engine: &fakeEngine{}})
	if _, err := svc.List(context.Background(), "", 10); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
	if err := svc.Delete(context.Background(), "r1"); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.SimilarTopics(context.Background(), "fraud", "", 5); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.FetchAndAnalyze(context.Background(), "Niramax", risk.DefaultOptions()); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
}

func TestFetchAndAnalyze(t *testing.T) {
	d := models.Date{Year: 2020, Month: 2, Day: 3}
	news := &fakeNews{items: []web.NewsItem{{Title: "Niramax fined", Snippet: "tax", Date: &d}}}
	engine := &fakeEngine{}
	svc := NewService(Config{}, Dependencies{Engine: engine, News: news})

	got, err := svc.FetchAndAnalyze(context.Background(), "Niramax", risk.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if got.Company != "Niramax" || engine.runs != 1 {
		t.Errorf("got = %+v, runs = %d", got, engine.runs)
	}

	news.err = models.ErrExternalService
	if _, err := svc.FetchAndAnalyze(context.Background(), "Niramax", risk.DefaultOptions()); !errors.Is(err, models.ErrExternalService) {
		t.Errorf("err = %v", err)
	}
}

func TestSimilarTopics(t *testing.T) {
	index := &fakeIndex{}
	svc := NewService(Config{}, Dependencies{Engine: &fakeEngine{}, Topics: index, Embedder: unitEmbedder{}})

	hits, err := svc.SimilarTopics(context.Background(), "tax fraud", "Niramax", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || index.company != "Niramax" || len(index.query) != 2 {
		t.Errorf("hits = %+v, index = %+v", hits, index)
	}
}
