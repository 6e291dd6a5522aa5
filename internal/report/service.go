// Package report runs the risk engine on behalf of callers and keeps the
// history: cached results, stored reports, the relation graph and the
// topic index.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/metrics"
	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/internal/risk"
	"github.com/newsrisk/backend/internal/search/web"
	smodels "github.com/newsrisk/backend/internal/storage/models"
	"github.com/newsrisk/backend/internal/storage/sqlite"
	"github.com/newsrisk/backend/internal/topic"
	"github.com/newsrisk/backend/internal/vector/zilliz"
	"github.com/newsrisk/backend/pkg/logger"
	"github.com/newsrisk/backend/pkg/utils"
)

var ErrNotFound = errors.New("report not found")

type Engine interface {
	Run(ctx context.Context, data []byte, opts risk.Options) (*risk.Result, error)
}

type Store interface {
	InsertReport(ctx context.Context, report *smodels.ReportRow, records []smodels.RecordRow) error
	GetReport(ctx context.Context, id string) (*smodels.ReportRow, error)
	FindByHash(ctx context.Context, inputHash, company, options string) (*smodels.ReportRow, error)
	ListReports(ctx context.Context, company string, limit int) ([]smodels.ReportRow, error)
	GetRecords(ctx context.Context, reportID string) ([]smodels.RecordRow, error)
	DeleteReport(ctx context.Context, id string) error
}

type Cache interface {
	GetReport(ctx context.Context, key string, report interface{}) (bool, error)
	SetReport(ctx context.Context, key string, report interface{}, ttl time.Duration) error
	InvalidateReports(ctx context.Context) error
}

type GraphBuilder interface {
	BuildFromReport(ctx context.Context, reportID, company string, triplets models.Triplets) error
}

type TopicIndex interface {
	InsertTopics(ctx context.Context, topics []zilliz.TopicVector) error
	SearchSimilar(ctx context.Context, embedding []float32, topK int, company string) ([]zilliz.SimilarTopic, error)
}

type NewsFetcher interface {
	FetchNews(ctx context.Context, company string, maxResults int) ([]web.NewsItem, error)
}

type Config struct {
	ReportTTL  time.Duration
	MaxResults int
}

// Dependencies wires the service. Only Engine is required; every other
// field may be nil and the matching feature is skipped or reported as
// unavailable.
type Dependencies struct {
	Engine   Engine
	Store    Store
	Cache    Cache
	Graph    GraphBuilder
	Topics   TopicIndex
	Embedder topic.Embedder
	News     NewsFetcher
}

type Service struct {
	cfg  Config
	deps Dependencies
	now  func() time.Time
}

func NewService(cfg Config, deps Dependencies) *Service {
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = 24 * time.Hour
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 50
	}
	return &Service{cfg: cfg, deps: deps, now: time.Now}
}

// Analysis is a report with its identity.
type Analysis struct {
	ID        string         `json:"id"`
	Company   string         `json:"company,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Cached    bool           `json:"cached"`
	Report    *models.Report `json:"report"`
}

// Summary is a list entry of the report history.
type Summary struct {
	ID        string    `json:"id"`
	Company   string    `json:"company,omitempty"`
	Options   string    `json:"options"`
	Records   int       `json:"records"`
	Topics    int       `json:"topics"`
	CreatedAt time.Time `json:"created_at"`
}

type Request struct {
	Company string
	Data    []byte
	Options risk.Options
}

// Analyze returns the report for the request, from cache or history when the
// same input was analyzed for the same company with the same options before. Storage, graph and
// index failures are logged; only engine errors are returned.
func (s *Service) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	inputHash := utils.HashString(string(req.Data))
	optionsKey := req.Options.CacheKey()
	cacheKey := utils.HashParts(inputHash, req.Company, optionsKey)

	if cached := s.lookup(ctx, cacheKey, inputHash, req.Company, optionsKey); cached != nil {
		metrics.ReportsTotal.WithLabelValues("cached").Inc()
		return cached, nil
	}

	res, err := s.deps.Engine.Run(ctx, req.Data, req.Options)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ReportsTotal.WithLabelValues("success").Inc()

	analysis := &Analysis{
		ID:        uuid.NewString(),
		Company:   req.Company,
		CreatedAt: s.now().UTC(),
		Report:    res.Report,
	}

	s.persist(ctx, analysis, res, inputHash, optionsKey)

	if s.deps.Cache != nil {
		if err := s.deps.Cache.SetReport(ctx, cacheKey, analysis, s.cfg.ReportTTL); err != nil {
			logger.Warn("Failed to cache report", zap.String("report_id", analysis.ID), zap.Error(err))
		}
	}

	logger.Info("Report created",
		zap.String("report_id", analysis.ID),
		zap.String("company", analysis.Company),
		zap.Int("topics", len(res.Report.Topics)),
	)

	return analysis, nil
}

// FetchAndAnalyze pulls recent news for company and analyzes it.
func (s *Service) FetchAndAnalyze(ctx context.Context, company string, opts risk.Options) (*Analysis, error) {
	if s.deps.News == nil {
		return nil, fmt.Errorf("%w: news search is not configured", models.ErrConfiguration)
	}

	items, err := s.deps.News.FetchNews(ctx, company, s.cfg.MaxResults)
	if err != nil {
		return nil, err
	}

	data, err := web.Document(items)
	if err != nil {
		return nil, err
	}

	return s.Analyze(ctx, Request{Company: company, Data: data, Options: opts})
}

func (s *Service) Get(ctx context.Context, id string) (*Analysis, error) {
	if s.deps.Store == nil {
		return nil, fmt.Errorf("%w: report history is not configured", models.ErrConfiguration)
	}

	row, err := s.deps.Store.GetReport(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, id)
	}
	return fromRow(row)
}

func (s *Service) List(ctx context.Context, company string, limit int) ([]Summary, error) {
	if s.deps.Store == nil {
		return nil, fmt.Errorf("%w: report history is not configured", models.ErrConfiguration)
	}

	rows, err := s.deps.Store.ListReports(ctx, company, limit)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, len(rows))
	for i, r := range rows {
		summaries[i] = Summary{
			ID:        r.ID,
			Company:   r.Company,
			Options:   r.Options,
			Records:   r.Records,
			Topics:    r.Topics,
			CreatedAt: r.CreatedAt.UTC(),
		}
	}
	return summaries, nil
}

// Delete removes a stored report and its records. Cache keys do not carry
// the report id, so every cached report is dropped with it. Graph edges and
// indexed topics are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s.deps.Store == nil {
		return fmt.Errorf("%w: report history is not configured", models.ErrConfiguration)
	}

	if err := s.deps.Store.DeleteReport(ctx, id); err != nil {
		return mapNotFound(err, id)
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.InvalidateReports(ctx); err != nil {
			logger.Warn("Failed to invalidate report cache", zap.String("report_id", id), zap.Error(err))
		}
	}
	return nil
}

// Timeline returns the (date, burst label) points of a stored report.
func (s *Service) Timeline(ctx context.Context, id string) ([]models.TimelinePoint, error) {
	if s.deps.Store == nil {
		return nil, fmt.Errorf("%w: report history is not configured", models.ErrConfiguration)
	}

	if _, err := s.deps.Store.GetReport(ctx, id); err != nil {
		return nil, mapNotFound(err, id)
	}

	rows, err := s.deps.Store.GetRecords(ctx, id)
	if err != nil {
		return nil, err
	}

	points := make([]models.TimelinePoint, 0, len(rows))
	for _, r := range rows {
		if r.Date == "" || r.TemporalLabel == models.LabelNoDate {
			continue
		}
		var d models.Date
		if err := d.UnmarshalJSON([]byte(strconv.Quote(r.Date))); err != nil {
			return nil, fmt.Errorf("report %s record %d: %w", id, r.Index, err)
		}
		points = append(points, models.TimelinePoint{Date: d, Label: r.TemporalLabel})
	}
	return points, nil
}

// SimilarTopics finds stored topics close to query.
func (s *Service) SimilarTopics(ctx context.Context, query, company string, topK int) ([]zilliz.SimilarTopic, error) {
	if s.deps.Topics == nil || s.deps.Embedder == nil {
		return nil, fmt.Errorf("%w: topic index is not configured", models.ErrConfiguration)
	}
	if topK <= 0 {
		topK = 10
	}

	embeddings, err := s.deps.Embedder.GenerateBatchEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", models.ErrExternalService, err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("%w: embed query: got %d vectors", models.ErrExternalService, len(embeddings))
	}

	return s.deps.Topics.SearchSimilar(ctx, embeddings[0], topK, company)
}

func (s *Service) lookup(ctx context.Context, cacheKey, inputHash, company, optionsKey string) *Analysis {
	if s.deps.Cache != nil {
		var cached Analysis
		hit, err := s.deps.Cache.GetReport(ctx, cacheKey, &cached)
		if err != nil {
			logger.Warn("Report cache lookup failed", zap.Error(err))
		}
		if hit {
			cached.Cached = true
			return &cached
		}
	}

	if s.deps.Store != nil {
		row, err := s.deps.Store.FindByHash(ctx, inputHash, company, optionsKey)
		if err != nil {
			if !errors.Is(err, sqlite.ErrNotFound) {
				logger.Warn("Report history lookup failed", zap.Error(err))
			}
			return nil
		}
		analysis, err := fromRow(row)
		if err != nil {
			logger.Warn("Stored report unreadable", zap.String("report_id", row.ID), zap.Error(err))
			return nil
		}
		analysis.Cached = true
		return analysis
	}

	return nil
}

func (s *Service) persist(ctx context.Context, analysis *Analysis, res *risk.Result, inputHash, optionsKey string) {
	if s.deps.Store != nil {
		if err := s.store(ctx, analysis, res, inputHash, optionsKey); err != nil {
			logger.Error("Failed to store report", zap.String("report_id", analysis.ID), zap.Error(err))
		}
	}

	if s.deps.Graph != nil && res.Report.NERGraph != nil {
		err := s.deps.Graph.BuildFromReport(ctx, analysis.ID, analysis.Company, *res.Report.NERGraph)
		if err != nil {
			logger.Error("Failed to build relation graph", zap.String("report_id", analysis.ID), zap.Error(err))
		}
	}

	if s.deps.Topics != nil && s.deps.Embedder != nil && len(res.Report.Topics) > 0 {
		if err := s.indexTopics(ctx, analysis); err != nil {
			logger.Error("Failed to index topics", zap.String("report_id", analysis.ID), zap.Error(err))
		}
	}
}

func (s *Service) store(ctx context.Context, analysis *Analysis, res *risk.Result, inputHash, optionsKey string) error {
	data, err := json.Marshal(analysis.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	rows := make([]smodels.RecordRow, len(res.Records))
	for i, r := range res.Records {
		date := ""
		if d, err := r.ParsedDate(); err == nil && d != nil {
			date = d.String()
		}
		rows[i] = smodels.RecordRow{
			Index:         i,
			Title:         r.Title,
			Snippet:       r.Snippet,
			Date:          date,
			TemporalLabel: r.TemporalLabel,
			Topic:         r.Topic,
		}
	}

	return s.deps.Store.InsertReport(ctx, &smodels.ReportRow{
		ID:         analysis.ID,
		Company:    analysis.Company,
		Options:    optionsKey,
		InputHash:  inputHash,
		ReportJSON: string(data),
		Records:    len(rows),
		Topics:     len(analysis.Report.Topics),
		CreatedAt:  analysis.CreatedAt,
	}, rows)
}

func (s *Service) indexTopics(ctx context.Context, analysis *Analysis) error {
	vectors := make([]zilliz.TopicVector, 0, len(analysis.Report.Topics))
	for _, t := range analysis.Report.Topics {
		if len(t.TopTitles) == 0 {
			continue
		}
		centroid, err := topic.Centroid(ctx, s.deps.Embedder, t.TopTitles)
		if err != nil {
			return fmt.Errorf("topic %d centroid: %w", t.TopicID, err)
		}

		embedding := make([]float32, len(centroid))
		for i, v := range centroid {
			embedding[i] = float32(v)
		}

		vectors = append(vectors, zilliz.TopicVector{
			ReportID:  analysis.ID,
			Company:   analysis.Company,
			TopicID:   t.TopicID,
			Theme:     t.Theme,
			Keywords:  t.ExtractedKeywords,
			Embedding: embedding,
			CreatedAt: analysis.CreatedAt,
		})
	}

	return s.deps.Topics.InsertTopics(ctx, vectors)
}

func fromRow(row *smodels.ReportRow) (*Analysis, error) {
	var rep models.Report
	if err := json.Unmarshal([]byte(row.ReportJSON), &rep); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", row.ID, err)
	}
	return &Analysis{
		ID:        row.ID,
		Company:   row.Company,
		CreatedAt: row.CreatedAt.UTC(),
		Report:    &rep,
	}, nil
}

func mapNotFound(err error, id string) error {
	if errors.Is(err, sqlite.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
