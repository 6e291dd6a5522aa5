// Package risk runs the risk pipeline: normalize records, detect bursts,
// cluster topics, extract relations and summarize each topic.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newsrisk/backend/internal/metrics"
	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/internal/records"
	"github.com/newsrisk/backend/internal/summarizer"
	"github.com/newsrisk/backend/internal/temporal"
	"github.com/newsrisk/backend/internal/topic"
	"github.com/newsrisk/backend/pkg/logger"
)

// Stage names reported through Options.Progress.
const (
	StageValidate  = "validate"
	StageNormalize = "normalize"
	StageTemporal  = "temporal"
	StageTopics    = "topics"
	StageRelations = "relations"
	StageSummaries = "summaries"
	StageDone      = "done"
)

type ThemeSummarizer interface {
	Ready() error
	Predict(ctx context.Context, titles []string, task string) (string, error)
	Classify(ctx context.Context, title, snippet string) (label int, ok bool, err error)
}

type RelationExtractor interface {
	ExtractVerbTriplets(ctx context.Context, texts []string) (models.Triplets, error)
}

type SnippetRanker interface {
	FindDuplicates(ctx context.Context, exemplars, candidates []string, maxReturn int) ([]models.RankedSnippet, error)
}

type Config struct {
	Temporal    temporal.Config
	MaxSnippets int
	Workers     int
}

// Engine holds the capabilities a run needs. Per-run model state lives in
// the Detector and Clusterer each Run creates, so one Engine serves
// concurrent runs.
type Engine struct {
	cfg        Config
	modeler    topic.Modeler
	ranker     SnippetRanker
	summarizer ThemeSummarizer
	extractor  RelationExtractor
}

func NewEngine(cfg Config, modeler topic.Modeler, ranker SnippetRanker, themes ThemeSummarizer, extractor RelationExtractor) *Engine {
	if cfg.MaxSnippets <= 0 {
		cfg.MaxSnippets = topic.DefaultMaxSnippets
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Engine{
		cfg:        cfg,
		modeler:    modeler,
		ranker:     ranker,
		summarizer: themes,
		extractor:  extractor,
	}
}

// Result is a report plus the annotated records and timeline it was built
// from.
type Result struct {
	Report   *models.Report
	Records  []models.Record
	Timeline []models.TimelinePoint
}

// ModelRisk runs the pipeline and returns only the report.
func (e *Engine) ModelRisk(ctx context.Context, data []byte, opts Options) (*models.Report, error) {
	res, err := e.Run(ctx, data, opts)
	if err != nil {
		return nil, err
	}
	return res.Report, nil
}

func (e *Engine) Run(ctx context.Context, data []byte, opts Options) (*Result, error) {
	start := time.Now()
	progress := serialize(opts.Progress)

	progress(StageValidate)
	if err := e.validate(opts); err != nil {
		return nil, err
	}

	progress(StageNormalize)
	recs, err := records.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	metrics.RecordsProcessed.Add(float64(len(recs)))

	var (
		labels    []int
		dates     []*models.Date
		bursts    models.Bursts
		docTopics []models.DocumentTopic
		triplets  models.Triplets
		timeline  []models.TimelinePoint
	)

	g, gctx := errgroup.WithContext(ctx)

	if opts.TemporalModel {
		g.Go(func() error {
			defer observe(StageTemporal, time.Now())
			progress(StageTemporal)

			var err error
			dates, err = temporal.ParseDates(recs)
			if err != nil {
				return err
			}
			detector := temporal.NewDetector(e.cfg.Temporal)
			labels = detector.Predict(dates)
			bursts = detector.Bursts()
			timeline = detector.Points(dates)
			return nil
		})
	}

	if opts.TopicModel {
		g.Go(func() error {
			defer observe(StageTopics, time.Now())
			progress(StageTopics)

			var err error
			docTopics, err = topic.NewClusterer(e.modeler).GetTopics(gctx, records.UniqueTitles(recs))
			if err != nil {
				return fmt.Errorf("topics: %w", err)
			}
			return nil
		})
	}

	if opts.RelationExtraction {
		g.Go(func() error {
			defer observe(StageRelations, time.Now())
			progress(StageRelations)

			texts := make([]string, len(recs))
			for i, r := range recs {
				texts[i] = r.FullText
			}
			var err error
			triplets, err = e.extractor.ExtractVerbTriplets(gctx, texts)
			if err != nil {
				return fmt.Errorf("relations: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &models.Report{Topics: []models.TopicSummary{}}

	if opts.TemporalModel {
		for i := range recs {
			recs[i].TemporalLabel = labels[i]
		}
		report.NewsBursts = &bursts
		metrics.BurstsDetected.Observe(float64(len(bursts)))
	}

	if opts.RelationExtraction {
		if triplets == nil {
			triplets = models.Triplets{}
		}
		report.NERGraph = &triplets
	}

	if opts.TopicModel {
		if err := topic.Join(recs, docTopics); err != nil {
			return nil, fmt.Errorf("topics: %w", err)
		}

		progress(StageSummaries)
		summaries, err := e.summarize(ctx, recs, topic.TopicsByID(docTopics), opts)
		if err != nil {
			return nil, err
		}
		report.Topics = summaries
		metrics.TopicsDetected.Observe(float64(len(summaries)))
	}

	progress(StageDone)

	logger.Info("Risk model completed",
		zap.Int("records", len(recs)),
		zap.Int("topics", len(report.Topics)),
		zap.Bool("temporal", opts.TemporalModel),
		zap.Bool("relations", opts.RelationExtraction),
		zap.Duration("duration", time.Since(start)),
	)

	return &Result{Report: report, Records: recs, Timeline: timeline}, nil
}

// validate fails fast on missing capabilities before any work is done.
func (e *Engine) validate(opts Options) error {
	if opts.TopicModel {
		if e.modeler == nil || e.ranker == nil {
			return fmt.Errorf("%w: topic modelling requested without an embedding backend", models.ErrConfiguration)
		}
		if opts.UseGenerativeSummary || opts.RiskClassification {
			if e.summarizer == nil {
				return fmt.Errorf("%w: generative summaries requested without a summarizer", models.ErrConfiguration)
			}
			if err := e.summarizer.Ready(); err != nil {
				return err
			}
		}
	}
	if opts.RelationExtraction && e.extractor == nil {
		return fmt.Errorf("%w: relation extraction requested without an extractor", models.ErrConfiguration)
	}
	return nil
}

// summarize builds one summary per non-noise topic. Topics run in parallel;
// the output stays in ascending topic id order.
func (e *Engine) summarize(ctx context.Context, recs []models.Record, topics map[int]models.Topic, opts Options) ([]models.TopicSummary, error) {
	defer observe(StageSummaries, time.Now())

	ids := make([]int, 0, len(topics))
	for id := range topics {
		if id != models.NoiseTopic {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	snippets := make(map[int][]string, len(ids))
	for _, r := range recs {
		snippets[r.Topic] = append(snippets[r.Topic], r.Snippet)
	}

	summaries := make([]models.TopicSummary, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			summary, err := e.summarizeTopic(gctx, topics[id], snippets[id], opts)
			if err != nil {
				return fmt.Errorf("topic %d: %w", id, err)
			}
			summaries[i] = summary
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (e *Engine) summarizeTopic(ctx context.Context, t models.Topic, snippets []string, opts Options) (models.TopicSummary, error) {
	titles := append([]string{}, t.RepresentativeDocs...)

	summary := models.TopicSummary{
		TopicID:           t.ID,
		Theme:             t.Representation,
		TopTitles:         titles,
		ExtractedKeywords: t.TopNWords,
	}

	if opts.UseGenerativeSummary {
		theme, err := e.summarizer.Predict(ctx, titles, summarizer.TaskSummary)
		switch {
		case err == nil && theme != summarizer.FailedSentinel:
			summary.Theme = theme
		case err == nil:
			metrics.ThemeFallbacks.WithLabelValues("sentinel").Inc()
		case errors.Is(err, models.ErrExternalService):
			metrics.ThemeFallbacks.WithLabelValues("error").Inc()
			logger.Warn("Theme generation failed, keeping extracted theme",
				zap.Int("topic", t.ID),
				zap.Error(err),
			)
		default:
			return summary, fmt.Errorf("theme: %w", err)
		}
	}

	ranked, err := e.ranker.FindDuplicates(ctx, titles, snippets, e.cfg.MaxSnippets)
	if err != nil {
		return summary, fmt.Errorf("rank snippets: %w", err)
	}
	if ranked == nil {
		ranked = []models.RankedSnippet{}
	}
	summary.TopSnippets = ranked

	if opts.RiskClassification && len(titles) > 0 {
		best := ""
		if len(ranked) > 0 {
			best = ranked[0].Snippet
		}
		label, ok, err := e.summarizer.Classify(ctx, titles[0], best)
		switch {
		case err == nil && ok:
			summary.RiskLabel = &label
		case err == nil:
		case errors.Is(err, models.ErrExternalService):
			logger.Warn("Risk classification failed", zap.Int("topic", t.ID), zap.Error(err))
		default:
			return summary, fmt.Errorf("risk label: %w", err)
		}
	}

	return summary, nil
}

func observe(stage string, start time.Time) {
	metrics.PipelineDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func serialize(fn func(string)) func(string) {
	if fn == nil {
		return func(string) {}
	}
	var mu sync.Mutex
	return func(stage string) {
		mu.Lock()
		defer mu.Unlock()
		fn(stage)
	}
}
