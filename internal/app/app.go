// Package app builds the risk engine and its backing services from
// configuration.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/api"
	"github.com/newsrisk/backend/internal/api/handlers"
	"github.com/newsrisk/backend/internal/cache/redis"
	"github.com/newsrisk/backend/internal/kg/builder"
	"github.com/newsrisk/backend/internal/kg/neo4j"
	"github.com/newsrisk/backend/internal/kg/ner"
	"github.com/newsrisk/backend/internal/llm"
	"github.com/newsrisk/backend/internal/metrics"
	"github.com/newsrisk/backend/internal/middleware/ratelimit"
	"github.com/newsrisk/backend/internal/middleware/validation"
	"github.com/newsrisk/backend/internal/report"
	"github.com/newsrisk/backend/internal/risk"
	"github.com/newsrisk/backend/internal/search/web"
	"github.com/newsrisk/backend/internal/storage/sqlite"
	"github.com/newsrisk/backend/internal/summarizer"
	"github.com/newsrisk/backend/internal/temporal"
	"github.com/newsrisk/backend/internal/topic"
	"github.com/newsrisk/backend/internal/vector/zilliz"
	"github.com/newsrisk/backend/pkg/config"
	"github.com/newsrisk/backend/pkg/logger"
)

// Application owns every long-lived client. Close releases them in reverse
// order of creation.
type Application struct {
	cfg     *config.Config
	service *report.Service
	engine  *risk.Engine

	sqlite *sqlite.Client
	redis  *redis.Client
	neo4j  *neo4j.Client
	zilliz *zilliz.Client

	limiter *ratelimit.RateLimiter
	closers []func() error
}

// New connects the enabled backing services. A service that is enabled but
// unreachable is an error; disabled ones are left out and the features
// that need them answer as unavailable.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	metrics.Init()

	a := &Application{cfg: cfg}
	if err := a.connect(ctx); err != nil {
		return nil, multierr.Append(err, a.Close())
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second,
	)

	var embedder topic.Embedder = llmClient
	if a.redis != nil {
		embedder = topic.NewCachedEmbedder(llmClient, a.redis, llmClient.EmbeddingModel(),
			time.Duration(cfg.Redis.EmbeddingTTL)*time.Second)
	}

	modeler := topic.NewEmbeddingModeler(embedder, topic.ModelerConfig{
		MaxDistance:        cfg.Pipeline.TopicMaxDistance,
		MinSamples:         cfg.Pipeline.TopicMinSamples,
		RepresentativeDocs: cfg.Pipeline.RepresentativeDocs,
		TopNWords:          cfg.Pipeline.TopNWords,
	})

	themes := summarizer.New(llmClient, loadPrompts(cfg.Pipeline.PromptsPath), summarizer.Config{
		MaxRetries:     cfg.LLM.MaxRetries,
		InitialBackoff: time.Duration(cfg.LLM.InitialBackoffSec * float64(time.Second)),
		SystemPrompt:   cfg.Pipeline.SystemPrompt,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
	})

	a.engine = risk.NewEngine(risk.Config{
		Temporal: temporal.Config{
			MaxIntervalDays: cfg.Pipeline.TemporalMaxIntervalDays,
			MinSamples:      cfg.Pipeline.TemporalMinSamples,
		},
		MaxSnippets: cfg.Pipeline.MaxSnippets,
		Workers:     cfg.Pipeline.Workers,
	}, modeler, topic.NewRanker(embedder), themes, ner.NewExtractor(cfg.Pipeline.EntityTypes))

	a.service = report.NewService(report.Config{
		ReportTTL:  time.Duration(cfg.Redis.ReportTTL) * time.Second,
		MaxResults: cfg.Search.MaxResults,
	}, a.dependencies(embedder))

	logger.Info("Application initialized",
		zap.Bool("sqlite", a.sqlite != nil),
		zap.Bool("redis", a.redis != nil),
		zap.Bool("neo4j", a.neo4j != nil),
		zap.Bool("zilliz", a.zilliz != nil),
		zap.Bool("llm_credential", llmClient.HasCredential()),
	)

	return a, nil
}

func (a *Application) connect(ctx context.Context) error {
	cfg := a.cfg

	if cfg.SQLite.Enabled {
		if dir := filepath.Dir(cfg.SQLite.Path); cfg.SQLite.Path != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		client, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		a.sqlite = client
		a.closers = append(a.closers, client.Close)

		if err := client.InitSchema(); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
	}

	if cfg.Neo4j.Enabled {
		client, err := neo4j.NewClient(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			return err
		}
		a.neo4j = client
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return client.Close(ctx)
		})
	}

	if cfg.Zilliz.Enabled {
		client, err := zilliz.NewClient(cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName, cfg.Zilliz.VectorDim)
		if err != nil {
			return err
		}
		a.zilliz = client
		a.closers = append(a.closers, client.Close)

		if err := client.CreateCollection(ctx); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	return nil
}

// dependencies only sets the interface fields whose clients exist, so the
// service sees nil rather than a typed nil pointer.
func (a *Application) dependencies(embedder topic.Embedder) report.Dependencies {
	deps := report.Dependencies{
		Engine:   a.engine,
		Embedder: embedder,
	}
	if a.sqlite != nil {
		deps.Store = a.sqlite
	}
	if a.redis != nil {
		deps.Cache = a.redis
	}
	if a.neo4j != nil {
		deps.Graph = builder.NewBuilder(a.neo4j)
	}
	if a.zilliz != nil {
		deps.Topics = a.zilliz
	}

	news := web.NewClient(a.cfg.Search.SerpAPIKey, a.cfg.Search.BaseURL,
		time.Duration(a.cfg.Search.TimeoutSec)*time.Second)
	if news.HasCredential() {
		deps.News = news
	}
	return deps
}

func loadPrompts(path string) summarizer.PromptStore {
	store, err := summarizer.LoadPromptStore(path)
	if err != nil {
		logger.Warn("Prompt store unavailable, generative summaries will fail",
			zap.String("path", path), zap.Error(err))
		return summarizer.StaticPrompts{}
	}
	return store
}

func (a *Application) Service() *report.Service {
	return a.service
}

// Routes builds the HTTP handlers. The rate limiter it creates is stopped by
// Close.
func (a *Application) Routes() api.Routes {
	if a.limiter == nil {
		a.limiter = ratelimit.New(ratelimit.Config{
			RequestsPerMinute: a.cfg.RateLimit.RequestsPerMinute,
			Burst:             a.cfg.RateLimit.Burst,
			Logger:            logger.GetLogger(),
		})
		a.closers = append(a.closers, func() error {
			a.limiter.Stop()
			return nil
		})
	}

	var graph handlers.GraphReader
	if a.neo4j != nil {
		graph = a.neo4j
	}

	return api.Routes{
		Reports:   handlers.NewReportHandler(a.service),
		Graph:     handlers.NewGraphHandler(graph),
		WebSocket: handlers.NewWebSocketHandler(a.service),
		Health:    handlers.NewHealthHandler(a.checks()),
		Validate: validation.Middleware(validation.Config{
			MaxDocumentSize: a.cfg.Server.BodyLimit,
			IsOption:        risk.IsOption,
			Logger:          logger.GetLogger(),
		}),
		Limit: a.limiter.Middleware(),
	}
}

func (a *Application) checks() map[string]handlers.Check {
	checks := make(map[string]handlers.Check)
	if a.sqlite != nil {
		checks["sqlite"] = a.sqlite.Ping
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}
	if a.neo4j != nil {
		checks["neo4j"] = a.neo4j.Ping
	}
	if a.zilliz != nil {
		checks["zilliz"] = a.zilliz.Ping
	}
	return checks
}

// Close releases every client and returns all the errors it met.
func (a *Application) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
