package zilliz

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/newsrisk/backend/pkg/logger"
)

// Client indexes topic centroids so topics can be matched across reports.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// TopicVector is one topic of one stored report.
type TopicVector struct {
	ReportID  string
	Company   string
	TopicID   int
	Theme     string
	Keywords  string
	Embedding []float32
	CreatedAt time.Time
}

// SimilarTopic is a search hit. Score is the inner product of unit vectors,
// so it is the cosine similarity.
type SimilarTopic struct {
	ReportID string  `json:"report_id"`
	Company  string  `json:"company"`
	TopicID  int     `json:"topic_id"`
	Theme    string  `json:"theme"`
	Keywords string  `json:"keywords"`
	Score    float32 `json:"score"`
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(context.Background(), client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

// Ping fails when the server is unreachable or the collection is gone.
func (z *Client) Ping(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return err
	}
	if !has {
		return fmt.Errorf("collection %s does not exist", z.collectionName)
	}
	return nil
}

func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.client.LoadCollection(ctx, z.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "News topic centroids",
		Fields: []*entity.Field{
			varChar("topic_key", 96).WithIsPrimaryKey(true),
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", z.vectorDim),
				},
			},
			varChar("report_id", 64),
			varChar("company", 256),
			{Name: "topic_id", DataType: entity.FieldTypeInt64},
			varChar("theme", 1024),
			varChar("keywords", 1024),
			{Name: "created_at", DataType: entity.FieldTypeInt64},
		},
	}

	err = z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 128)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	err = z.client.CreateIndex(ctx, z.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = z.client.LoadCollection(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))

	return nil
}

// InsertTopics stores unit-normalized centroids. Vectors of the wrong
// dimension are skipped.
func (z *Client) InsertTopics(ctx context.Context, topics []TopicVector) error {
	var (
		keys       []string
		embeddings [][]float32
		reportIDs  []string
		companies  []string
		topicIDs   []int64
		themes     []string
		keywords   []string
		created    []int64
	)

	for _, t := range topics {
		if len(t.Embedding) != z.vectorDim {
			logger.Warn("Skipping topic vector with wrong dimension",
				zap.String("report_id", t.ReportID),
				zap.Int("topic_id", t.TopicID),
				zap.Int("dim", len(t.Embedding)),
			)
			continue
		}
		keys = append(keys, TopicKey(t.ReportID, t.TopicID))
		embeddings = append(embeddings, Normalize(t.Embedding))
		reportIDs = append(reportIDs, t.ReportID)
		companies = append(companies, truncate(t.Company, 256))
		topicIDs = append(topicIDs, int64(t.TopicID))
		themes = append(themes, truncate(t.Theme, 1024))
		keywords = append(keywords, truncate(t.Keywords, 1024))
		created = append(created, t.CreatedAt.Unix())
	}

	if len(keys) == 0 {
		return nil
	}

	_, err := z.client.Insert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar("topic_key", keys),
		entity.NewColumnFloatVector("embedding", z.vectorDim, embeddings),
		entity.NewColumnVarChar("report_id", reportIDs),
		entity.NewColumnVarChar("company", companies),
		entity.NewColumnInt64("topic_id", topicIDs),
		entity.NewColumnVarChar("theme", themes),
		entity.NewColumnVarChar("keywords", keywords),
		entity.NewColumnInt64("created_at", created),
	)
	if err != nil {
		return fmt.Errorf("failed to insert topics: %w", err)
	}

	err = z.client.Flush(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Topic centroids indexed", zap.Int("count", len(keys)))

	return nil
}

// SearchSimilar returns the topK stored topics closest to embedding,
// optionally restricted to one company.
func (z *Client) SearchSimilar(ctx context.Context, embedding []float32, topK int, company string) ([]SimilarTopic, error) {
	if len(embedding) != z.vectorDim {
		return nil, fmt.Errorf("query vector has dimension %d, want %d", len(embedding), z.vectorDim)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		FilterExpr(company),
		[]string{"report_id", "company", "topic_id", "theme", "keywords"},
		[]entity.Vector{entity.FloatVector(Normalize(embedding))},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SimilarTopic, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			reportID, _ := sr.Fields.GetColumn("report_id").GetAsString(i)
			comp, _ := sr.Fields.GetColumn("company").GetAsString(i)
			topicID, _ := sr.Fields.GetColumn("topic_id").GetAsInt64(i)
			theme, _ := sr.Fields.GetColumn("theme").GetAsString(i)
			keywords, _ := sr.Fields.GetColumn("keywords").GetAsString(i)

			results = append(results, SimilarTopic{
				ReportID: reportID,
				Company:  comp,
				TopicID:  int(topicID),
				Theme:    theme,
				Keywords: keywords,
				Score:    sr.Scores[i],
			})
		}
	}

	logger.Info("Topic search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("company", company),
	)

	return results, nil
}

// TopicKey is the primary key of a report's topic.
func TopicKey(reportID string, topicID int) string {
	return fmt.Sprintf("%s:%d", reportID, topicID)
}

// FilterExpr builds the boolean expression restricting a search to company.
func FilterExpr(company string) string {
	if company == "" {
		return ""
	}
	clean := strings.NewReplacer(`\`, "", `"`, "").Replace(company)
	return fmt.Sprintf(`company == "%s"`, clean)
}

// Normalize scales v to unit length. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	f := make([]float64, len(v))
	for i, x := range v {
		f[i] = float64(x)
	}
	norm := floats.Norm(f, 2)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range f {
		out[i] = float32(x / norm)
	}
	return out
}

func varChar(name string, maxLength int) *entity.Field {
	return &entity.Field{
		Name:     name,
		DataType: entity.FieldTypeVarChar,
		TypeParams: map[string]string{
			"max_length": fmt.Sprintf("%d", maxLength),
		},
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// back off to a rune boundary
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
