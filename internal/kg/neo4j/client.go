package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/newsrisk/backend/pkg/circuitbreaker"
	"github.com/newsrisk/backend/pkg/logger"
	"github.com/newsrisk/backend/pkg/retry"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.Breaker
	retryConfig retry.Config
}

// Relation is one aggregated subject-relation-object edge of a report.
type Relation struct {
	Subject  string
	Relation string
	Object   string
	Count    int
}

// Edge is a stored relation together with the report it came from.
type Edge struct {
	ReportID string `json:"report_id"`
	Subject  string `json:"subject"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
	Count    int64  `json:"count"`
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}

	cb := circuitbreaker.New("neo4j", circuitbreaker.Config{
		FailureThreshold: 5,
		Cooldown:         20 * time.Second,
		TrialCalls:       3,
		SuccessThreshold: 2,
		ResetInterval:    time.Minute,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// MergeRelations writes the edges of one report. Entities are shared across
// reports by name; edges are keyed by relation type and report id.
func (c *Client) MergeRelations(ctx context.Context, reportID, company string, relations []Relation) error {
	if len(relations) == 0 {
		return nil
	}

	rows := make([]map[string]interface{}, len(relations))
	for i, r := range relations {
		rows[i] = map[string]interface{}{
			"subject":  r.Subject,
			"relation": r.Relation,
			"object":   r.Object,
			"count":    r.Count,
		}
	}

	query := `
		UNWIND $rows AS row
		MERGE (s:Entity {name: row.subject})
		MERGE (o:Entity {name: row.object})
		MERGE (s)-[r:RELATES {type: row.relation, report_id: $report_id}]->(o)
		ON CREATE SET r.created_at = timestamp()
		SET r.count = row.count,
		    r.company = $company
	`

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, query, map[string]interface{}{
			"rows":      rows,
			"report_id": reportID,
			"company":   company,
		})
		if err != nil {
			return fmt.Errorf("failed to merge relations: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Relations merged into KG",
		zap.String("report_id", reportID),
		zap.Int("relations", len(relations)),
	)

	return nil
}

// ReportEdges returns the graph of one report.
func (c *Client) ReportEdges(ctx context.Context, reportID string) ([]Edge, error) {
	query := `
		MATCH (s:Entity)-[r:RELATES {report_id: $report_id}]->(o:Entity)
		RETURN r.report_id AS report_id, s.name AS subject, r.type AS relation,
		       o.name AS object, r.count AS count
		ORDER BY r.count DESC, s.name, o.name
	`
	return c.queryEdges(ctx, query, map[string]interface{}{"report_id": reportID})
}

// SearchByEntity returns edges touching the named entity across all reports.
func (c *Client) SearchByEntity(ctx context.Context, name string, limit int) ([]Edge, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		MATCH (s:Entity)-[r:RELATES]->(o:Entity)
		WHERE s.name = $name OR o.name = $name
		RETURN r.report_id AS report_id, s.name AS subject, r.type AS relation,
		       o.name AS object, r.count AS count
		ORDER BY r.count DESC
		LIMIT $limit
	`
	return c.queryEdges(ctx, query, map[string]interface{}{"name": name, "limit": limit})
}

func (c *Client) queryEdges(ctx context.Context, query string, params map[string]interface{}) ([]Edge, error) {
	var edges []Edge

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		edges = edges[:0]

		result, err := session.Run(ctx, query, params)
		if err != nil {
			return fmt.Errorf("failed to query relations: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()

			reportID, _ := record.Get("report_id")
			subject, _ := record.Get("subject")
			relation, _ := record.Get("relation")
			object, _ := record.Get("object")
			count, _ := record.Get("count")

			edge := Edge{}
			edge.ReportID, _ = reportID.(string)
			edge.Subject, _ = subject.(string)
			edge.Relation, _ = relation.(string)
			edge.Object, _ = object.(string)
			edge.Count, _ = count.(int64)

			edges = append(edges, edge)
		}

		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return edges, nil
}
