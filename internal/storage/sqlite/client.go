package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/storage/models"
	"github.com/newsrisk/backend/pkg/logger"
)

// ErrNotFound is returned when a report id is unknown.
var ErrNotFound = errors.New("report not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// every connection to :memory: is a separate database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		company TEXT,
		options TEXT NOT NULL,
		input_hash TEXT NOT NULL,
		report_json TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		topic_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_company ON reports(company);
	CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at);
	CREATE INDEX IF NOT EXISTS idx_reports_hash ON reports(input_hash);

	CREATE TABLE IF NOT EXISTS report_records (
		report_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		title TEXT NOT NULL,
		snippet TEXT,
		date TEXT,
		temporal_label INTEGER NOT NULL,
		topic INTEGER NOT NULL,
		PRIMARY KEY (report_id, idx),
		FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_records_topic ON report_records(report_id, topic);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertReport stores a report and its records in one transaction.
func (c *Client) InsertReport(ctx context.Context, report *models.ReportRow, records []models.RecordRow) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sq.Insert("reports").
		Columns("id", "company", "options", "input_hash", "report_json", "record_count", "topic_count", "created_at").
		Values(
			report.ID,
			report.Company,
			report.Options,
			report.InputHash,
			report.ReportJSON,
			report.Records,
			report.Topics,
			report.CreatedAt.Unix(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build report insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	if len(records) > 0 {
		insert := sq.Insert("report_records").
			Columns("report_id", "idx", "title", "snippet", "date", "temporal_label", "topic")
		for _, r := range records {
			insert = insert.Values(report.ID, r.Index, r.Title, r.Snippet, r.Date, r.TemporalLabel, r.Topic)
		}

		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build record insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert records: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}

	logger.Debug("Report inserted",
		zap.String("report_id", report.ID),
		zap.String("company", report.Company),
		zap.Int("records", len(records)),
	)
	return nil
}

var reportColumns = []string{"id", "company", "options", "input_hash", "report_json", "record_count", "topic_count", "created_at"}

func (c *Client) GetReport(ctx context.Context, id string) (*models.ReportRow, error) {
	query, args, err := sq.Select(reportColumns...).
		From("reports").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build report query: %w", err)
	}

	report, err := scanReport(c.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// FindByHash returns the newest report for the same input, company and
// options.
func (c *Client) FindByHash(ctx context.Context, inputHash, company, options string) (*models.ReportRow, error) {
	query, args, err := sq.Select(reportColumns...).
		From("reports").
		Where(sq.Eq{"input_hash": inputHash, "company": company, "options": options}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build report query: %w", err)
	}

	report, err := scanReport(c.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find report: %w", err)
	}
	return report, nil
}

// ListReports returns report headers newest first. An empty company lists
// every report.
func (c *Client) ListReports(ctx context.Context, company string, limit int) ([]models.ReportRow, error) {
	if limit <= 0 {
		limit = 20
	}

	builder := sq.Select("id", "company", "options", "input_hash", "record_count", "topic_count", "created_at").
		From("reports").
		OrderBy("created_at DESC", "id").
		Limit(uint64(limit))
	if company != "" {
		builder = builder.Where(sq.Eq{"company": company})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := []models.ReportRow{}
	for rows.Next() {
		var r models.ReportRow
		var createdAt int64

		err := rows.Scan(&r.ID, &r.Company, &r.Options, &r.InputHash, &r.Records, &r.Topics, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.CreatedAt = time.Unix(createdAt, 0)
		reports = append(reports, r)
	}

	return reports, rows.Err()
}

// GetRecords returns a report's records in input order.
func (c *Client) GetRecords(ctx context.Context, reportID string) ([]models.RecordRow, error) {
	query, args, err := sq.Select("report_id", "idx", "title", "snippet", "date", "temporal_label", "topic").
		From("report_records").
		Where(sq.Eq{"report_id": reportID}).
		OrderBy("idx").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build records query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	defer rows.Close()

	records := []models.RecordRow{}
	for rows.Next() {
		var r models.RecordRow
		var snippet, date sql.NullString

		err := rows.Scan(&r.ReportID, &r.Index, &r.Title, &snippet, &date, &r.TemporalLabel, &r.Topic)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Snippet = snippet.String
		r.Date = date.String
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) DeleteReport(ctx context.Context, id string) error {
	query, args, err := sq.Delete("reports").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	logger.Info("Report deleted", zap.String("report_id", id))
	return nil
}

func scanReport(row *sql.Row) (*models.ReportRow, error) {
	var r models.ReportRow
	var company sql.NullString
	var createdAt int64

	err := row.Scan(&r.ID, &company, &r.Options, &r.InputHash, &r.ReportJSON, &r.Records, &r.Topics, &createdAt)
	if err != nil {
		return nil, err
	}

	r.Company = company.String
	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}
