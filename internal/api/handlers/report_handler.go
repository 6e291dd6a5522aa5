package handlers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/internal/report"
	"github.com/newsrisk/backend/internal/risk"
	"github.com/newsrisk/backend/internal/vector/zilliz"
	"github.com/newsrisk/backend/pkg/logger"
)

// ReportService is the part of report.Service the API needs.
type ReportService interface {
	Analyze(ctx context.Context, req report.Request) (*report.Analysis, error)
	FetchAndAnalyze(ctx context.Context, company string, opts risk.Options) (*report.Analysis, error)
	Get(ctx context.Context, id string) (*report.Analysis, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, company string, limit int) ([]report.Summary, error)
	Timeline(ctx context.Context, id string) ([]models.TimelinePoint, error)
	SimilarTopics(ctx context.Context, query, company string, topK int) ([]zilliz.SimilarTopic, error)
}

type ReportHandler struct {
	service ReportService
}

func NewReportHandler(service ReportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// CreateReport analyzes the posted SearchResults document. Stage toggles
// come from the query string, e.g. ?topic_model=false&use_gpt=false.
func (h *ReportHandler) CreateReport(c *fiber.Ctx) error {
	opts, err := optionsFromQuery(c)
	if err != nil {
		return respondError(c, err)
	}

	// the request buffer is reused once the handler returns
	data := append([]byte(nil), c.Body()...)

	analysis, err := h.service.Analyze(c.UserContext(), report.Request{
		Company: c.Query("company"),
		Data:    data,
		Options: opts,
	})
	if err != nil {
		return respondError(c, err)
	}

	logger.Info("Report served",
		zap.String("report_id", analysis.ID),
		zap.Bool("cached", analysis.Cached),
	)

	return c.Status(fiber.StatusCreated).JSON(analysis)
}

// FetchCompanyReport searches recent news for the company and analyzes it.
func (h *ReportHandler) FetchCompanyReport(c *fiber.Ctx) error {
	opts, err := optionsFromQuery(c)
	if err != nil {
		return respondError(c, err)
	}

	analysis, err := h.service.FetchAndAnalyze(c.UserContext(), c.Params("name"), opts)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(analysis)
}

func (h *ReportHandler) GetReport(c *fiber.Ctx) error {
	analysis, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(analysis)
}

func (h *ReportHandler) DeleteReport(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ReportHandler) ListReports(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 200 {
		limit = 20
	}

	reports, err := h.service.List(c.UserContext(), c.Query("company"), limit)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"reports": reports,
		"count":   len(reports),
	})
}

func (h *ReportHandler) GetTimeline(c *fiber.Ctx) error {
	points, err := h.service.Timeline(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"report_id": c.Params("id"),
		"points":    points,
	})
}

func (h *ReportHandler) SimilarTopics(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query parameter q is required",
		})
	}

	limit := c.QueryInt("limit", 10)
	if limit < 1 || limit > 100 {
		limit = 10
	}

	topics, err := h.service.SimilarTopics(c.UserContext(), query, c.Query("company"), limit)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"query":  query,
		"topics": topics,
	})
}

// optionsFromQuery reads stage toggles from the query string. Parameters
// that are not toggles are ignored.
func optionsFromQuery(c *fiber.Ctx) (risk.Options, error) {
	flags := map[string]bool{}
	var parseErr error

	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		name := string(key)
		if parseErr != nil || !risk.IsOption(name) {
			return
		}
		v, err := strconv.ParseBool(string(value))
		if err != nil {
			parseErr = fmt.Errorf("%w: option %s: %v", models.ErrSchema, name, err)
			return
		}
		flags[name] = v
	})
	if parseErr != nil {
		return risk.Options{}, parseErr
	}

	return risk.ParseOptions(flags)
}
