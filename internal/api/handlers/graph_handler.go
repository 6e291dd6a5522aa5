package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/newsrisk/backend/internal/kg/neo4j"
)

// GraphReader reads stored relation edges. *neo4j.Client implements it.
type GraphReader interface {
	ReportEdges(ctx context.Context, reportID string) ([]neo4j.Edge, error)
	SearchByEntity(ctx context.Context, name string, limit int) ([]neo4j.Edge, error)
}

type GraphHandler struct {
	graph GraphReader
}

// NewGraphHandler accepts a nil reader; every request then answers 503.
func NewGraphHandler(graph GraphReader) *GraphHandler {
	return &GraphHandler{graph: graph}
}

func (h *GraphHandler) ReportGraph(c *fiber.Ctx) error {
	if h.graph == nil {
		return unavailable(c, "Relation graph is not configured")
	}

	edges, err := h.graph.ReportEdges(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if edges == nil {
		edges = []neo4j.Edge{}
	}

	return c.JSON(fiber.Map{
		"report_id": c.Params("id"),
		"edges":     edges,
	})
}

func (h *GraphHandler) EntityRelations(c *fiber.Ctx) error {
	if h.graph == nil {
		return unavailable(c, "Relation graph is not configured")
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	edges, err := h.graph.SearchByEntity(c.UserContext(), c.Params("name"), limit)
	if err != nil {
		return respondError(c, err)
	}
	if edges == nil {
		edges = []neo4j.Edge{}
	}

	return c.JSON(fiber.Map{
		"entity": c.Params("name"),
		"edges":  edges,
	})
}

func unavailable(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": msg})
}
