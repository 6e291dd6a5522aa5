// Package api mounts the HTTP and WebSocket routes.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/newsrisk/backend/internal/api/handlers"
	"github.com/newsrisk/backend/internal/metrics"
)

type Routes struct {
	Reports   *handlers.ReportHandler
	Graph     *handlers.GraphHandler
	WebSocket *handlers.WebSocketHandler
	Health    *handlers.HealthHandler
	// Validate guards every route that takes a body, a company or toggles.
	Validate fiber.Handler
	// Limit guards the routes that run the pipeline.
	Limit fiber.Handler
}

func Register(app *fiber.App, r Routes) {
	validate := orNext(r.Validate)
	limit := orNext(r.Limit)

	api := app.Group("/api/v1")

	api.Post("/reports", validate, limit, r.Reports.CreateReport)
	api.Get("/reports", validate, r.Reports.ListReports)
	api.Get("/reports/:id", r.Reports.GetReport)
	api.Delete("/reports/:id", r.Reports.DeleteReport)
	api.Get("/reports/:id/timeline", r.Reports.GetTimeline)
	api.Get("/reports/:id/graph", r.Graph.ReportGraph)

	api.Post("/companies/:name/reports", validate, limit, r.Reports.FetchCompanyReport)

	api.Get("/topics/similar", validate, r.Reports.SimilarTopics)
	api.Get("/entities/:name/relations", validate, r.Graph.EntityRelations)

	api.Get("/health", r.Health.Health)
	api.Get("/ready", r.Health.Ready)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/reports", limit, websocket.New(r.WebSocket.HandleConnection))
}

func orNext(h fiber.Handler) fiber.Handler {
	if h != nil {
		return h
	}
	return func(c *fiber.Ctx) error { return c.Next() }
}
