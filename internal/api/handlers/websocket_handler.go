package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/report"
	"github.com/newsrisk/backend/internal/risk"
	"github.com/newsrisk/backend/pkg/logger"
)

// WebSocketHandler runs reports and streams the pipeline stages as they
// start.
type WebSocketHandler struct {
	service ReportService
}

func NewWebSocketHandler(service ReportService) *WebSocketHandler {
	return &WebSocketHandler{service: service}
}

type analyzeMessage struct {
	Type     string          `json:"type"`
	Company  string          `json:"company"`
	Options  map[string]bool `json:"options"`
	Document json.RawMessage `json:"document"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg analyzeMessage

		err := c.ReadJSON(&msg)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		switch msg.Type {
		case "analyze", "fetch":
		default:
			h.sendError(c, "Unknown message type "+msg.Type)
			continue
		}

		if err := h.run(c, msg); err != nil {
			logger.Warn("WebSocket report failed", zap.Error(err))
			h.sendError(c, err.Error())
		}
	}
}

func (h *WebSocketHandler) run(c *websocket.Conn, msg analyzeMessage) error {
	opts, err := risk.ParseOptions(msg.Options)
	if err != nil {
		return err
	}

	opts.Progress = func(stage string) {
		if err := c.WriteJSON(map[string]interface{}{"type": "stage", "stage": stage}); err != nil {
			logger.Debug("Failed to send stage", zap.String("stage", stage), zap.Error(err))
		}
	}

	ctx := context.Background()

	var analysis *report.Analysis
	if msg.Type == "fetch" {
		analysis, err = h.service.FetchAndAnalyze(ctx, msg.Company, opts)
	} else {
		analysis, err = h.service.Analyze(ctx, report.Request{
			Company: msg.Company,
			Data:    msg.Document,
			Options: opts,
		})
	}
	if err != nil {
		return err
	}

	return c.WriteJSON(map[string]interface{}{
		"type":   "complete",
		"report": analysis,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	if err := c.WriteJSON(msg); err != nil {
		logger.Debug("Failed to send error", zap.Error(err))
	}
}
