package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/internal/report"
	"github.com/newsrisk/backend/pkg/logger"
)

// StatusFor maps pipeline failures onto HTTP statuses.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, models.ErrSchema), errors.Is(err, models.ErrDateParse):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, models.ErrConfiguration):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, report.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// ErrorHandler answers errors returned by handlers and middleware with the
// same JSON body the handlers use.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return respondError(c, err)
}
