package validation

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxDocumentSize     int
	MaxNameLength       int
	MaxQueryLength      int
	AllowedContentTypes []string
	// IsOption reports whether a query parameter is a pipeline toggle.
	IsOption func(name string) bool
	Logger   *zap.Logger
}

// Middleware rejects malformed requests before they reach a handler: wrong
// content types, bodies that are not JSON, oversize documents, unusable
// company names and toggles that are not booleans. Route parameters are only
// visible when it is registered on the route itself.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 20 * 1024 * 1024
	}
	if cfg.MaxNameLength == 0 {
		cfg.MaxNameLength = 128
	}
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 1000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.IsOption == nil {
		cfg.IsOption = func(string) bool { return false }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}

			if body := c.Body(); len(body) > 0 {
				if len(body) > cfg.MaxDocumentSize {
					return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
						"error": "Document exceeds maximum size",
					})
				}
				if !json.Valid(body) {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Invalid JSON format",
					})
				}
			}
		}

		if name := c.Params("name"); name != "" {
			if unescaped, err := url.PathUnescape(name); err == nil {
				name = unescaped
			}
			if msg := checkName(name, cfg.MaxNameLength); msg != "" {
				cfg.Logger.Warn("Rejected company name",
					zap.String("ip", c.IP()),
					zap.String("name", name),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
			}
		}

		if company := c.Query("company"); company != "" {
			if msg := checkName(company, cfg.MaxNameLength); msg != "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
			}
		}

		if q := c.Query("q"); len(q) > cfg.MaxQueryLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Query exceeds maximum length",
			})
		}

		var badOption string
		c.Context().QueryArgs().VisitAll(func(key, value []byte) {
			if badOption != "" || !cfg.IsOption(string(key)) {
				return
			}
			if _, err := strconv.ParseBool(string(value)); err != nil {
				badOption = string(key)
			}
		})
		if badOption != "" {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "Option " + badOption + " must be a boolean",
			})
		}

		return c.Next()
	}
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func checkName(name string, maxLength int) string {
	if len(name) > maxLength {
		return "Company name exceeds maximum length"
	}
	if strings.TrimSpace(name) == "" {
		return "Company name is empty"
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "Company name contains control characters"
		}
	}
	return ""
}
