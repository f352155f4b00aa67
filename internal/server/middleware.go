package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// quietPaths are polled by dashboards and logged at debug level only
var quietPaths = map[string]struct{}{
	"/metrics":      {},
	"/health":       {},
	"/api/snapshot": {},
	"/api/position": {},
	"/api/heading":  {},
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		path := c.Path()
		status := c.Response().StatusCode()

		level := slog.LevelInfo
		if _, quiet := quietPaths[path]; quiet {
			level = slog.LevelDebug
		}
		if status >= fiber.StatusInternalServerError {
			level = slog.LevelWarn
		}

		logger.Log(c.UserContext(), level, "http request",
			"method", c.Method(),
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)

		return err
	}
}
