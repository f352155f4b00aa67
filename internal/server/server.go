// Package server provides the HTTP server for go-pdr
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-pdr/internal/config"
	"github.com/teslashibe/go-pdr/internal/fusion"
	"github.com/teslashibe/go-pdr/internal/health"
	"github.com/teslashibe/go-pdr/internal/room"
	"github.com/teslashibe/go-pdr/internal/session"
	"github.com/teslashibe/go-pdr/internal/store"
)

// Server is the HTTP server for go-pdr
type Server struct {
	app       *fiber.App
	cfg       config.ServerConfig
	session   *session.Session
	layouts   *store.Store
	health    *health.Checker
	settings  *config.Config
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// Option configures optional server collaborators
type Option func(*Server)

// WithStore enables the saved-layout endpoints
func WithStore(st *store.Store) Option {
	return func(s *Server) { s.layouts = st }
}

// WithHealth reports component health from checker
func WithHealth(checker *health.Checker) Option {
	return func(s *Server) { s.health = checker }
}

// WithSettings exposes the running configuration on /api/config
func WithSettings(cfg *config.Config) Option {
	return func(s *Server) { s.settings = cfg }
}

// New creates a new HTTP server
func New(cfg config.ServerConfig, sess *session.Session, logger *slog.Logger, version string, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-pdr",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		session:   sess,
		logger:    logger,
		wsHub:     NewWSHub(sess, cfg.BroadcastHz, logger),
		startTime: time.Now(),
		version:   version,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Register routes
	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	// Health check
	s.app.Get("/health", s.healthHandler)

	// Metrics endpoint
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api")

	// Live session
	api.Get("/snapshot", s.requireSession, s.snapshotHandler)
	api.Get("/position", s.requireSession, s.positionHandler)
	api.Get("/heading", s.requireSession, s.headingHandler)
	api.Get("/corners", s.requireSession, s.cornersHandler)
	api.Post("/corners/mark", s.requireSession, s.markCornerHandler)
	api.Post("/reset", s.requireSession, s.resetHandler)
	api.Post("/wifi", s.requireSession, s.wifiHandler)
	api.Get("/layout", s.requireSession, s.layoutHandler)
	api.Get("/layout/geojson", s.requireSession, s.layoutGeoJSONHandler)
	api.Get("/stream", s.wsHub.UpgradeHandler())

	// Saved layouts
	layouts := api.Group("/layouts", s.requireStore)
	layouts.Post("/", s.requireSession, s.saveLayoutHandler)
	layouts.Get("/", s.listLayoutsHandler)
	layouts.Get("/:id", s.getLayoutHandler)
	layouts.Get("/:id/geojson", s.getLayoutGeoJSONHandler)
	layouts.Delete("/:id", s.deleteLayoutHandler)

	// Config endpoint
	api.Get("/config", s.configHandler)

	// Stats endpoint
	api.Get("/stats", s.requireSession, s.statsHandler)
}

func (s *Server) requireSession(c *fiber.Ctx) error {
	if s.session == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "session not available",
		})
	}
	return c.Next()
}

func (s *Server) requireStore(c *fiber.Ctx) error {
	if s.layouts == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "layout store not enabled",
		})
	}
	return c.Next()
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	if s.health != nil {
		status := s.health.GetStatus()
		code := fiber.StatusOK
		if status.Status == "unhealthy" {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(status)
	}

	uptime := time.Since(s.startTime)

	sourceHealthy := false
	sourceName := "unknown"
	active := false
	if s.session != nil {
		stats := s.session.Stats()
		sourceHealthy = stats.SourceHealthy
		sourceName = stats.SourceName
		active = stats.Active
	}

	status := "ok"
	if !sourceHealthy || !active {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(uptime.Seconds()),
		"sensor_source":  sourceName,
		"source_healthy": sourceHealthy,
		"session_active": active,
	})
}

// snapshotHandler returns the latest session update
func (s *Server) snapshotHandler(c *fiber.Ctx) error {
	return c.JSON(s.session.Latest())
}

// positionHandler returns the current position and the recent trail
func (s *Server) positionHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"session_id": s.session.ID(),
		"position":   s.session.Engine().Position(),
		"trail":      s.session.Trail(),
	})
}

// headingHandler returns the smoothed heading
func (s *Server) headingHandler(c *fiber.Ctx) error {
	heading := s.session.Engine().Heading()
	return c.JSON(fiber.Map{
		"heading":        heading,
		"screen_heading": fusion.ScreenHeading(heading),
	})
}

// cornersHandler returns the accumulated corners
func (s *Server) cornersHandler(c *fiber.Ctx) error {
	corners := s.session.Engine().Corners()
	return c.JSON(fiber.Map{
		"session_id": s.session.ID(),
		"corners":    corners,
		"count":      len(corners),
	})
}

// markCornerHandler records the current position as a corner
func (s *Server) markCornerHandler(c *fiber.Ctx) error {
	corner := s.session.MarkCorner()
	return c.JSON(fiber.Map{
		"corner": corner,
		"count":  s.session.Engine().CornerCount(),
	})
}

// resetHandler starts a new session
func (s *Server) resetHandler(c *fiber.Ctx) error {
	s.session.Reset()
	return c.JSON(fiber.Map{
		"session_id": s.session.ID(),
	})
}

type wifiRequest struct {
	SSID     string `json:"ssid"`
	Strength int    `json:"strength"`
}

// wifiHandler attaches a Wi-Fi observation at the current position
func (s *Server) wifiHandler(c *fiber.Ctx) error {
	var req wifiRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.SSID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "ssid is required",
		})
	}

	ref := s.session.ObserveWiFi(req.SSID, req.Strength)
	return c.Status(fiber.StatusCreated).JSON(ref)
}

// layoutHandler returns the live layout as a persistence record
func (s *Server) layoutHandler(c *fiber.Ctx) error {
	return c.JSON(s.session.Layout().ToRecord())
}

// layoutGeoJSONHandler returns the live layout as GeoJSON
func (s *Server) layoutGeoJSONHandler(c *fiber.Ctx) error {
	return sendGeoJSON(c, s.session.Layout())
}

func sendGeoJSON(c *fiber.Ctx, l room.Layout) error {
	data, err := room.GeoJSON(l)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set("Content-Type", "application/geo+json")
	return c.Send(data)
}

type saveLayoutRequest struct {
	Name string `json:"name"`
}

// saveLayoutHandler stores the live layout
func (s *Server) saveLayoutHandler(c *fiber.Ctx) error {
	var req saveLayoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}

	entry, err := s.layouts.Save(c.UserContext(), s.session.ID(), req.Name, s.session.Layout())
	if err != nil {
		s.logger.Error("layout save failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to save layout",
		})
	}

	s.logger.Info("layout saved",
		"id", entry.ID,
		"session_id", entry.SessionID,
		"corners", entry.CornerCount,
	)
	return c.Status(fiber.StatusCreated).JSON(entry)
}

// listLayoutsHandler lists saved layouts, newest first
func (s *Server) listLayoutsHandler(c *fiber.Ctx) error {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = n
	}

	entries, err := s.layouts.List(c.UserContext(), limit)
	if err != nil {
		s.logger.Error("layout list failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list layouts",
		})
	}
	if entries == nil {
		entries = []store.Entry{}
	}

	return c.JSON(fiber.Map{
		"layouts": entries,
		"count":   len(entries),
	})
}

// getLayoutHandler returns one saved layout
func (s *Server) getLayoutHandler(c *fiber.Ctx) error {
	l, entry, err := s.layouts.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.layoutError(c, "load", err)
	}
	return c.JSON(fiber.Map{
		"entry":  entry,
		"layout": l.ToRecord(),
	})
}

// getLayoutGeoJSONHandler returns one saved layout as GeoJSON
func (s *Server) getLayoutGeoJSONHandler(c *fiber.Ctx) error {
	l, _, err := s.layouts.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.layoutError(c, "load", err)
	}
	return sendGeoJSON(c, l)
}

// layoutError maps store errors to responses
func (s *Server) layoutError(c *fiber.Ctx, op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "layout not found",
		})
	}
	s.logger.Error("layout "+op+" failed", "id", c.Params("id"), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "failed to " + op + " layout",
	})
}

// deleteLayoutHandler removes one saved layout
func (s *Server) deleteLayoutHandler(c *fiber.Ctx) error {
	if err := s.layouts.Delete(c.UserContext(), c.Params("id")); err != nil {
		return s.layoutError(c, "delete", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// configHandler returns current configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	out := fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Port,
			"read_timeout_ms":  s.cfg.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.WriteTimeout.Milliseconds(),
			"broadcast_hz":     s.cfg.BroadcastHz,
		},
	}

	if s.session != nil {
		p := s.session.Engine().Params()
		out["fusion"] = fiber.Map{
			"step_strategy":        p.StepStrategy,
			"position_strategy":    p.PositionStrategy,
			"max_accel":            p.MaxAccel,
			"filter_alpha":         p.FilterAlpha,
			"peak_threshold":       p.PeakThreshold,
			"min_step_interval_ms": p.MinStepInterval.Milliseconds(),
			"step_length":          p.StepLength,
			"steps_multiplier":     p.StepsMultiplier,
			"min_corner_distance":  p.MinCornerDistance,
		}
	}

	if s.settings != nil {
		out["sensor"] = fiber.Map{
			"driver": s.settings.Sensor.Driver,
		}
		out["store"] = fiber.Map{
			"enabled": s.settings.Store.Enabled,
		}
		out["mqtt"] = fiber.Map{
			"enabled":      s.settings.MQTT.Enabled,
			"topic_prefix": s.settings.MQTT.TopicPrefix,
		}
		out["uplink"] = fiber.Map{
			"enabled": s.settings.Uplink.Enabled,
		}
	}

	return c.JSON(out)
}

// statsHandler returns session statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	return c.JSON(s.session.Stats())
}

// metricsHandler returns Prometheus-format metrics
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	if s.session == nil {
		return c.Status(503).SendString("# no session available\n")
	}

	stats := s.session.Stats()
	latest := s.session.Latest()

	metrics := fmt.Sprintf(`# HELP go_pdr_steps Steps in the current session
# TYPE go_pdr_steps gauge
go_pdr_steps %d

# HELP go_pdr_distance_meters Distance walked in the current session
# TYPE go_pdr_distance_meters gauge
go_pdr_distance_meters %f

# HELP go_pdr_heading_degrees Smoothed compass heading
# TYPE go_pdr_heading_degrees gauge
go_pdr_heading_degrees %f

# HELP go_pdr_position_x_meters Position east of the session origin
# TYPE go_pdr_position_x_meters gauge
go_pdr_position_x_meters %f

# HELP go_pdr_position_y_meters Position north of the session origin
# TYPE go_pdr_position_y_meters gauge
go_pdr_position_y_meters %f

# HELP go_pdr_pace Current pace
# TYPE go_pdr_pace gauge
go_pdr_pace %f

# HELP go_pdr_calories Estimated calories burned
# TYPE go_pdr_calories gauge
go_pdr_calories %f

# HELP go_pdr_corners Corners in the current layout
# TYPE go_pdr_corners gauge
go_pdr_corners %d

# HELP go_pdr_events_total Sensor events processed
# TYPE go_pdr_events_total counter
go_pdr_events_total %d

# HELP go_pdr_event_errors_total Sensor events rejected
# TYPE go_pdr_event_errors_total counter
go_pdr_event_errors_total %d

# HELP go_pdr_session_active Session state (1=active, 0=inert)
# TYPE go_pdr_session_active gauge
go_pdr_session_active %d

# HELP go_pdr_source_healthy Sensor source health (1=healthy, 0=unhealthy)
# TYPE go_pdr_source_healthy gauge
go_pdr_source_healthy %d

# HELP go_pdr_uptime_seconds Server uptime in seconds
# TYPE go_pdr_uptime_seconds gauge
go_pdr_uptime_seconds %d

# HELP go_pdr_websocket_clients Current WebSocket client count
# TYPE go_pdr_websocket_clients gauge
go_pdr_websocket_clients %d
`,
		latest.Steps,
		latest.Distance,
		latest.Heading,
		latest.Position.X,
		latest.Position.Y,
		latest.Pace,
		latest.Calories,
		latest.CornerCount,
		stats.EventCount,
		stats.ErrorCount,
		boolToInt(stats.Active),
		boolToInt(stats.SourceHealthy),
		int64(time.Since(s.startTime).Seconds()),
		s.wsHub.ClientCount(),
	)

	if s.layouts != nil {
		if n, err := s.layouts.Count(c.UserContext()); err == nil {
			metrics += fmt.Sprintf(`
# HELP go_pdr_saved_layouts Layouts in the store
# TYPE go_pdr_saved_layouts gauge
go_pdr_saved_layouts %d
`, n)
		}
	}

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(metrics)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close WebSocket hub
	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
