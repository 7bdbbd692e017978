// Package adminapi exposes a small read-only Fiber HTTP surface for
// operators: liveness/readiness probes, Prometheus metrics, and queue
// plus job-history status. It is not a control plane — there are no
// mutating endpoints — grounded on the teacher's management API server
// shape, narrowed to probe/status/metrics routes.
package adminapi

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/platform-agent/internal/health"
	"github.com/p-blackswan/platform-agent/internal/jobhistory"
	"github.com/p-blackswan/platform-agent/internal/metrics"
	"github.com/p-blackswan/platform-agent/internal/queue"
)

// Config configures the admin API server.
type Config struct {
	ListenAddr string
	APIKey     string // empty disables auth (local/dev use)
}

// Server is the admin API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config Config
}

// NewServer constructs and wires an admin API server.
func NewServer(cfg Config, q *queue.Queue, history *jobhistory.Store, m *metrics.Metrics, checker *health.Checker, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "adminapi").Logger(),
		config: cfg,
	}

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))

	h := &handlers{queue: q, history: history, metrics: m, checker: checker, logger: s.logger}

	app.Get("/healthz", h.liveness)
	app.Get("/readyz", h.readiness)
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	authed := app.Group("", newAuthMiddleware(cfg.APIKey, s.logger))
	authed.Get("/status", h.status)
	authed.Get("/jobs/:id", h.job)
	authed.Get("/jobs", h.recentJobs)

	return s
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	s.logger.Info().Str("addr", addr).Msg("admin API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("admin API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}
		logger.Error().Err(err).Int("status", code).Str("path", c.Path()).Msg("unhandled error")
		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    "Internal Server Error",
			Status:   code,
			Detail:   fmt.Sprintf("%v", err),
			Instance: c.Path(),
		})
	}
}
