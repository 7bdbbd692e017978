package adminapi

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/platform-agent/internal/health"
	"github.com/p-blackswan/platform-agent/internal/jobhistory"
	"github.com/p-blackswan/platform-agent/internal/metrics"
	"github.com/p-blackswan/platform-agent/internal/queue"
)

type handlers struct {
	queue   *queue.Queue
	history *jobhistory.Store
	metrics *metrics.Metrics
	checker *health.Checker
	logger  zerolog.Logger
}

// liveness handles GET /healthz.
func (h *handlers) liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// readiness handles GET /readyz.
func (h *handlers) readiness(c *fiber.Ctx) error {
	if h.checker == nil || h.checker.IsReady(c.Context()) {
		return c.JSON(fiber.Map{"status": "ready"})
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready"})
}

// status handles GET /status.
func (h *handlers) status(c *fiber.Ctx) error {
	qs, err := h.queue.GetStatus()
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError, "queue_status_failed", "Internal Server Error", err.Error())
	}

	resp := StatusResponse{
		Queue: QueueStatus{Pending: qs.Pending, Processing: qs.Processing, Completed: qs.Completed, Failed: qs.Failed},
	}

	if h.history != nil {
		counts, err := h.history.CountByStatus()
		if err != nil {
			h.logger.Warn().Err(err).Msg("job history count query failed")
		} else {
			resp.Jobs = counts
		}
	}

	if h.metrics != nil {
		h.metrics.SetQueueDepths(qs.Pending, qs.Processing, qs.Completed, qs.Failed)
	}

	return c.JSON(resp)
}

// job handles GET /jobs/:id.
func (h *handlers) job(c *fiber.Ctx) error {
	if h.history == nil {
		return problemResponse(c, fiber.StatusNotFound, "job_history_unavailable", "Not Found", "job history is not configured")
	}

	id := c.Params("id")
	rec, err := h.history.Get(id)
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError, "job_lookup_failed", "Internal Server Error", err.Error())
	}
	if rec == nil {
		return problemResponse(c, fiber.StatusNotFound, "job_not_found", "Not Found", "no job history for id "+id)
	}

	return c.JSON(JobResponse{
		ID: rec.ID, Channel: rec.Channel, ThreadTS: rec.ThreadTS, UserID: rec.UserID,
		Kind: rec.Kind, Status: rec.Status, Error: rec.Error,
		CreatedAt: rec.CreatedAt, StartedAt: rec.StartedAt, CompletedAt: rec.CompletedAt, FailedAt: rec.FailedAt,
	})
}

// recentJobs handles GET /jobs?status=&limit=.
func (h *handlers) recentJobs(c *fiber.Ctx) error {
	if h.history == nil {
		return problemResponse(c, fiber.StatusNotFound, "job_history_unavailable", "Not Found", "job history is not configured")
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	recs, err := h.history.Recent(jobhistory.RecentFilter{Status: c.Query("status"), Limit: limit})
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError, "job_list_failed", "Internal Server Error", err.Error())
	}

	out := make([]JobResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, JobResponse{
			ID: rec.ID, Channel: rec.Channel, ThreadTS: rec.ThreadTS, UserID: rec.UserID,
			Kind: rec.Kind, Status: rec.Status, Error: rec.Error,
			CreatedAt: rec.CreatedAt, StartedAt: rec.StartedAt, CompletedAt: rec.CompletedAt, FailedAt: rec.FailedAt,
		})
	}
	return c.JSON(out)
}
