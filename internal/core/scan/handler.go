package scan

import (
	"errors"

	"alttext/internal/core/job"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	jobs job.Store
	scan *Service
}

func NewHandler(jobs job.Store, scan *Service) *Handler {
	return &Handler{jobs: jobs, scan: scan}
}

func (h *Handler) HandleCreateScan(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid body")
	}
	if req.URL == "" {
		return fail(c, fiber.StatusBadRequest, "url is required")
	}
	if req.Depth != 0 && (req.Depth < 1 || req.Depth > 5) {
		return fail(c, fiber.StatusBadRequest, "depth must be between 1 and 5")
	}
	id, err := h.scan.Enqueue(c.Context(), req)
	if err != nil {
		if errors.Is(err, ErrBadRequest) {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"job_id":  id,
		"status":  job.StatusPending,
	})
}

func (h *Handler) HandleGetScan(c *fiber.Ctx) error {
	id := c.Params("jobId")
	j, err := h.jobs.Get(c.Context(), id)
	if err != nil {
		return fail(c, fiber.StatusNotFound, "not_found")
	}
	return c.JSON(j)
}

func (h *Handler) HandleCancelScan(c *fiber.Ctx) error {
	id := c.Params("jobId")
	if _, err := h.jobs.Get(c.Context(), id); err != nil {
		return fail(c, fiber.StatusNotFound, "not_found")
	}
	if err := h.jobs.Cancel(c.Context(), id); err != nil {
		return fail(c, fiber.StatusConflict, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "job_id": id})
}

func (h *Handler) HandleGetReport(c *fiber.Ctx) error {
	id := c.Params("jobId")
	rep, err := h.jobs.GetReport(c.Context(), id)
	if err == nil {
		return c.JSON(rep)
	}
	j, jerr := h.jobs.Get(c.Context(), id)
	if jerr != nil {
		return fail(c, fiber.StatusNotFound, "not_found")
	}
	return fail(c, fiber.StatusConflict, "report not ready: scan is "+string(j.Status))
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": msg})
}
