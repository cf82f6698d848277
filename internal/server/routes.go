package server

import (
	"alttext/internal/core/job"
	"alttext/internal/core/scan"
	"alttext/internal/health"
	"alttext/internal/platform/redis"

	"github.com/gofiber/fiber/v2"
)

type Dependencies struct {
	Jobs  job.Store
	Scan  *scan.Service
	Redis *redis.Service
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.Handler {
	healthHandler := health.NewHandler(d.Redis)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	scanHandler := scan.NewHandler(d.Jobs, d.Scan)
	api.Post("/scans", scanHandler.HandleCreateScan)
	api.Get("/scans/:jobId", scanHandler.HandleGetScan)
	api.Delete("/scans/:jobId", scanHandler.HandleCancelScan)
	api.Get("/reports/:jobId", scanHandler.HandleGetReport)

	return healthHandler
}
