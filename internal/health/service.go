package health

import (
	"context"
	"net/http"
	"time"

	"alttext/internal/logger"
	"alttext/internal/platform/redis"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type Handler struct {
	log       *logger.Logger
	redis     *redis.Service
	startTime time.Time
	isReady   bool
}

func NewHandler(redisSvc *redis.Service) *Handler {
	return &Handler{
		log:       logger.New("HealthCheck"),
		redis:     redisSvc,
		startTime: time.Now(),
	}
}

// SetReady marks the application as ready to receive traffic.
func (h *Handler) SetReady() {
	h.isReady = true
	h.log.LogSuccessf("Application marked as ready for traffic after %v", time.Since(h.startTime))
}

type ComponentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type OverallHealth struct {
	OverallStatus string                     `json:"overall_status"`
	Timestamp     string                     `json:"timestamp"`
	Ready         bool                       `json:"ready"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentStatus `json:"components"`
}

// HandleHealth reports readiness plus the state of the Redis dependency.
func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 8*time.Second)
	defer cancel()

	statuses := map[string]ComponentStatus{"redis": {Status: "ok"}}
	allOk := true
	if err := h.redis.HealthCheck(ctx); err != nil {
		statuses["redis"] = ComponentStatus{Status: "error", Error: err.Error()}
		allOk = false
		h.log.LogErrorf("Health check failed for redis: %v", err)
	}

	response := OverallHealth{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Ready:         h.isReady,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components:    statuses,
	}

	switch {
	case allOk && h.isReady:
		response.OverallStatus = "ok"
		return c.Status(http.StatusOK).JSON(response)
	case !h.isReady:
		response.OverallStatus = "starting"
		return c.Status(http.StatusServiceUnavailable).JSON(response)
	default:
		response.OverallStatus = "error"
		h.log.LogWarnf("Health check failed. Statuses: %+v", statuses)
		return c.Status(http.StatusServiceUnavailable).JSON(response)
	}
}

func HealthLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{"error": "Rate limit exceeded"})
		},
	})
}
