package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pluck/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health returns a handler for GET /api/health.
//
// Status is "degraded" when the history store does not answer; extraction
// still works in that case, so the endpoint stays 200.
func Health(db Pinger, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				slog.Warn("health: store unreachable", "error", err)
				status = "degraded"
			}
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Success: true,
			Message: "Web Scraper API is running",
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: Version,
		})
	}
}

// NotFound answers unknown API routes.
func NotFound() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusNotFound, models.MessageResponse{Error: "API endpoint not found"})
	}
}
