package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pluck/api/handler"
	"github.com/use-agent/pluck/api/middleware"
	"github.com/use-agent/pluck/cache"
	"github.com/use-agent/pluck/config"
	"github.com/use-agent/pluck/models"
	"github.com/use-agent/pluck/store"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Extractor handler.Extractor
	Store     *store.Store
	Cache     *cache.Cache
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
// ctx bounds the background goroutines started by middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger → RequestID → SecurityHeaders
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())
	r.Use(middleware.RequestID())
	r.Use(middleware.SecurityHeaders())

	api := r.Group("/api")

	// Health, no auth required.
	var pinger handler.Pinger
	if deps.Store != nil {
		pinger = deps.Store
	}
	api.GET("/health", handler.Health(pinger, deps.StartTime))

	// Protected group: auth + rate limit.
	protected := api.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	var recorder handler.Recorder
	var history handler.History = emptyHistory{}
	if deps.Store != nil {
		recorder = deps.Store
		history = deps.Store
	}

	protected.POST("/scrape", handler.Scrape(deps.Extractor, recorder, deps.Cache))
	protected.GET("/history", handler.ListHistory(history))
	protected.DELETE("/history/:id", handler.DeleteHistory(history))
	protected.GET("/data", handler.LegacyData(history))

	notFound := handler.NotFound()
	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") || c.Request.URL.Path == "/api" {
			notFound(c)
			return
		}
		c.Status(http.StatusNotFound)
	})

	return r
}

// emptyHistory serves the history routes when no store is configured.
type emptyHistory struct{}

func (emptyHistory) List(context.Context, int) ([]*models.HistoryRecord, error) {
	return []*models.HistoryRecord{}, nil
}

func (emptyHistory) Delete(context.Context, int64) (bool, error) { return false, nil }
