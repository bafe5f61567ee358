package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pluck/api/middleware"
	"github.com/use-agent/pluck/cache"
	"github.com/use-agent/pluck/extractor"
	"github.com/use-agent/pluck/models"
	"github.com/use-agent/pluck/store"
)

// Extractor runs one extraction.
type Extractor interface {
	Extract(ctx context.Context, req models.ExtractionRequest) extractor.Result
}

// Recorder persists extraction attempts.
type Recorder interface {
	Insert(ctx context.Context, rec store.Record) (int64, error)
}

// Scrape returns a handler for POST /api/scrape.
//
// Orchestration flow:
//  1. Parse request, apply defaults, validate (400 on bad input).
//  2. Cache lookup when maxAge > 0.
//  3. Extract; every outcome is recorded, and a failing store only logs.
//  4. Respond 200 with content, or a mapped error status with content null.
func Scrape(ex Extractor, rec Recorder, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		// ── 1. Parse & validate ────────────────────────────────────
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput, "Invalid request body", err), models.TimingInfo{})
			return
		}
		req.Defaults()
		ereq := req.ToExtraction()
		if verr := extractor.Validate(ereq); verr != nil {
			// Validation messages are fixed strings; compiler detail stays in logs.
			slog.Debug("scrape request rejected", "url", req.URL, "selector", req.Selector, "error", verr)
			respondError(c, models.NewScrapeError(verr.Code, verr.Message, nil), models.TimingInfo{})
			return
		}

		// ── 2. Cache lookup ────────────────────────────────────────
		var cacheKey string
		if cc != nil && req.MaxAge > 0 {
			cacheKey = cache.Key(ereq.URL, ereq.Selector, ereq.SelectorType, ereq.RenderJS, ereq.IncludeMarkdown)
			if cached, hit := cc.Get(cacheKey, req.MaxAge); hit {
				record(c, rec, store.RecordFromResult(ereq, extractor.Result{
					Elements: cached.Content,
					Method:   cached.Method,
				}))
				cached.CacheStatus = "hit"
				cached.Timing = models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		// ── 3. Extract & record ────────────────────────────────────
		extractStart := time.Now()
		result := ex.Extract(c.Request.Context(), ereq)
		extractionMs := time.Since(extractStart).Milliseconds()

		record(c, rec, store.RecordFromResult(ereq, result))

		timing := models.TimingInfo{
			TotalMs:      time.Since(totalStart).Milliseconds(),
			ExtractionMs: extractionMs,
		}
		if !result.OK() {
			slog.Info("extraction failed",
				"request_id", c.GetString(middleware.ContextKeyRequestID),
				"url", ereq.URL,
				"method", result.Method,
				"code", result.Failure.Code,
				"reason", result.Reason(),
			)
			resp := errorResponse(result.Failure, timing)
			resp.Method = result.Method
			c.JSON(mapErrorToStatus(result.Failure), resp)
			return
		}

		// ── 4. Respond ─────────────────────────────────────────────
		resp := models.ScrapeResponse{
			Success: true,
			Content: result.Elements,
			Count:   result.Count(),
			Method:  result.Method,
			Timing:  timing,
		}
		if cacheKey != "" {
			cc.Set(cacheKey, resp)
			resp.CacheStatus = "miss"
		}
		c.JSON(http.StatusOK, resp)
	}
}

// record hands the attempt to the store. The response never depends on it.
func record(c *gin.Context, rec Recorder, r store.Record) {
	if rec == nil {
		return
	}
	// Detached from the request so a client hang-up does not drop the row.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 5*time.Second)
	defer cancel()
	if _, err := rec.Insert(ctx, r); err != nil {
		slog.Error("failed to record extraction",
			"request_id", c.GetString(middleware.ContextKeyRequestID),
			"url", r.URL,
			"status", r.Status,
			"error", err,
		)
	}
}

// respondError maps a ScrapeError to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err *models.ScrapeError, timing models.TimingInfo) {
	c.JSON(mapErrorToStatus(err), errorResponse(err, timing))
}

func errorResponse(err *models.ScrapeError, timing models.TimingInfo) models.ScrapeResponse {
	return models.ScrapeResponse{
		Success: false,
		Content: nil,
		Error:   err.Reason(),
		Code:    err.Code,
		Timing:  timing,
	}
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ScrapeError) int {
	switch e.Code {
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeNetwork, models.ErrCodeRender:
		return http.StatusBadGateway // 502
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNoMatch, models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
