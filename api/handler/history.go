package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pluck/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// History reads and deletes persisted attempts.
type History interface {
	List(ctx context.Context, limit int) ([]*models.HistoryRecord, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// ListHistory returns a handler for GET /api/history?limit=N.
// A missing or unparsable limit means 50; larger values are capped at 500.
func ListHistory(h History) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := historyLimit(c.Query("limit"))

		records, err := h.List(c.Request.Context(), limit)
		if err != nil {
			slog.Error("history retrieval failed", "limit", limit, "error", err)
			c.JSON(http.StatusInternalServerError, models.HistoryResponse{
				Error: "Failed to retrieve scraping history",
			})
			return
		}
		if records == nil {
			records = []*models.HistoryRecord{}
		}
		c.JSON(http.StatusOK, models.HistoryResponse{Success: true, Data: records})
	}
}

// LegacyData returns a handler for GET /api/data, the older listing that
// answers with a bare JSON array instead of the {success, data} envelope.
func LegacyData(h History) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := historyLimit(c.Query("limit"))
		records, err := h.List(c.Request.Context(), limit)
		if err != nil {
			slog.Error("history retrieval failed", "limit", limit, "error", err)
			c.JSON(http.StatusInternalServerError, models.MessageResponse{
				Error: "Failed to retrieve scraped data from database.",
			})
			return
		}
		if records == nil {
			records = []*models.HistoryRecord{}
		}
		c.JSON(http.StatusOK, records)
	}
}

// DeleteHistory returns a handler for DELETE /api/history/:id.
func DeleteHistory(h History) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.MessageResponse{Error: "Invalid ID provided"})
			return
		}

		found, err := h.Delete(c.Request.Context(), id)
		if err != nil {
			slog.Error("history delete failed", "id", id, "error", err)
			c.JSON(http.StatusInternalServerError, models.MessageResponse{Error: "Failed to delete record"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, models.MessageResponse{Error: "Record not found"})
			return
		}
		c.JSON(http.StatusOK, models.MessageResponse{Success: true, Message: "Record deleted successfully"})
	}
}

func historyLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	return min(n, maxHistoryLimit)
}
