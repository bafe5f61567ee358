package models

import "encoding/json"

// ExtractedElement is one matched DOM node.
type ExtractedElement struct {
	// Text is the node's trimmed text content.
	Text string `json:"text"`

	// InnerHTML is the serialized inner markup of the node.
	InnerHTML string `json:"html"`

	// TagName is the upper-case tag name, as the DOM reports it.
	TagName string `json:"tagName,omitempty"`

	// Attributes maps attribute names to values.
	Attributes map[string]string `json:"attributes"`

	// Markdown is InnerHTML converted to Markdown, only when requested.
	Markdown string `json:"markdown,omitempty"`
}

// ScrapeResponse is the response for POST /api/scrape.
type ScrapeResponse struct {
	// Success indicates whether at least one element was extracted.
	Success bool `json:"success"`

	// Content holds the matched elements; null on failure.
	Content []ExtractedElement `json:"content"`

	// Count is len(Content) on success.
	Count int `json:"count,omitempty"`

	// Error is the human-readable failure reason.
	Error string `json:"error,omitempty"`

	// Code is the machine-readable failure category.
	Code string `json:"code,omitempty"`

	// Method records which path produced the result: "static" or "browser".
	Method string `json:"method,omitempty"`

	// CacheStatus is "hit", "miss", or empty when caching was not requested.
	CacheStatus string `json:"cache_status,omitempty"`

	Timing TimingInfo `json:"timing"`
}

// TimingInfo breaks down the time spent serving a request.
type TimingInfo struct {
	TotalMs      int64 `json:"total_ms"`
	ExtractionMs int64 `json:"extraction_ms"`
}

// Record statuses written to the history store.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// HistoryRecord is one persisted extraction attempt.
type HistoryRecord struct {
	ID           int64           `json:"id"`
	URL          string          `json:"url"`
	Selector     string          `json:"selector"`
	SelectorType string          `json:"selector_type"`
	Content      json.RawMessage `json:"content"`
	Status       string          `json:"status"`
	ErrorMessage *string         `json:"error_message"`
	Timestamp    string          `json:"timestamp"`
}

// HistoryResponse is the response for GET /api/history.
type HistoryResponse struct {
	Success bool             `json:"success"`
	Data    []*HistoryRecord `json:"data"`
	Error   string           `json:"error,omitempty"`
}

// MessageResponse is a generic acknowledgement or error body.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/health.
type HealthResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status"` // "healthy" or "degraded"
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}
