package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/use-agent/pluck/config"
	"github.com/use-agent/pluck/models"
)

// Extraction methods reported in Result.Method.
const (
	MethodStatic  = "static"
	MethodBrowser = "browser"
)

// Result is the outcome of one extraction. Exactly one of Elements (non-empty)
// or Failure is set.
type Result struct {
	Elements []models.ExtractedElement
	Failure  *models.ScrapeError
	Method   string
}

// OK reports whether the extraction produced elements.
func (r Result) OK() bool { return r.Failure == nil }

// Count is the number of extracted elements.
func (r Result) Count() int { return len(r.Elements) }

// Reason returns the failure text, or "" on success.
func (r Result) Reason() string {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Reason()
}

// Extractor fetches a page and returns the elements matching a selector.
// The static path shares one HTTP client that keeps no per-request state;
// only the browser is allocated per call. An Extractor is safe for concurrent
// use.
type Extractor struct {
	browserCfg config.BrowserConfig
	cfg        config.ExtractorConfig
	fetcher    *httpFetcher
	md         *converter.Converter

	// launch starts the per-call browser. Replaced in tests.
	launch func(ctx context.Context, cfg config.BrowserConfig) (*session, error)
}

// New creates an Extractor.
func New(browserCfg config.BrowserConfig, cfg config.ExtractorConfig) *Extractor {
	if cfg.UserAgent == "" {
		cfg.UserAgent = config.DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	return &Extractor{
		browserCfg: browserCfg,
		cfg:        cfg,
		fetcher:    newHTTPFetcher(cfg.UserAgent, cfg.MaxBodyBytes),
		md:         newMarkdownConverter(),
		launch:     launchBrowser,
	}
}

// Extract runs one extraction. It never returns an error or panics: every
// failure, including invalid input, is reported in Result.Failure.
//
// Pages that need script execution (RenderJS) and XPath selectors go through
// a disposable headless browser; everything else is a single HTTP GET parsed
// with goquery.
func (e *Extractor) Extract(ctx context.Context, req models.ExtractionRequest) (res Result) {
	method := MethodStatic
	if usesRenderer(req) {
		method = MethodBrowser
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("extractor: recovered from panic", "url", req.URL, "method", method, "panic", r)
			res = failed(method, models.NewScrapeError(models.ErrCodeInternal,
				fmt.Sprintf("unexpected extraction failure: %v", r), nil))
		}
	}()

	if err := Validate(req); err != nil {
		return failed(method, err)
	}

	var elems []models.ExtractedElement
	var err error
	if method == MethodBrowser {
		elems, err = e.extractRendered(ctx, req)
	} else {
		elems, err = e.extractStatic(ctx, req)
	}
	if err != nil {
		return failed(method, asScrapeError(err))
	}
	if len(elems) == 0 {
		return failed(method, models.NewScrapeError(models.ErrCodeNoMatch, models.MsgNoElements, nil))
	}

	if req.IncludeMarkdown {
		e.addMarkdown(elems, req.URL)
	}

	slog.Debug("extraction succeeded", "url", req.URL, "method", method, "count", len(elems))
	return Result{Elements: elems, Method: method}
}

// usesRenderer is the two-way mode switch.
func usesRenderer(req models.ExtractionRequest) bool {
	return req.RenderJS || req.SelectorType == models.SelectorXPath
}

func failed(method string, err *models.ScrapeError) Result {
	return Result{Failure: err, Method: method}
}

func asScrapeError(err error) *models.ScrapeError {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return models.NewScrapeError(models.ErrCodeInternal, "extraction failed", err)
}

// categorizeError wraps raw errors into typed ScrapeErrors. Deadline and
// cancellation become timeouts; everything else gets the path's own code.
func categorizeError(err error, code, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg+": timed out", err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(code, msg, err)
	}
}
