package extractor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xpath"
	"github.com/use-agent/pluck/models"
)

// Validate checks the request shape without touching the network.
//
// Selectors are compiled, never evaluated: CSS with cascadia (the same
// compiler the static path matches with) and XPath with antchfx/xpath. The
// browser's XPath engine is the final authority, but an expression that does
// not even parse is rejected here so no browser is launched for it.
func Validate(req models.ExtractionRequest) *models.ScrapeError {
	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Selector) == "" {
		return models.NewScrapeError(models.ErrCodeInvalidInput, "URL and selector are required", nil)
	}

	u, err := url.Parse(req.URL)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return models.NewScrapeError(models.ErrCodeInvalidInput, "Invalid URL format", nil)
	}

	switch req.SelectorType {
	case models.SelectorCSS, "":
		if _, err := cascadia.Compile(req.Selector); err != nil {
			return models.NewScrapeError(models.ErrCodeInvalidInput, "Invalid CSS selector format", err)
		}
	case models.SelectorXPath:
		if _, err := xpath.Compile(req.Selector); err != nil {
			return models.NewScrapeError(models.ErrCodeInvalidInput, "Invalid XPath expression", err)
		}
	default:
		return models.NewScrapeError(models.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported selector type %q", req.SelectorType), nil)
	}
	return nil
}
