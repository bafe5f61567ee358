package models

// Selector types accepted by the extractor.
const (
	SelectorCSS   = "css"
	SelectorXPath = "xpath"
)

// ScrapeRequest is the payload for POST /api/scrape.
type ScrapeRequest struct {
	// URL is the target page. Required; must be an absolute http(s) URL.
	URL string `json:"url"`

	// Selector is a CSS selector or XPath expression. Required.
	Selector string `json:"selector"`

	// SelectorType is "css" (default) or "xpath".
	SelectorType string `json:"selectorType,omitempty"`

	// UsePuppeteer forces the headless-browser path. The name is kept for
	// compatibility with existing clients; RenderJS is the same switch.
	UsePuppeteer bool `json:"usePuppeteer,omitempty"`
	RenderJS     bool `json:"renderJs,omitempty"`

	// IncludeMarkdown adds a Markdown rendering of each element's inner HTML.
	IncludeMarkdown bool `json:"includeMarkdown,omitempty"`

	// MaxAge enables the response cache: a cached success younger than
	// MaxAge milliseconds is returned without fetching. 0 disables caching.
	MaxAge int `json:"maxAge,omitempty" binding:"omitempty,min=0"`
}

// Defaults applies default values to unset fields.
func (r *ScrapeRequest) Defaults() {
	if r.SelectorType == "" {
		r.SelectorType = SelectorCSS
	}
}

// ToExtraction converts the API payload into the extractor's input.
func (r *ScrapeRequest) ToExtraction() ExtractionRequest {
	return ExtractionRequest{
		URL:             r.URL,
		Selector:        r.Selector,
		SelectorType:    r.SelectorType,
		RenderJS:        r.UsePuppeteer || r.RenderJS,
		IncludeMarkdown: r.IncludeMarkdown,
	}
}

// ExtractionRequest is a single extraction job. It owns no resources and is
// discarded after the call.
type ExtractionRequest struct {
	URL             string
	Selector        string
	SelectorType    string
	RenderJS        bool
	IncludeMarkdown bool
}
