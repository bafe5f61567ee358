package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// element mirrors one extracted element in the Pluck API response.
type element struct {
	Text       string            `json:"text"`
	HTML       string            `json:"html"`
	TagName    string            `json:"tagName"`
	Attributes map[string]string `json:"attributes"`
	Markdown   string            `json:"markdown"`
}

// scrapeRequest mirrors the Pluck API request model.
type scrapeRequest struct {
	URL             string `json:"url"`
	Selector        string `json:"selector"`
	SelectorType    string `json:"selectorType,omitempty"`
	RenderJS        bool   `json:"renderJs,omitempty"`
	IncludeMarkdown bool   `json:"includeMarkdown,omitempty"`
}

// scrapeResponse mirrors the Pluck API response model.
type scrapeResponse struct {
	Success bool      `json:"success"`
	Content []element `json:"content"`
	Count   int       `json:"count"`
	Method  string    `json:"method"`
	Error   string    `json:"error"`
	Code    string    `json:"code"`
}

// historyResponse mirrors GET /api/history.
type historyResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		ID           int64           `json:"id"`
		URL          string          `json:"url"`
		Selector     string          `json:"selector"`
		SelectorType string          `json:"selector_type"`
		Content      json.RawMessage `json:"content"`
		Status       string          `json:"status"`
		ErrorMessage *string         `json:"error_message"`
		Timestamp    string          `json:"timestamp"`
	} `json:"data"`
	Error string `json:"error"`
}

// client talks to a running Pluck API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func main() {
	apiURL := os.Getenv("PLUCK_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:5000"
	}
	c := &client{
		baseURL: strings.TrimRight(apiURL, "/"),
		apiKey:  os.Getenv("PLUCK_API_KEY"),
		http:    &http.Client{Timeout: 120 * time.Second},
	}

	s := server.NewMCPServer(
		"pluck",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	extractTool := mcp.NewTool("extract_elements",
		mcp.WithDescription("Fetch a web page and return every element matching a CSS selector or XPath expression, with text, inner HTML, tag name and attributes. XPath and render_js use a headless browser so JavaScript-built content is included."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute http(s) URL of the page"),
		),
		mcp.WithString("selector",
			mcp.Required(),
			mcp.Description("CSS selector or XPath expression"),
		),
		mcp.WithString("selector_type",
			mcp.Description("'css' (default) or 'xpath'"),
			mcp.Enum("css", "xpath"),
		),
		mcp.WithBoolean("render_js",
			mcp.Description("Render the page in a headless browser before matching (default: false)"),
		),
		mcp.WithBoolean("include_markdown",
			mcp.Description("Also return each element's content as Markdown (default: false)"),
		),
	)
	s.AddTool(extractTool, c.handleExtract)

	historyTool := mcp.NewTool("scrape_history",
		mcp.WithDescription("List recent extraction attempts, most recent first, including failures and their reasons."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of records (default: 20, max: 500)"),
		),
	)
	s.AddTool(historyTool, c.handleHistory)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// do sends a request to the Pluck API and returns the response body.
func (c *client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *client) handleExtract(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageURL, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url is required"), nil
	}
	selector, err := request.RequireString("selector")
	if err != nil {
		return mcp.NewToolResultError("selector is required"), nil
	}

	respBody, err := c.do(ctx, http.MethodPost, "/api/scrape", scrapeRequest{
		URL:             pageURL,
		Selector:        selector,
		SelectorType:    request.GetString("selector_type", "css"),
		RenderJS:        request.GetBool("render_js", false),
		IncludeMarkdown: request.GetBool("include_markdown", false),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var resp scrapeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "extraction failed"
		}
		if resp.Code != "" {
			msg = fmt.Sprintf("[%s] %s", resp.Code, msg)
		}
		return mcp.NewToolResultError(msg), nil
	}

	return mcp.NewToolResultText(formatElements(pageURL, resp)), nil
}

func formatElements(pageURL string, resp scrapeResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Source: %s\nMatched: %d element(s) via %s\n", pageURL, len(resp.Content), resp.Method)
	for i, el := range resp.Content {
		fmt.Fprintf(&sb, "\n## %d. <%s>\n", i+1, strings.ToLower(el.TagName))
		if len(el.Attributes) > 0 {
			attrs, _ := json.Marshal(el.Attributes)
			fmt.Fprintf(&sb, "Attributes: %s\n", attrs)
		}
		if el.Markdown != "" {
			sb.WriteString(el.Markdown)
		} else {
			sb.WriteString(el.Text)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (c *client) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 20)
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	respBody, err := c.do(ctx, http.MethodGet, "/api/history?"+q.Encode(), nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var resp historyResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
	}
	if !resp.Success {
		return mcp.NewToolResultError(resp.Error), nil
	}
	if len(resp.Data) == 0 {
		return mcp.NewToolResultText("No extraction history."), nil
	}

	var sb strings.Builder
	for _, r := range resp.Data {
		fmt.Fprintf(&sb, "#%d %s %s [%s] %s %q", r.ID, r.Timestamp, r.Status, r.SelectorType, r.URL, r.Selector)
		if r.ErrorMessage != nil {
			fmt.Fprintf(&sb, " error: %s", *r.ErrorMessage)
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}
