package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/pluck/cache"
	"github.com/use-agent/pluck/extractor"
	"github.com/use-agent/pluck/models"
	"github.com/use-agent/pluck/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls []models.ExtractionRequest
	res   extractor.Result
}

func (f *fakeExtractor) Extract(_ context.Context, req models.ExtractionRequest) extractor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.res
}

func (f *fakeExtractor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type failingStore struct{}

func (failingStore) Insert(context.Context, store.Record) (int64, error) {
	return 0, errors.New("disk full")
}

func (failingStore) List(context.Context, int) ([]*models.HistoryRecord, error) {
	return nil, errors.New("disk full")
}

func (failingStore) Delete(context.Context, int64) (bool, error) {
	return false, errors.New("disk full")
}

func memStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func success(texts ...string) extractor.Result {
	elems := make([]models.ExtractedElement, len(texts))
	for i, txt := range texts {
		elems[i] = models.ExtractedElement{Text: txt, InnerHTML: txt, Attributes: map[string]string{}}
	}
	return extractor.Result{Elements: elems, Method: extractor.MethodStatic}
}

func failure(code, msg string) extractor.Result {
	return extractor.Result{Failure: models.NewScrapeError(code, msg, nil), Method: extractor.MethodStatic}
}

func scrapeEngine(ex Extractor, rec Recorder, cc *cache.Cache) *gin.Engine {
	r := gin.New()
	r.POST("/api/scrape", Scrape(ex, rec, cc))
	return r
}

func postJSON(t *testing.T, r http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestScrape_Success(t *testing.T) {
	ex := &fakeExtractor{res: success("Hello")}
	db := memStore(t)

	w := postJSON(t, scrapeEngine(ex, db, nil), "/api/scrape", `{"url":"https://example.com","selector":"h1"}`)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.ScrapeResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "Hello", resp.Content[0].Text)
	assert.Equal(t, "static", resp.Method)

	require.Equal(t, 1, ex.count())
	assert.Equal(t, models.SelectorCSS, ex.calls[0].SelectorType)
	assert.False(t, ex.calls[0].RenderJS)

	records, err := db.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StatusSuccess, records[0].Status)
}

func TestScrape_FailureIsRecordedAndMapped(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		status int
	}{
		{"no match", models.ErrCodeNoMatch, http.StatusNotFound},
		{"network", models.ErrCodeNetwork, http.StatusBadGateway},
		{"render", models.ErrCodeRender, http.StatusBadGateway},
		{"timeout", models.ErrCodeTimeout, http.StatusGatewayTimeout},
		{"internal", models.ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExtractor{res: failure(tt.code, "boom")}
			db := memStore(t)

			w := postJSON(t, scrapeEngine(ex, db, nil), "/api/scrape", `{"url":"https://example.com","selector":"h1"}`)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), `"content":null`)
			resp := decode[models.ScrapeResponse](t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, "boom", resp.Error)
			assert.Equal(t, tt.code, resp.Code)

			records, err := db.List(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, models.StatusFailed, records[0].Status)
			require.NotNil(t, records[0].ErrorMessage)
			assert.Equal(t, "boom", *records[0].ErrorMessage)
		})
	}
}

func TestScrape_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"missing url", `{"selector":"h1"}`, "URL and selector are required"},
		{"missing selector", `{"url":"https://example.com"}`, "URL and selector are required"},
		{"bad url", `{"url":"not a url","selector":"h1"}`, "Invalid URL format"},
		{"bad css", `{"url":"https://example.com","selector":"h1[["}`, "Invalid CSS selector format"},
		{"bad xpath", `{"url":"https://example.com","selector":"//h1[","selectorType":"xpath"}`, "Invalid XPath expression"},
		{"bad type", `{"url":"https://example.com","selector":"h1","selectorType":"regex"}`, `unsupported selector type "regex"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExtractor{}
			db := memStore(t)

			w := postJSON(t, scrapeEngine(ex, db, nil), "/api/scrape", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decode[models.ScrapeResponse](t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.msg, resp.Error)
			assert.Equal(t, models.ErrCodeInvalidInput, resp.Code)
			assert.Zero(t, ex.count(), "invalid input never reaches the extractor")

			records, err := db.List(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestScrape_MalformedBody(t *testing.T) {
	w := postJSON(t, scrapeEngine(&fakeExtractor{}, nil, nil), "/api/scrape", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScrape_RenderSwitches(t *testing.T) {
	for _, body := range []string{
		`{"url":"https://example.com","selector":"h1","usePuppeteer":true}`,
		`{"url":"https://example.com","selector":"h1","renderJs":true}`,
	} {
		ex := &fakeExtractor{res: success("x")}
		w := postJSON(t, scrapeEngine(ex, nil, nil), "/api/scrape", body)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, ex.calls[0].RenderJS, body)
	}
}

func TestScrape_StoreFailureDoesNotAbort(t *testing.T) {
	ex := &fakeExtractor{res: success("Hello")}

	w := postJSON(t, scrapeEngine(ex, failingStore{}, nil), "/api/scrape", `{"url":"https://example.com","selector":"h1"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.ScrapeResponse](t, w).Success)
}

func TestScrape_Cache(t *testing.T) {
	ex := &fakeExtractor{res: success("Hello")}
	cc := cache.New(10)
	t.Cleanup(cc.Close)
	db := memStore(t)
	r := scrapeEngine(ex, db, cc)
	body := `{"url":"https://example.com","selector":"h1","maxAge":60000}`

	first := decode[models.ScrapeResponse](t, postJSON(t, r, "/api/scrape", body))
	second := decode[models.ScrapeResponse](t, postJSON(t, r, "/api/scrape", body))

	assert.Equal(t, "miss", first.CacheStatus)
	assert.Equal(t, "hit", second.CacheStatus)
	assert.Equal(t, "Hello", second.Content[0].Text)
	assert.Equal(t, 1, ex.count())

	// The cache hit is still a recorded attempt.
	recs, err := db.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, models.StatusSuccess, rec.Status)
		assert.Contains(t, string(rec.Content), "Hello")
	}

	// Without maxAge the cache is bypassed.
	postJSON(t, r, "/api/scrape", `{"url":"https://example.com","selector":"h1"}`)
	assert.Equal(t, 2, ex.count())
}

func TestScrape_FailuresNotCached(t *testing.T) {
	ex := &fakeExtractor{res: failure(models.ErrCodeNoMatch, models.MsgNoElements)}
	cc := cache.New(10)
	t.Cleanup(cc.Close)
	r := scrapeEngine(ex, nil, cc)
	body := `{"url":"https://example.com","selector":".missing","maxAge":60000}`

	postJSON(t, r, "/api/scrape", body)
	postJSON(t, r, "/api/scrape", body)

	assert.Equal(t, 2, ex.count())
}

func historyEngine(h History) *gin.Engine {
	r := gin.New()
	r.GET("/api/history", ListHistory(h))
	r.GET("/api/data", LegacyData(h))
	r.DELETE("/api/history/:id", DeleteHistory(h))
	return r
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func seed(t *testing.T, db *store.Store, n int) []int64 {
	t.Helper()
	ids := make([]int64, n)
	for i := range ids {
		id, err := db.Insert(context.Background(), store.Record{
			URL: "https://example.com", Selector: "h1", SelectorType: "css",
			Content: []models.ExtractedElement{{Text: "Hello", Attributes: map[string]string{}}},
			Status:  models.StatusSuccess,
		})
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func TestListHistory(t *testing.T) {
	db := memStore(t)
	seed(t, db, 3)
	r := historyEngine(db)

	w := do(r, http.MethodGet, "/api/history")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.HistoryResponse](t, w)
	assert.True(t, resp.Success)
	require.Len(t, resp.Data, 3)

	// content is returned as decoded JSON, not a string.
	var elems []models.ExtractedElement
	require.NoError(t, json.Unmarshal(resp.Data[0].Content, &elems))
	assert.Equal(t, "Hello", elems[0].Text)

	w = do(r, http.MethodGet, "/api/history?limit=2")
	assert.Len(t, decode[models.HistoryResponse](t, w).Data, 2)

	w = do(r, http.MethodGet, "/api/history?limit=abc")
	assert.Len(t, decode[models.HistoryResponse](t, w).Data, 3)
}

func TestListHistory_EmptyIsArray(t *testing.T) {
	w := do(historyEngine(memStore(t)), http.MethodGet, "/api/history")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, w.Body.String())
}

func TestListHistory_StoreError(t *testing.T) {
	w := do(historyEngine(failingStore{}), http.MethodGet, "/api/history")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to retrieve scraping history", decode[models.HistoryResponse](t, w).Error)
}

func TestLegacyData(t *testing.T) {
	db := memStore(t)
	seed(t, db, 2)

	w := do(historyEngine(db), http.MethodGet, "/api/data")
	require.Equal(t, http.StatusOK, w.Code)
	records := decode[[]models.HistoryRecord](t, w)
	assert.Len(t, records, 2)
}

func TestDeleteHistory(t *testing.T) {
	db := memStore(t)
	ids := seed(t, db, 1)
	r := historyEngine(db)

	w := do(r, http.MethodDelete, "/api/history/abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid ID provided", decode[models.MessageResponse](t, w).Error)

	w = do(r, http.MethodDelete, "/api/history/999")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Record not found", decode[models.MessageResponse](t, w).Error)

	w = do(r, http.MethodDelete, "/api/history/"+strconv.FormatInt(ids[0], 10))
	require.Equal(t, http.StatusOK, w.Code)
	msg := decode[models.MessageResponse](t, w)
	assert.True(t, msg.Success)
	assert.Equal(t, "Record deleted successfully", msg.Message)

	w = do(r, http.MethodDelete, "/api/history/"+strconv.FormatInt(ids[0], 10))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistoryLimit(t *testing.T) {
	assert.Equal(t, 50, historyLimit(""))
	assert.Equal(t, 50, historyLimit("0"))
	assert.Equal(t, 50, historyLimit("-3"))
	assert.Equal(t, 7, historyLimit("7"))
	assert.Equal(t, 500, historyLimit("100000"))
}

type pingErr struct{ err error }

func (p pingErr) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	for _, tt := range []struct {
		pinger Pinger
		status string
	}{
		{nil, "healthy"},
		{pingErr{}, "healthy"},
		{pingErr{errors.New("closed")}, "degraded"},
	} {
		r := gin.New()
		r.GET("/api/health", Health(tt.pinger, time.Now()))

		w := do(r, http.MethodGet, "/api/health")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[models.HealthResponse](t, w)
		assert.True(t, resp.Success)
		assert.Equal(t, tt.status, resp.Status)
		assert.Equal(t, Version, resp.Version)
	}
}
