//go:build linux || darwin

package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/pluck/config"
	"github.com/use-agent/pluck/models"
)

// browserExtractor returns an Extractor driving a locally installed Chromium,
// recording every launched PID and how often each session was disposed.
func browserExtractor(t *testing.T) (*Extractor, func() (pids []int, disposals int)) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in -short mode")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chromium binary found")
	}

	ex := newTestExtractor()
	ex.browserCfg.BrowserBin = bin

	var mu sync.Mutex
	var pids []int
	disposals := 0
	ex.launch = func(ctx context.Context, cfg config.BrowserConfig) (*session, error) {
		s, err := launchBrowser(ctx, cfg)
		if s != nil {
			dispose := s.dispose
			mu.Lock()
			pids = append(pids, s.pid)
			mu.Unlock()
			s.dispose = func() {
				dispose()
				mu.Lock()
				disposals++
				mu.Unlock()
			}
		}
		return s, err
	}
	return ex, func() ([]int, int) {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), pids...), disposals
	}
}

func assertProcessGone(t *testing.T, pid int) {
	t.Helper()
	if pid == 0 {
		return
	}
	require.Eventually(t, func() bool {
		return syscall.Kill(pid, 0) != nil
	}, 5*time.Second, 50*time.Millisecond, "browser process %d still running", pid)
}

func scriptedPage(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>
<h1 class="title">Hello</h1>
<div id="late"></div>
<script>
setTimeout(() => {
	const p = document.createElement('p');
	p.className = 'late';
	p.textContent = 'rendered';
	document.getElementById('late').appendChild(p);
}, 10);
</script>
</body></html>`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBrowser_CSSAfterScripts(t *testing.T) {
	ex, stats := browserExtractor(t)
	srv := scriptedPage(t)

	res := ex.Extract(context.Background(), models.ExtractionRequest{
		URL: srv.URL, Selector: "p.late", SelectorType: "css", RenderJS: true,
	})

	require.True(t, res.OK(), "unexpected failure: %s", res.Reason())
	assert.Equal(t, MethodBrowser, res.Method)
	assert.Equal(t, "rendered", res.Elements[0].Text)
	assert.Equal(t, "P", res.Elements[0].TagName)
	assert.Equal(t, "late", res.Elements[0].Attributes["class"])

	pids, disposals := stats()
	assert.Equal(t, 1, disposals)
	for _, pid := range pids {
		assertProcessGone(t, pid)
	}
}

func TestBrowser_XPath(t *testing.T) {
	ex, stats := browserExtractor(t)
	srv := scriptedPage(t)

	res := ex.Extract(context.Background(), models.ExtractionRequest{
		URL: srv.URL, Selector: "//h1[@class='title']", SelectorType: "xpath",
	})

	require.True(t, res.OK(), "unexpected failure: %s", res.Reason())
	assert.Equal(t, 1, res.Count())
	assert.Equal(t, "Hello", res.Elements[0].Text)
	assert.Equal(t, "H1", res.Elements[0].TagName)

	_, disposals := stats()
	assert.Equal(t, 1, disposals)
}

func TestBrowser_NoMatchStillDisposes(t *testing.T) {
	ex, stats := browserExtractor(t)
	srv := scriptedPage(t)

	res := ex.Extract(context.Background(), models.ExtractionRequest{
		URL: srv.URL, Selector: ".missing", SelectorType: "css", RenderJS: true,
	})

	require.False(t, res.OK())
	assert.Equal(t, models.MsgNoElements, res.Reason())

	pids, disposals := stats()
	assert.Equal(t, 1, disposals)
	for _, pid := range pids {
		assertProcessGone(t, pid)
	}
}

func TestBrowser_CancelledDuringSettleDisposes(t *testing.T) {
	ex, stats := browserExtractor(t)
	ex.cfg.SettleDelay = 10 * time.Second
	srv := scriptedPage(t)

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	res := ex.Extract(ctx, models.ExtractionRequest{
		URL: srv.URL, Selector: "h1", SelectorType: "css", RenderJS: true,
	})

	require.False(t, res.OK())
	assert.Equal(t, models.ErrCodeTimeout, res.Failure.Code)

	pids, disposals := stats()
	assert.Equal(t, 1, disposals)
	for _, pid := range pids {
		assertProcessGone(t, pid)
	}
}
