package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/pluck/config"
	"github.com/use-agent/pluck/models"
	"github.com/ysmood/gson"
)

// session is one private browser process. dispose must tolerate being
// called on a partially started session.
type session struct {
	browser *rod.Browser
	pid     int
	dispose func()
}

// launchBrowser starts a fresh Chromium for a single call. On error the
// returned session (if non-nil) still owns whatever was started and must be
// disposed by the caller.
func launchBrowser(ctx context.Context, cfg config.BrowserConfig) (*session, error) {
	l := launcher.New().
		Context(ctx).
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox).
		Leakless(true)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-accelerated-2d-canvas"))
	l.Set(flags.Flag("disable-gpu"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("no-zygote"))

	s := &session{}
	var browser *rod.Browser
	s.dispose = func() {
		closed := false
		if browser != nil {
			if err := browser.Close(); err != nil {
				slog.Debug("browser close failed, killing process", "error", err)
			} else {
				closed = true
			}
		}
		// Cleanup blocks until the process exits, which only happens if it
		// was ever started. Kill sleeps before signalling, so it is reserved
		// for a browser that did not close cleanly.
		if l.PID() != 0 {
			if !closed {
				l.Kill()
			}
			l.Cleanup()
		}
	}

	controlURL, err := l.Launch()
	s.pid = l.PID()
	if err != nil {
		return s, models.NewScrapeError(models.ErrCodeRender, "failed to launch browser", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return s, models.NewScrapeError(models.ErrCodeRender, "failed to connect to browser", err)
	}
	browser = b
	s.browser = b
	return s, nil
}

// extractRendered is the JavaScript path. The browser is private to this
// call and is disposed on every return, including panics unwinding through
// here and caller cancellation.
func (e *Extractor) extractRendered(ctx context.Context, req models.ExtractionRequest) ([]models.ExtractedElement, error) {
	lc := newLifecycle(req.URL)
	defer lc.close()

	// ── Launching ───────────────────────────────────────────────────
	if err := lc.advance(stateLaunching); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeRender, "browser lifecycle error", err)
	}

	// Navigation timeout covers launch, page setup, navigation and network
	// idle. The settle delay and evaluation run under the caller's context.
	navCtx, navCancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	defer navCancel()

	sess, err := e.launch(navCtx, e.browserCfg)
	if sess != nil && sess.dispose != nil {
		lc.hold(sess.dispose)
	}
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeRender, "failed to launch browser")
	}

	page, err := sess.browser.Context(navCtx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeRender, "failed to open page")
	}
	if err := e.preparePage(page); err != nil {
		return nil, categorizeError(err, models.ErrCodeRender, "failed to configure page")
	}

	// ── NavigatingReady ─────────────────────────────────────────────
	if err := lc.advance(stateNavigating); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeRender, "browser lifecycle error", err)
	}

	// The idle waiter must be registered before Navigate or it misses the
	// requests already in flight and reports idle immediately.
	waitIdle := page.WaitRequestIdle(500*time.Millisecond, nil, nil, ignoredResourceTypes(e.cfg.IdleExemptResourceTypes))

	if err := page.Navigate(req.URL); err != nil {
		return nil, navigationError(err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, navigationError(err)
	}
	waitIdle()
	if err := navCtx.Err(); err != nil {
		return nil, categorizeError(err, models.ErrCodeRender, "navigation did not settle")
	}

	// ── Settling ────────────────────────────────────────────────────
	if err := lc.advance(stateSettling); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeRender, "browser lifecycle error", err)
	}
	settle := time.NewTimer(e.cfg.SettleDelay)
	select {
	case <-ctx.Done():
		settle.Stop()
		return nil, categorizeError(ctx.Err(), models.ErrCodeRender, "settle interrupted")
	case <-settle.C:
	}

	// ── Extracting ──────────────────────────────────────────────────
	if err := lc.advance(stateExtracting); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeRender, "browser lifecycle error", err)
	}
	selectorType := req.SelectorType
	if selectorType == "" {
		selectorType = models.SelectorCSS
	}
	res, err := page.Context(ctx).Eval(collectElementsJS, req.Selector, selectorType)
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeRender, "selector evaluation failed")
	}
	return decodeElements(res.Value)
}

// preparePage applies stealth, user agent and viewport before navigation.
func (e *Extractor) preparePage(page *rod.Page) error {
	if e.browserCfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      e.cfg.UserAgent,
		AcceptLanguage: "en-US,en;q=0.9",
	}); err != nil {
		return err
	}
	return page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             e.browserCfg.ViewportWidth,
		Height:            e.browserCfg.ViewportHeight,
		DeviceScaleFactor: 1,
	})
}

// navigationError separates "the site is unreachable" from browser faults.
func navigationError(err error) *models.ScrapeError {
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) {
		return models.NewScrapeError(models.ErrCodeNetwork, "navigation to target URL failed", err)
	}
	return categorizeError(err, models.ErrCodeRender, "navigation to target URL failed")
}

// configToProto maps human-readable config strings to Rod protocol resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// ignoredResourceTypes lists the resource types that do not hold back
// network idle. Unknown names are skipped.
func ignoredResourceTypes(names []string) []proto.NetworkResourceType {
	types := make([]proto.NetworkResourceType, 0, len(names))
	for _, name := range names {
		if rt, ok := configToProto[name]; ok {
			types = append(types, rt)
		}
	}
	return types
}

// collectElementsJS runs in the page. XPath results are an ordered snapshot;
// CSS results follow querySelectorAll document order.
const collectElementsJS = `(selector, selectorType) => {
	const nodes = [];
	if (selectorType === 'xpath') {
		const snap = document.evaluate(selector, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < snap.snapshotLength; i++) nodes.push(snap.snapshotItem(i));
	} else {
		document.querySelectorAll(selector).forEach((n) => nodes.push(n));
	}
	return nodes.map((el) => ({
		text: (el.textContent || '').trim(),
		html: el.innerHTML || '',
		tagName: el.tagName || '',
		attributes: Array.from(el.attributes || []).reduce((acc, a) => {
			acc[a.name] = a.value;
			return acc;
		}, {}),
	}));
}`

// decodeElements converts the evaluation result into ExtractedElements.
// rod hands over the raw CDP bytes; a JSON null decodes to no elements.
func decodeElements(v gson.JSON) ([]models.ExtractedElement, error) {
	var elems []models.ExtractedElement
	if err := json.Unmarshal([]byte(v.JSON("", "")), &elems); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeRender, "unexpected evaluation result", err)
	}
	for i := range elems {
		if elems[i].Attributes == nil {
			elems[i].Attributes = map[string]string{}
		}
	}
	return elems, nil
}
