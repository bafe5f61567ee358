package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	tls "github.com/refraction-networking/utls"
	"github.com/use-agent/pluck/models"
	"golang.org/x/net/html"
)

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only, since http.Transport cannot speak HTTP/2 over a utls connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// httpFetcher performs the static path's single GET with a Chrome TLS
// fingerprint and browser-like headers.
type httpFetcher struct {
	userAgent string
	maxBody   int64
	client    *http.Client
}

func newHTTPFetcher(userAgent string, maxBody int64) *httpFetcher {
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		DialTLSContext:    dialTLSChrome,
		ForceAttemptHTTP2: false,
	}
	return &httpFetcher{
		userAgent: userAgent,
		maxBody:   maxBody,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

// fetch retrieves targetURL and returns the body. Any status outside 2xx is
// a NETWORK_FAILURE carrying "HTTP <code>: <text>".
func (f *httpFetcher) fetch(ctx context.Context, targetURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "Invalid URL format", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeNetwork, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, models.NewScrapeError(models.ErrCodeNetwork,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)), nil)
	}

	// One byte past the cap tells an oversized page apart from one that fits.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeNetwork, "failed to read response body")
	}
	if int64(len(body)) > f.maxBody {
		return nil, models.NewScrapeError(models.ErrCodeNetwork,
			fmt.Sprintf("response body exceeds %d bytes", f.maxBody), nil)
	}
	return body, nil
}

// dialTLSChrome establishes a TLS connection using the Chrome fingerprint.
func dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
	if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// extractStatic is the no-JavaScript path: GET, parse, match.
func (e *Extractor) extractStatic(ctx context.Context, req models.ExtractionRequest) ([]models.ExtractedElement, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	body, err := e.fetcher.fetch(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	return matchHTML(body, req.Selector)
}

// matchHTML parses an HTML document and returns one element per node matched
// by the CSS selector, in document order.
func matchHTML(body []byte, selector string) ([]models.ExtractedElement, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "Invalid CSS selector format", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeNetwork, "failed to parse HTML", err)
	}

	var elems []models.ExtractedElement
	doc.FindMatcher(sel).Each(func(_ int, s *goquery.Selection) {
		elems = append(elems, newElement(s))
	})
	return elems, nil
}

// newElement converts a single-node selection into an ExtractedElement.
func newElement(s *goquery.Selection) models.ExtractedElement {
	inner, _ := s.Html()
	el := models.ExtractedElement{
		Text:       strings.TrimSpace(s.Text()),
		InnerHTML:  inner,
		Attributes: map[string]string{},
	}
	if n := s.Get(0); n != nil && n.Type == html.ElementNode {
		el.TagName = strings.ToUpper(n.Data)
		for _, a := range n.Attr {
			name := a.Key
			if a.Namespace != "" {
				name = a.Namespace + ":" + a.Key
			}
			el.Attributes[name] = a.Val
		}
	}
	return el
}
