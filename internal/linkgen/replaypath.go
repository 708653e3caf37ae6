package linkgen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avolkov/market-linkgen/internal/linkerr"
	"github.com/avolkov/market-linkgen/internal/proxy"
	"github.com/avolkov/market-linkgen/internal/replay"
)

const (
	replayTimeout     = 15 * time.Second
	maxReplayBodySize = 2 << 20
)

// Headers that describe the original connection, not the request, and
// must not be copied onto a reissued one.
var hopByHopHeaders = map[string]bool{
	"content-length":    true,
	"connection":        true,
	"transfer-encoding": true,
	"keep-alive":        true,
	"upgrade":           true,
	"host":              true,
}

// replayTemplate reissues a captured share-API request over plain HTTP,
// optionally through px, and extracts the short link from the response.
func (e *Engine) replayTemplate(ctx context.Context, tpl *replay.Template, px *proxy.Info) (string, error) {
	var body io.Reader
	if tpl.Body != "" {
		body = strings.NewReader(tpl.Body)
	}

	req, err := http.NewRequestWithContext(ctx, tpl.Method, tpl.URL, body)
	if err != nil {
		return "", linkerr.Wrap(linkerr.KindConfiguration, "invalid replay template", err)
	}
	for k, v := range tpl.Headers {
		if hopByHopHeaders[strings.ToLower(k)] {
			continue
		}
		req.Header.Set(k, v)
	}

	client := e.replayClient(px)
	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if px != nil {
			e.proxies.Report(px, false, latency)
		}
		return "", linkerr.Wrap(linkerr.Classify(err), "replay request failed", err)
	}
	defer resp.Body.Close()

	if px != nil {
		e.proxies.Report(px, resp.StatusCode < 400, latency)
	}

	// 3xx responses carry the short link in Location.
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); loc != "" {
			if link, ok := linkFromText(loc); ok {
				return link, nil
			}
		}
	}

	if resp.StatusCode >= 400 {
		return "", linkerr.NewHTTP(resp.StatusCode, fmt.Sprintf("replay returned %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplayBodySize))
	if err != nil {
		return "", linkerr.Wrap(linkerr.KindNetwork, "failed to read replay response", err)
	}

	if link, ok := linkFromJSON(raw); ok {
		return link, nil
	}
	if link, ok := linkFromHTML(strings.NewReader(string(raw))); ok {
		return link, nil
	}
	return "", linkerr.New(linkerr.KindParsing, "replay response contained no short link")
}

// replayClient builds an HTTP client that never follows redirects (the
// Location header is the payload) and routes through px when given.
func (e *Engine) replayClient(px *proxy.Info) *http.Client {
	transport := &http.Transport{}
	if px != nil {
		if u, err := url.Parse(px.URL()); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Timeout:   replayTimeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
