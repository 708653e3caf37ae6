package linkgen

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/avolkov/market-linkgen/internal/browserpool"
	"github.com/avolkov/market-linkgen/internal/linkerr"
	"github.com/avolkov/market-linkgen/internal/pacing"
	"github.com/avolkov/market-linkgen/internal/proxy"
	"github.com/avolkov/market-linkgen/internal/replay"
)

// Source names the path that produced a short link.
type Source string

const (
	SourceDirect      Source = "direct"
	SourceReplay      Source = "replay"
	SourceObserved    Source = "observed"
	SourceInteraction Source = "interaction"
)

type Options struct {
	DebugDir   string
	NavTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		DebugDir:   "debug",
		NavTimeout: 60 * time.Second,
	}
}

// Request is one unit of link-generation work.
type Request struct {
	JobID string
	URL   string
	// SessionRef names a saved storage state to seed the browser
	// context from, forcing a fresh context bound to that session.
	SessionRef string
	// Debug enables debug artifacts (HTML, screenshot, network log)
	// for this request when the engine has a debug directory.
	Debug bool
}

type Result struct {
	ShortLink string
	Source    Source
}

// Engine turns a product URL into a short partner link, cheapest path
// first: direct extraction, replay of a captured API call, passive
// network observation, and finally driving the share UI by hand.
type Engine struct {
	pool    *browserpool.Pool
	cache   *replay.Cache
	proxies *proxy.Selector
	pacer   *pacing.Pacer
	opts    Options
	logger  *slog.Logger
}

func NewEngine(pool *browserpool.Pool, cache *replay.Cache, proxies *proxy.Selector, pacer *pacing.Pacer, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		pool:    pool,
		cache:   cache,
		proxies: proxies,
		pacer:   pacer,
		opts:    opts,
		logger:  logger.With("component", "linkgen_engine"),
	}
}

// Generate produces a short link for req.URL. Errors carry the job id,
// the failure kind and, when a browser was involved, a debug artifact
// path.
func (e *Engine) Generate(ctx context.Context, req Request) (*Result, error) {
	log := e.logger.With("job_id", req.JobID)

	if link, ok := DirectLink(req.URL); ok {
		log.Info("url already carries a partner code", "short_link", link)
		return &Result{ShortLink: link, Source: SourceDirect}, nil
	}

	if tpl := e.cache.Get(req.URL); tpl != nil {
		px := e.nextProxy()
		link, err := e.replayTemplate(ctx, tpl, px)
		if err == nil {
			log.Info("short link via replay", "short_link", link)
			return &Result{ShortLink: link, Source: SourceReplay}, nil
		}
		log.Warn("replay fast path failed, falling back to browser", "error", err)
	}

	return e.generateViaBrowser(ctx, req, log)
}

func (e *Engine) nextProxy() *proxy.Info {
	if e.proxies == nil {
		return nil
	}
	return e.proxies.Next()
}

func (e *Engine) reportProxy(px *proxy.Info, success bool, latency time.Duration) {
	if e.proxies == nil || px == nil {
		return
	}
	e.proxies.Report(px, success, latency)
}

func (e *Engine) generateViaBrowser(ctx context.Context, req Request, log *slog.Logger) (*Result, error) {
	if err := e.pacer.Wait(ctx); err != nil {
		return nil, linkerr.Wrap(linkerr.Classify(err), "cancelled before navigation", err).WithJob(req.JobID, req.URL)
	}

	bctx, err := e.pool.Acquire(req.SessionRef, e.nextProxy())
	if err != nil {
		return nil, linkerr.Wrap(linkerr.Classify(err), "failed to acquire browser context", err).WithJob(req.JobID, req.URL)
	}
	start := time.Now()

	page, err := bctx.Handle().NewPage()
	if err != nil {
		e.pool.Release(bctx, false)
		return nil, linkerr.Wrap(linkerr.Classify(err), "failed to open page", err).WithJob(req.JobID, req.URL)
	}

	obs := newObserver()
	obs.attach(page)

	link, src, genErr := e.driveBrowser(ctx, req, page, obs, log)
	latency := time.Since(start)

	if genErr != nil {
		var debugPath string
		if req.Debug {
			debugPath = e.saveDebugArtifacts(req.JobID, page, obs)
		}
		page.Close()
		e.pool.Release(bctx, false)
		e.reportProxy(bctx.Proxy, false, latency)

		var le *linkerr.Error
		if !errors.As(genErr, &le) {
			le = linkerr.Wrap(linkerr.Classify(genErr), "link generation failed", genErr)
		}
		le = le.WithJob(req.JobID, req.URL)
		if debugPath != "" {
			le = le.WithDebugPath(debugPath)
		}
		return nil, le
	}

	if _, tpl := obs.result(); tpl != nil {
		e.cache.Put(req.URL, tpl)
	}
	if err := bctx.SaveStorageState(req.JobID + "_success.json"); err != nil {
		log.Warn("failed to persist session state", "error", err)
	}

	page.Close()
	e.pool.Release(bctx, true)
	e.reportProxy(bctx.Proxy, true, latency)

	log.Info("short link generated", "short_link", link, "source", string(src), "duration", latency.String())
	return &Result{ShortLink: link, Source: src}, nil
}

// driveBrowser navigates to the product page and tries the passive and
// active paths in order.
func (e *Engine) driveBrowser(ctx context.Context, req Request, page playwright.Page, obs *observer, log *slog.Logger) (string, Source, error) {
	if _, err := page.Goto(req.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(e.opts.NavTimeout.Milliseconds())),
	}); err != nil {
		return "", "", linkerr.Wrap(linkerr.Classify(err), "navigation failed", err)
	}

	if err := detectBlocked(page); err != nil {
		return "", "", err
	}

	if err := pacing.Sleep(ctx, pacing.NetworkWait()); err != nil {
		return "", "", linkerr.Wrap(linkerr.Classify(err), "cancelled while settling", err)
	}

	// Some layouts fire the share API during initial render; if the
	// observer already has the link there is nothing to click.
	if link, _ := obs.result(); link != "" {
		return link, SourceObserved, nil
	}

	link, err := e.interact(ctx, page, obs)
	if err != nil {
		return "", "", err
	}
	log.Debug("share flow completed")
	return link, SourceInteraction, nil
}

// detectBlocked recognizes the storefront's bot wall and CAPTCHA pages.
// Solving is never attempted; the breaker handles backing off.
func detectBlocked(page playwright.Page) error {
	url := strings.ToLower(page.URL())
	if strings.Contains(url, "showcaptcha") || strings.Contains(url, "/captcha") {
		return linkerr.New(linkerr.KindCaptcha, "redirected to captcha page")
	}

	title, err := page.Title()
	if err == nil {
		lower := strings.ToLower(title)
		if strings.Contains(lower, "robot") || strings.Contains(title, "Ой!") {
			return linkerr.New(linkerr.KindCaptcha, "bot wall page detected")
		}
	}

	count, err := page.Locator(`form[action*="captcha"], div.CheckboxCaptcha`).Count()
	if err == nil && count > 0 {
		return linkerr.New(linkerr.KindCaptcha, "captcha challenge rendered on page")
	}
	return nil
}
