package browserpool

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/avolkov/market-linkgen/internal/proxy"
)

// Context is a pooled browser session: cookies, fingerprint and user
// agent bound together. A context is checked out to exactly one engine
// invocation at a time.
type Context struct {
	handle      playwright.BrowserContext
	Fingerprint Fingerprint
	// Proxy is the egress proxy this session is bound to, nil when the
	// context connects directly. Cookies and the proxy move together so
	// a reused session keeps a consistent origin.
	Proxy      *proxy.Info
	CreatedAt  time.Time
	LastUsedAt time.Time
	UseCount   int
}

// Handle exposes the underlying playwright context for page creation.
func (c *Context) Handle() playwright.BrowserContext {
	return c.handle
}

// SaveStorageState persists cookies and local storage so a later job can
// reuse the session via Options.StorageStateDir references.
func (c *Context) SaveStorageState(path string) error {
	if c.handle == nil {
		return fmt.Errorf("context has no handle")
	}
	if _, err := c.handle.StorageState(path); err != nil {
		return fmt.Errorf("failed to save storage state: %w", err)
	}
	return nil
}

func (c *Context) close() {
	if c.handle != nil {
		c.handle.Close()
	}
}

type Options struct {
	Headless        bool
	PoolSize        int
	ContextTTL      time.Duration
	ContextMaxUses  int
	StorageStateDir string
	Locale          string
	TimezoneID      string
}

func DefaultOptions() Options {
	return Options{
		Headless:        true,
		PoolSize:        2,
		ContextTTL:      15 * time.Minute,
		ContextMaxUses:  20,
		StorageStateDir: "storage_states",
		Locale:          "ru-RU",
		TimezoneID:      "Europe/Moscow",
	}
}

// Chromium flags that hide the automation surface the target sniffs for.
var launchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-dev-shm-usage",
	"--no-sandbox",
	"--lang=ru-RU,ru",
	"--disable-infobars",
	"--exclude-switches=enable-automation",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
}

const stealthInitScript = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

type contextFactory func(fp Fingerprint, stateRef, proxyURL string) (playwright.BrowserContext, error)

// Pool owns one launched browser and a small set of reusable contexts.
// Acquire/release are mutually exclusive per context.
type Pool struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	idle    []*Context
	opts    Options
	logger  *slog.Logger
	factory contextFactory
	now     func() time.Time
	closed  bool
}

func New(opts Options, logger *slog.Logger) (*Pool, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     launchArgs,
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	if opts.StorageStateDir != "" {
		if err := os.MkdirAll(opts.StorageStateDir, 0755); err != nil {
			browser.Close()
			pw.Stop()
			return nil, fmt.Errorf("failed to create storage state dir: %w", err)
		}
	}

	p := &Pool{
		pw:      pw,
		browser: browser,
		opts:    opts,
		logger:  logger.With("component", "browser_pool"),
		now:     time.Now,
	}
	p.factory = p.newBrowserContext
	return p, nil
}

func (p *Pool) newBrowserContext(fp Fingerprint, stateRef, proxyURL string) (playwright.BrowserContext, error) {
	ctxOpts := playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(fp.UserAgent),
		Viewport: &playwright.Size{
			Width:  fp.ViewportWidth,
			Height: fp.ViewportHeight,
		},
		Locale:     playwright.String(p.opts.Locale),
		TimezoneId: playwright.String(p.opts.TimezoneID),
		Permissions: []string{
			"clipboard-read",
			"clipboard-write",
		},
	}

	if proxyURL != "" {
		ctxOpts.Proxy = &playwright.Proxy{Server: proxyURL}
	}

	if stateRef != "" {
		statePath := filepath.Join(p.opts.StorageStateDir, stateRef)
		if _, err := os.Stat(statePath); err == nil {
			ctxOpts.StorageStatePath = playwright.String(statePath)
		} else {
			p.logger.Warn("requested storage state not found", "ref", stateRef)
		}
	}

	bctx, err := p.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if err := bctx.AddInitScript(playwright.Script{
		Content: playwright.String(stealthInitScript),
	}); err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to install init script: %w", err)
	}

	return bctx, nil
}

// Acquire returns a context for exclusive use. A preferred session ref
// forces a fresh context seeded from that saved storage state; otherwise
// a healthy idle context is reused when available. px binds the egress
// proxy for freshly created contexts; reused contexts keep their own.
func (p *Pool) Acquire(preferredSessionRef string, px *proxy.Info) (*Context, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}

	if preferredSessionRef == "" {
		for len(p.idle) > 0 {
			c := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			if p.expiredLocked(c) {
				p.mu.Unlock()
				c.close()
				p.mu.Lock()
				continue
			}
			c.UseCount++
			c.LastUsedAt = p.now()
			p.mu.Unlock()
			p.logger.Debug("reusing pooled context", "use_count", c.UseCount)
			return c, nil
		}
	}
	p.mu.Unlock()

	fp := RandomFingerprint()
	proxyURL := ""
	if px != nil {
		proxyURL = px.URL()
	}
	handle, err := p.factory(fp, preferredSessionRef, proxyURL)
	if err != nil {
		return nil, err
	}

	now := p.now()
	c := &Context{
		handle:      handle,
		Fingerprint: fp,
		Proxy:       px,
		CreatedAt:   now,
		LastUsedAt:  now,
		UseCount:    1,
	}
	p.logger.Debug("created fresh context", "user_agent", fp.UserAgent)
	return c, nil
}

// Release returns a context to the pool. Contexts released as unhealthy,
// expired, or beyond pool capacity are torn down.
func (p *Pool) Release(c *Context, reusable bool) {
	if c == nil {
		return
	}

	p.mu.Lock()
	keep := reusable && !p.closed && !p.expiredLocked(c) && len(p.idle) < p.opts.PoolSize
	if keep {
		p.idle = append(p.idle, c)
	}
	p.mu.Unlock()

	if !keep {
		c.close()
		p.logger.Debug("context retired", "use_count", c.UseCount, "age", p.now().Sub(c.CreatedAt).String())
	}
}

func (p *Pool) expiredLocked(c *Context) bool {
	if c.UseCount >= p.opts.ContextMaxUses {
		return true
	}
	return p.now().Sub(c.CreatedAt) > p.opts.ContextTTL
}

// Close tears down all idle contexts and the browser itself. In-flight
// contexts are closed by their holders via Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, c := range idle {
		c.close()
	}

	var errs []error
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if p.pw != nil {
		if err := p.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during pool close: %v", errs)
	}
	return nil
}
