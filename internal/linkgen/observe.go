package linkgen

import (
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/avolkov/market-linkgen/internal/replay"
)

// networkEvent is a single observed request/response pair, kept for
// debug artifacts when a job fails.
type networkEvent struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Status int    `json:"status,omitempty"`
}

// observer watches a page's network traffic for share-API calls. It
// records a replay template for the first request whose response yields
// a short link, so the next job for the same product can skip the
// browser entirely.
type observer struct {
	mu       sync.Mutex
	link     string
	template *replay.Template
	pending  map[string]*replay.Template // keyed by request URL
	events   []networkEvent
}

func newObserver() *observer {
	return &observer{pending: make(map[string]*replay.Template)}
}

// attach installs the request/response hooks on a page. Hooks run on
// playwright's event goroutine, hence the mutex.
func (o *observer) attach(page playwright.Page) {
	page.OnRequest(func(req playwright.Request) {
		url := req.URL()
		if !matchesAPIPattern(url) {
			return
		}
		tpl := &replay.Template{
			Method:  req.Method(),
			URL:     url,
			Headers: req.Headers(),
		}
		if body, err := req.PostData(); err == nil {
			tpl.Body = body
		}
		o.mu.Lock()
		o.pending[url] = tpl
		o.events = append(o.events, networkEvent{Method: tpl.Method, URL: url})
		o.mu.Unlock()
	})

	page.OnResponse(func(resp playwright.Response) {
		url := resp.URL()
		if !matchesAPIPattern(url) {
			return
		}
		o.mu.Lock()
		for i := len(o.events) - 1; i >= 0; i-- {
			if o.events[i].URL == url && o.events[i].Status == 0 {
				o.events[i].Status = resp.Status()
				break
			}
		}
		done := o.link != ""
		o.mu.Unlock()
		if done || resp.Status() >= 400 {
			return
		}

		body, err := resp.Text()
		if err != nil {
			return
		}
		link, ok := linkFromJSON([]byte(body))
		if !ok {
			link, ok = linkFromText(body)
		}
		if !ok {
			return
		}

		o.mu.Lock()
		if o.link == "" {
			o.link = link
			if tpl := o.pending[url]; tpl != nil {
				tpl.CachedAt = time.Now()
				o.template = tpl
			}
		}
		o.mu.Unlock()
	})
}

// result returns the captured link and its template, if any.
func (o *observer) result() (string, *replay.Template) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.link, o.template
}

func (o *observer) networkLog() []networkEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]networkEvent, len(o.events))
	copy(out, o.events)
	return out
}

// await polls for a captured link until the deadline. Playwright event
// hooks have no completion signal, so a short poll loop is the simplest
// way to wait for the share API to fire.
func (o *observer) await(timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		o.mu.Lock()
		link := o.link
		o.mu.Unlock()
		if link != "" {
			return link, true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return "", false
}
