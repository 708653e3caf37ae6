package replay

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"
)

// Template is a captured request that previously produced a short link.
// Reissuing it skips full browser automation.
type Template struct {
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers"`
	Body     string            `json:"body,omitempty"`
	CachedAt time.Time         `json:"cached_at"`
}

// Cache is a bounded, TTL-evicting template store shared by all workers.
// It persists to a JSON snapshot so replay templates survive restarts;
// durability is best-effort.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*Template
	maxEntries int
	ttl        time.Duration
	path       string
	now        func() time.Time
}

func NewCache(maxEntries int, ttl time.Duration, snapshotPath string) *Cache {
	return &Cache{
		entries:    make(map[string]*Template),
		maxEntries: maxEntries,
		ttl:        ttl,
		path:       snapshotPath,
		now:        time.Now,
	}
}

// KeyFor derives the cache key from a product URL: host plus path, query
// stripped, so variants of the same product page share a template.
func KeyFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host + u.Path
}

// Get returns the template for url, or nil. Expired entries are evicted
// on read.
func (c *Cache) Get(rawURL string) *Template {
	key := KeyFor(rawURL)

	c.mu.RLock()
	t, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	if c.now().Sub(t.CachedAt) > c.ttl {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have
		// refreshed the entry.
		if cur, ok := c.entries[key]; ok && c.now().Sub(cur.CachedAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil
	}

	return t
}

// Put stores a template for url, evicting the oldest entry when full.
func (c *Cache) Put(rawURL string, t *Template) {
	if t == nil {
		return
	}
	if t.CachedAt.IsZero() {
		t.CachedAt = c.now()
	}

	key := KeyFor(rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = t
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, t := range c.entries {
		if oldestKey == "" || t.CachedAt.Before(oldest) {
			oldestKey = k
			oldest = t.CachedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Save writes the current entries to the snapshot file.
func (c *Cache) Save() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal replay cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write replay snapshot: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// Load replaces the current entries with the snapshot contents. Entries
// already past their TTL are dropped during load. A missing snapshot is
// not an error.
func (c *Cache) Load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read replay snapshot: %w", err)
	}

	entries := make(map[string]*Template)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse replay snapshot: %w", err)
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Template, len(entries))
	for k, t := range entries {
		if now.Sub(t.CachedAt) <= c.ttl {
			c.entries[k] = t
		}
	}
	return nil
}
