package replay

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"strips query", "https://market.yandex.ru/product/123?from=search", "market.yandex.ru/product/123"},
		{"keeps path", "https://market.yandex.ru/api/share", "market.yandex.ru/api/share"},
		{"unparseable passthrough", "not a url", "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KeyFor(tt.input))
		})
	}
}

func TestPutThenGet(t *testing.T) {
	c := NewCache(10, time.Hour, filepath.Join(t.TempDir(), "snap.json"))

	tpl := &Template{Method: "POST", URL: "https://market.yandex.ru/api/share"}
	c.Put("https://market.yandex.ru/product/1", tpl)

	got := c.Get("https://market.yandex.ru/product/1")
	require.NotNil(t, got)
	assert.Equal(t, tpl.URL, got.URL)

	// Query variants of the same page hit the same entry.
	assert.NotNil(t, c.Get("https://market.yandex.ru/product/1?utm=x"))
}

func TestGetMiss(t *testing.T) {
	c := NewCache(10, time.Hour, filepath.Join(t.TempDir(), "snap.json"))
	assert.Nil(t, c.Get("https://market.yandex.ru/product/none"))
}

func TestTTLEvictionOnRead(t *testing.T) {
	c := NewCache(10, time.Hour, filepath.Join(t.TempDir(), "snap.json"))

	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("https://market.yandex.ru/product/1", &Template{Method: "GET", URL: "u"})
	require.NotNil(t, c.Get("https://market.yandex.ru/product/1"))

	// Advance past the TTL without any further Put.
	now = now.Add(time.Hour + time.Minute)
	assert.Nil(t, c.Get("https://market.yandex.ru/product/1"))
	assert.Equal(t, 0, c.Len())
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := NewCache(2, time.Hour, filepath.Join(t.TempDir(), "snap.json"))

	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("https://m.ru/a", &Template{Method: "GET", URL: "a"})
	now = now.Add(time.Minute)
	c.Put("https://m.ru/b", &Template{Method: "GET", URL: "b"})
	now = now.Add(time.Minute)
	c.Put("https://m.ru/c", &Template{Method: "GET", URL: "c"})

	assert.Equal(t, 2, c.Len())
	assert.Nil(t, c.Get("https://m.ru/a"), "oldest entry must be evicted")
	assert.NotNil(t, c.Get("https://m.ru/b"))
	assert.NotNil(t, c.Get("https://m.ru/c"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")

	c := NewCache(10, time.Hour, path)
	c.Put("https://m.ru/a", &Template{
		Method:  "POST",
		URL:     "https://m.ru/api/share",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    `{"sku":"a"}`,
	})
	require.NoError(t, c.Save())

	restored := NewCache(10, time.Hour, path)
	require.NoError(t, restored.Load())

	got := restored.Get("https://m.ru/a")
	require.NotNil(t, got)
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, `{"sku":"a"}`, got.Body)
}

func TestLoadDropsExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")

	c := NewCache(10, time.Hour, path)
	c.Put("https://m.ru/a", &Template{
		Method:   "GET",
		URL:      "u",
		CachedAt: time.Now().Add(-2 * time.Hour),
	})
	require.NoError(t, c.Save())

	restored := NewCache(10, time.Hour, path)
	require.NoError(t, restored.Load())
	assert.Equal(t, 0, restored.Len())
}

func TestLoadMissingSnapshot(t *testing.T) {
	c := NewCache(10, time.Hour, filepath.Join(t.TempDir(), "missing.json"))
	assert.NoError(t, c.Load())
}
