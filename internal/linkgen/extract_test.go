package linkgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectLink(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
		ok   bool
	}{
		{
			name: "canonical short link",
			url:  "https://market.yandex.ru/cc/AbC123",
			want: "https://market.yandex.ru/cc/AbC123",
			ok:   true,
		},
		{
			name: "short link with query",
			url:  "https://market.yandex.ru/cc/x_Y-9?utm_source=share",
			want: "https://market.yandex.ru/cc/x_Y-9",
			ok:   true,
		},
		{
			name: "cc path on any host is normalized",
			url:  "https://m.market.yandex.ru/cc/zzz",
			want: "https://market.yandex.ru/cc/zzz",
			ok:   true,
		},
		{
			name: "product page has no code",
			url:  "https://market.yandex.ru/product--phone/123456",
			ok:   false,
		},
		{
			name: "empty",
			url:  "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DirectLink(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLinkFromJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{
			name: "top level shortUrl",
			body: `{"shortUrl":"https://market.yandex.ru/cc/abc"}`,
			want: "https://market.yandex.ru/cc/abc",
			ok:   true,
		},
		{
			name: "snake case",
			body: `{"short_url":"https://market.yandex.ru/cc/def"}`,
			want: "https://market.yandex.ru/cc/def",
			ok:   true,
		},
		{
			name: "nested under data",
			body: `{"data":{"shortUrl":"https://market.yandex.ru/cc/ghi"}}`,
			want: "https://market.yandex.ru/cc/ghi",
			ok:   true,
		},
		{
			name: "nested under result",
			body: `{"result":{"shortUrl":"https://market.yandex.ru/cc/jkl"}}`,
			want: "https://market.yandex.ru/cc/jkl",
			ok:   true,
		},
		{
			name: "deeply nested arbitrary key",
			body: `{"a":{"b":[{"c":"прислали ссылку https://market.yandex.ru/cc/mno смотри"}]}}`,
			want: "https://market.yandex.ru/cc/mno",
			ok:   true,
		},
		{
			name: "array root",
			body: `[{"link":"https://market.yandex.ru/cc/pqr?src=x"}]`,
			want: "https://market.yandex.ru/cc/pqr",
			ok:   true,
		},
		{
			name: "url key without partner link is skipped",
			body: `{"url":"https://market.yandex.ru/product--x/1"}`,
			ok:   false,
		},
		{
			name: "not json",
			body: `<html></html>`,
			ok:   false,
		},
		{
			name: "no link anywhere",
			body: `{"status":"ok","count":3}`,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := linkFromJSON([]byte(tt.body))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLinkFromJSONDepthCap(t *testing.T) {
	// Build a document nested past the search depth cap.
	inner := `"https://market.yandex.ru/cc/deep"`
	for i := 0; i < 15; i++ {
		inner = `{"k":` + inner + `}`
	}
	_, ok := linkFromJSON([]byte(inner))
	assert.False(t, ok)
}

func TestLinkFromHTML(t *testing.T) {
	t.Run("anchor href", func(t *testing.T) {
		html := `<html><body><a href="https://market.yandex.ru/cc/aaa?ref=1">share</a></body></html>`
		got, ok := linkFromHTML(strings.NewReader(html))
		assert.True(t, ok)
		assert.Equal(t, "https://market.yandex.ru/cc/aaa", got)
	})

	t.Run("meta content", func(t *testing.T) {
		html := `<html><head><meta property="og:url" content="https://market.yandex.ru/cc/bbb"></head></html>`
		got, ok := linkFromHTML(strings.NewReader(html))
		assert.True(t, ok)
		assert.Equal(t, "https://market.yandex.ru/cc/bbb", got)
	})

	t.Run("inline text", func(t *testing.T) {
		html := `<html><body><div>Ваша ссылка: https://market.yandex.ru/cc/ccc</div></body></html>`
		got, ok := linkFromHTML(strings.NewReader(html))
		assert.True(t, ok)
		assert.Equal(t, "https://market.yandex.ru/cc/ccc", got)
	})

	t.Run("no link", func(t *testing.T) {
		html := `<html><body><p>ничего</p></body></html>`
		_, ok := linkFromHTML(strings.NewReader(html))
		assert.False(t, ok)
	})
}

func TestMatchesAPIPattern(t *testing.T) {
	assert.True(t, matchesAPIPattern("https://market.yandex.ru/api/resolveSharingPopupV2"))
	assert.True(t, matchesAPIPattern("https://platform-api.yandex.ru/v1/links"))
	assert.True(t, matchesAPIPattern("https://market.yandex.ru/widget/share?id=1"))
	assert.False(t, matchesAPIPattern("https://market.yandex.ru/product--x/1"))
	assert.False(t, matchesAPIPattern("https://mc.yandex.ru/metrika/tag.js"))
}
