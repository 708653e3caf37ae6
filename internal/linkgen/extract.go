package linkgen

import (
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Partner links have the shape https://market.yandex.ru/cc/<code>.
var (
	ccLinkPattern = regexp.MustCompile(`https?://market\.yandex\.ru/cc/[A-Za-z0-9_-]+`)
	ccCodePattern = regexp.MustCompile(`/cc/([A-Za-z0-9_-]+)`)
)

const partnerLinkBase = "https://market.yandex.ru/cc/"

// API endpoints the share flow is known to call. Ordered list kept as
// data so it can be tuned without touching the observation logic.
var apiPatterns = []string{
	"market.yandex.ru/api/",
	"platform-api.yandex.ru",
	"/share",
	"resolveSharingPopupV2",
	"resolve",
}

// DirectLink extracts the partner code when the input URL already embeds
// one, returning the canonical short link with no network activity.
func DirectLink(rawURL string) (string, bool) {
	m := ccCodePattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return partnerLinkBase + m[1], true
}

func matchesAPIPattern(url string) bool {
	for _, p := range apiPatterns {
		if strings.Contains(url, p) {
			return true
		}
	}
	return false
}

// linkFromText finds a partner link anywhere in s, query string stripped.
func linkFromText(s string) (string, bool) {
	m := ccLinkPattern.FindString(s)
	if m == "" {
		return "", false
	}
	return strings.SplitN(m, "?", 2)[0], true
}

// linkFromJSON extracts a short link from an API response body. Known
// keys are checked first, then the document is searched recursively with
// a depth cap.
func linkFromJSON(body []byte) (string, bool) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return "", false
	}

	if obj, ok := data.(map[string]any); ok {
		candidates := []any{
			obj["shortUrl"], obj["short_url"], obj["url"], obj["link"],
		}
		if nested, ok := obj["data"].(map[string]any); ok {
			candidates = append(candidates, nested["shortUrl"])
		}
		if nested, ok := obj["result"].(map[string]any); ok {
			candidates = append(candidates, nested["shortUrl"])
		}
		for _, c := range candidates {
			if s, ok := c.(string); ok {
				if link, ok := linkFromText(s); ok {
					return link, true
				}
			}
		}
	}

	return searchJSON(data, 0)
}

func searchJSON(v any, depth int) (string, bool) {
	if depth > 10 {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return linkFromText(val)
	case map[string]any:
		for _, child := range val {
			if link, ok := searchJSON(child, depth+1); ok {
				return link, true
			}
		}
	case []any:
		for _, child := range val {
			if link, ok := searchJSON(child, depth+1); ok {
				return link, true
			}
		}
	}
	return "", false
}

// linkFromHTML scans a document for partner links in anchors, meta tags
// and inline text. Replay responses occasionally come back as a rendered
// share page rather than JSON.
func linkFromHTML(r io.Reader) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", false
	}

	var link string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if l, ok := linkFromText(href); ok {
			link = l
			return false
		}
		return true
	})
	if link != "" {
		return link, true
	}

	doc.Find("meta[content]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		content, _ := sel.Attr("content")
		if l, ok := linkFromText(content); ok {
			link = l
			return false
		}
		return true
	})
	if link != "" {
		return link, true
	}

	return linkFromText(doc.Text())
}
