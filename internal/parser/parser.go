package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/i-yeun/vc-assistant/internal/urlutil"
)

// nonContentSelector lists elements that never contribute visible text.
const nonContentSelector = "script, style, img"

// ErrInvalidBaseURL is returned when the page URL cannot anchor relative links.
var ErrInvalidBaseURL = errors.New("invalid base url")

// Result holds the visible text of a page and the absolute URLs it links to.
type Result struct {
	Text  string
	Links []string
}

// Parse extracts visible text and outbound links from an HTML document.
// Text nodes are trimmed and joined with a newline. Links are resolved against
// baseURL, restricted to http(s), de-duplicated and sorted.
// Malformed markup is tolerated; whatever the HTML5 parser recovers is used.
func Parse(body []byte, baseURL string) (Result, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Host == "" {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}

	doc.Find(nonContentSelector).Remove()

	return Result{
		Text:  visibleText(doc.Selection),
		Links: parseLinks(doc, base),
	}, nil
}

func parseLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, ok := selection.Attr("href")
		if !ok {
			return
		}

		resolved, ok := urlutil.Resolve(base, strings.TrimSpace(href))
		if !ok {
			return
		}

		seen[resolved] = struct{}{}
	})

	links := make([]string, 0, len(seen))
	for link := range seen {
		links = append(links, link)
	}
	sort.Strings(links)

	return links
}
