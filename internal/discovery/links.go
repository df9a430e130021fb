package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DocumentSource exposes the markup of the current document
type DocumentSource interface {
	HTML(ctx context.Context) (string, error)
}

// Collect reads the loaded document once and returns its article addresses
func Collect(ctx context.Context, src DocumentSource, pageURL, selector, attr string) ([]string, error) {
	html, err := src.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading loaded document: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing loaded document: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	return ExtractLinks(doc, base, selector, attr), nil
}

// ExtractLinks returns the attr values of every element matching selector,
// in document order, resolved against base and without duplicates.
func ExtractLinks(doc *goquery.Document, base *url.URL, selector, attr string) []string {
	if attr == "" {
		attr = "href"
	}

	var links []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		raw, ok := s.Attr(attr)
		if !ok {
			return
		}
		if link, ok := resolve(base, raw); ok {
			links = append(links, link)
		}
	})

	return Dedupe(links)
}

func resolve(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return "", false
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	return ref.String(), true
}

// Dedupe drops repeated addresses, keeping the first occurrence
func Dedupe(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
