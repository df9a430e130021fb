package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-scripts/newscrawl/internal/browser"
)

// fakePage simulates an infinite feed: every scroll renders one more article
// and the marker shows up once markerAfter scrolls happened.
type fakePage struct {
	marker      string
	markerAfter int // -1 keeps the marker away forever

	scrolls int
	tops    int
	reads   int

	locates     int
	clicks      int
	locateFails int   // number of Locate calls failing before one succeeds
	locateErr   error // error used for the failures, ErrNotFound when nil

	scrollErrs []error // consumed one per scroll
	bodyErr    error
}

func (p *fakePage) BodyText(ctx context.Context) (string, error) {
	p.reads++
	if p.bodyErr != nil {
		return "", p.bodyErr
	}
	var b strings.Builder
	b.WriteString("Archive\n")
	for i := 1; i <= p.scrolls; i++ {
		fmt.Fprintf(&b, "Article %d\n", i)
	}
	if p.markerAfter >= 0 && p.scrolls >= p.markerAfter {
		b.WriteString(p.marker)
	}
	return b.String(), nil
}

func (p *fakePage) ScrollToBottom(ctx context.Context) error {
	if len(p.scrollErrs) > 0 {
		err := p.scrollErrs[0]
		p.scrollErrs = p.scrollErrs[1:]
		if err != nil {
			return err
		}
	}
	p.scrolls++
	return nil
}

func (p *fakePage) ScrollToTop(ctx context.Context) error {
	p.tops++
	return nil
}

func (p *fakePage) Locate(ctx context.Context, selector string, wait time.Duration) (browser.Element, error) {
	p.locates++
	if p.locates <= p.locateFails {
		if p.locateErr != nil {
			return browser.Element{}, p.locateErr
		}
		return browser.Element{}, fmt.Errorf("%s: %w", selector, browser.ErrNotFound)
	}
	return browser.Element{}, nil
}

func (p *fakePage) Click(ctx context.Context, el browser.Element) error {
	p.clicks++
	return nil
}

// HTML renders one anchor per loaded article
func (p *fakePage) HTML(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("<html><body><div class=\"feed\">")
	for i := 1; i <= p.scrolls; i++ {
		fmt.Fprintf(&b, `<a class="item" href="/news/%d">Article %d</a>`, i, i)
	}
	b.WriteString(`</div><a class="footer" href="/about">About</a></body></html>`)
	return b.String(), nil
}
