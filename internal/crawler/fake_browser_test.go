package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/newscrawl/internal/browser"
)

// fakeBrowser renders an archive that grows by one page of links per scroll.
// perScroll[i] lists the hrefs revealed by scroll i+1; initial is shown before
// any scroll. The marker appears once every batch is on the page.
type fakeBrowser struct {
	mu sync.Mutex

	initial   []string
	perScroll [][]string
	marker    string

	scrolls   int
	// fatalURL makes scrolling lose the session once that address is open
	fatalURL  string
	navigated string
	closed    int
}

func (b *fakeBrowser) visible() []string {
	links := append([]string(nil), b.initial...)
	for i := 0; i < b.scrolls && i < len(b.perScroll); i++ {
		links = append(links, b.perScroll[i]...)
	}
	return links
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navigated = url
	return ctx.Err()
}

func (b *fakeBrowser) BodyText(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	text := strings.Join(b.visible(), "\n")
	if b.scrolls >= len(b.perScroll) {
		text += "\n" + b.marker
	}
	return text, nil
}

func (b *fakeBrowser) ScrollToBottom(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fatalURL != "" && b.navigated == b.fatalURL {
		return &browser.SessionError{Op: "scroll to bottom", Err: errors.New("websocket closed")}
	}
	b.scrolls++
	return nil
}

func (b *fakeBrowser) ScrollToTop(ctx context.Context) error { return nil }

func (b *fakeBrowser) Locate(ctx context.Context, selector string, wait time.Duration) (browser.Element, error) {
	return browser.Element{}, fmt.Errorf("%s: %w", selector, browser.ErrNotFound)
}

func (b *fakeBrowser) Click(ctx context.Context, el browser.Element) error { return nil }

func (b *fakeBrowser) HTML(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sb strings.Builder
	sb.WriteString(`<html><body><nav><a href="/about">About</a></nav><ul>`)
	for _, href := range b.visible() {
		fmt.Fprintf(&sb, `<li><a class="story" href="%s">story</a></li>`, href)
	}
	sb.WriteString(`</ul></body></html>`)
	return sb.String(), nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *fakeBrowser) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func openerFor(b *fakeBrowser) Opener {
	return func(*log.Logger) (Browser, error) { return b, nil }
}
