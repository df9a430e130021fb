package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/go-scripts/newscrawl/internal/retry"
)

const (
	DefaultTimeout = 30 * time.Second
	// MaxBodySize caps how much of a page is read
	MaxBodySize = int64(10 * 1024 * 1024)

	// DefaultUserAgent is a desktop Chrome string, the archives serve bots a stripped page
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether a later attempt could succeed
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Doer is satisfied by *http.Client
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads article pages as UTF-8 text
type Fetcher struct {
	client    Doer
	userAgent string
	retry     retry.Config
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithClient replaces the HTTP client
func WithClient(c Doer) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithRetry sets the retry schedule
func WithRetry(cfg retry.Config) Option {
	return func(f *Fetcher) { f.retry = cfg }
}

// New creates a Fetcher with its own HTTP client
func New(timeout time.Duration, opts ...Option) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	f := &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: DefaultUserAgent,
		retry:     retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Close releases idle connections of the owned client
func (f *Fetcher) Close() {
	if c, ok := f.client.(*http.Client); ok {
		c.CloseIdleConnections()
	}
}

// Fetch returns the page at url decoded to UTF-8
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	var body string
	err := retry.Do(ctx, f.retry, "GET "+url, func() error {
		var err error
		body, err = f.get(ctx, url)
		return err
	}, isRetryable)
	if err != nil {
		return "", err
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxBodySize))
		return "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, MaxBodySize), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", url, err)
	}

	var b strings.Builder
	if _, err := io.Copy(&b, reader); err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}
	return b.String(), nil
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}
