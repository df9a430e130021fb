package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

const (
	scrollBottomJS = `window.scrollTo(0, document.body.scrollHeight);`
	// a tiny negative offset, the lazy feeds only react to a real scroll event
	scrollTopJS = `window.scrollTo(0, -0.05);`
	bodyTextJS  = `document.body ? document.body.innerText : ""`

	navigateTimeout = 60 * time.Second
)

// ErrNotFound reports that an element did not show up within the allowed wait
var ErrNotFound = errors.New("element not found")

// SessionError marks a failure after which the session cannot be used anymore
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("browser session lost during %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// IsFatal reports whether err means the browser session is gone
func IsFatal(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}

// Options configures the Chrome process
type Options struct {
	Headless     bool
	WindowWidth  int
	WindowHeight int
	ExecPath     string
	UserAgent    string
}

// DefaultOptions mirrors the settings every site collector used
func DefaultOptions() Options {
	return Options{
		Headless:     true,
		WindowWidth:  1920,
		WindowHeight: 1080,
	}
}

// Element is a node located on the page
type Element struct {
	node *cdp.Node
}

// Session is a single Chrome tab owned by one crawl target
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *log.Logger
	closeOnce   sync.Once
}

// Open launches Chrome and returns a session bound to a fresh tab.
// The caller must Close it.
func Open(opts Options, logger *log.Logger) (*Session, error) {
	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if !opts.Headless {
		execOpts = append(execOpts, chromedp.Flag("headless", false))
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		execOpts = append(execOpts, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	if opts.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		execOpts = append(execOpts, chromedp.UserAgent(opts.UserAgent))
	}

	// the browser lives as long as the session, not as long as any caller context
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		logger.Debugf(format, args...)
	}))

	// first Run starts the browser and ties it to tabCtx
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	return &Session{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts the tab and the browser process. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.allocCancel()
		s.logger.Debug("browser session closed")
	})
	return nil
}

// bind returns a context carrying the tab that is also cancelled with ctx
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// run executes actions and classifies the outcome
func (s *Session) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	return s.classify(ctx, op, err)
}

func (s *Session) classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if s.ctx.Err() != nil ||
		errors.Is(err, chromedp.ErrChannelClosed) ||
		errors.Is(err, chromedp.ErrInvalidTarget) ||
		errors.Is(err, chromedp.ErrInvalidContext) {
		return &SessionError{Op: op, Err: err}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Navigate loads url and waits for the body. A failure here is unrecoverable
// for the target, so every error is reported as a SessionError.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()

	err := s.run(navCtx, "navigate", chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
	if err != nil && ctx.Err() == nil && !IsFatal(err) {
		return &SessionError{Op: "navigate", Err: err}
	}
	return err
}

// ScrollToBottom scrolls the window to the end of the document
func (s *Session) ScrollToBottom(ctx context.Context) error {
	return s.run(ctx, "scroll to bottom", chromedp.Evaluate(scrollBottomJS, nil))
}

// ScrollToTop scrolls the window back to the start of the document
func (s *Session) ScrollToTop(ctx context.Context) error {
	return s.run(ctx, "scroll to top", chromedp.Evaluate(scrollTopJS, nil))
}

// BodyText returns the rendered text of the document body
func (s *Session) BodyText(ctx context.Context) (string, error) {
	var text string
	if err := s.run(ctx, "read body text", chromedp.Evaluate(bodyTextJS, &text)); err != nil {
		return "", err
	}
	return text, nil
}

// HTML returns the outer HTML of the current document
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, "read document", chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Locate waits up to wait for a visible element matching selector.
// CSS selectors and XPath expressions are both accepted.
func (s *Session) Locate(ctx context.Context, selector string, wait time.Duration) (Element, error) {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	waitCtx, waitCancel := context.WithTimeout(runCtx, wait)
	defer waitCancel()

	var nodes []*cdp.Node
	err := chromedp.Run(waitCtx, chromedp.Nodes(selector, &nodes, chromedp.BySearch, chromedp.NodeVisible))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && s.ctx.Err() == nil {
			return Element{}, fmt.Errorf("%s: %w", selector, ErrNotFound)
		}
		return Element{}, s.classify(ctx, "locate "+selector, err)
	}
	if len(nodes) == 0 {
		return Element{}, fmt.Errorf("%s: %w", selector, ErrNotFound)
	}
	return Element{node: nodes[0]}, nil
}

// Click clicks a previously located element
func (s *Session) Click(ctx context.Context, el Element) error {
	if el.node == nil {
		return fmt.Errorf("click: %w", ErrNotFound)
	}
	return s.run(ctx, "click", chromedp.MouseClickNode(el.node))
}
