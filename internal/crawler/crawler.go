package crawler

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/newscrawl/internal/browser"
	"github.com/go-scripts/newscrawl/internal/discovery"
	"github.com/go-scripts/newscrawl/internal/fetcher"
	"github.com/go-scripts/newscrawl/internal/history"
	"github.com/go-scripts/newscrawl/internal/mapper"
	"github.com/go-scripts/newscrawl/internal/progress"
	"github.com/go-scripts/newscrawl/internal/queue"
	"github.com/go-scripts/newscrawl/internal/retry"
	"github.com/go-scripts/newscrawl/internal/types"
	"github.com/go-scripts/newscrawl/internal/writer"
)

// Browser is the session a pipeline drives during discovery
type Browser interface {
	discovery.Page
	discovery.DocumentSource
	Navigate(ctx context.Context, url string) error
	Close() error
}

// Opener starts a browser session
type Opener func(logger *log.Logger) (Browser, error)

// ChromeOpener opens Chrome sessions with opts
func ChromeOpener(opts browser.Options) Opener {
	return func(logger *log.Logger) (Browser, error) {
		return browser.Open(opts, logger)
	}
}

// Options holds the settings shared by every target of a run
type Options struct {
	OutputDir      string
	Header         []string
	RequestTimeout time.Duration
	UserAgent      string
	Retry          retry.Config
	// Terminal, when set, receives the spinner and progress bar
	Terminal io.Writer
}

// Report summarises one target
type Report struct {
	Target      string
	Outcome     discovery.Outcome
	Iterations  int
	Links       int
	Queued      int
	FetchFailed int
	Stats       writer.Stats
	Output      string
	Elapsed     time.Duration
}

// Pipeline crawls one target end to end
type Pipeline struct {
	target types.CrawlTarget
	open   Opener
	opts   Options
	ledger *history.Ledger
	runID  string
	logger *log.Logger
}

// NewPipeline creates a Pipeline. ledger may be nil.
func NewPipeline(target types.CrawlTarget, open Opener, opts Options, ledger *history.Ledger, runID string, logger *log.Logger) *Pipeline {
	return &Pipeline{
		target: target,
		open:   open,
		opts:   opts,
		ledger: ledger,
		runID:  runID,
		logger: logger,
	}
}

// OutputPath returns the CSV file of the target
func (p *Pipeline) OutputPath() string {
	name := p.target.OutputFile
	if name == "" {
		name = writer.FileName(p.target.Name)
	}
	return filepath.Join(p.opts.OutputDir, name)
}

// Run discovers article addresses under discoverCtx, then fetches, maps and
// writes them under ctx. Cancelling discoverCtx only stops the scrolling.
func (p *Pipeline) Run(ctx, discoverCtx context.Context) (Report, error) {
	// stays failed unless the loader gets to report its own outcome
	report := Report{Target: p.target.Name, Outcome: discovery.OutcomeFailed, Output: p.OutputPath()}

	m, err := mapper.New(p.target.Fields)
	if err != nil {
		return report, err
	}

	var trackerOpts []progress.Option
	if p.opts.Terminal != nil {
		trackerOpts = append(trackerOpts, progress.WithTerminal(p.opts.Terminal))
	}
	tracker := progress.New(p.target.Name, p.logger, trackerOpts...)

	links, err := p.discover(ctx, discoverCtx, tracker, &report)
	if err != nil {
		return report, err
	}

	q := queue.New()
	if added := q.AddAll(links); added < len(links) {
		p.logger.Debug("dropped repeated links", "count", len(links)-added)
	}
	urls := q.Drain()

	if p.ledger != nil {
		pending, err := p.ledger.Pending(ctx, urls)
		if err != nil {
			return report, fmt.Errorf("checking history: %w", err)
		}
		if skipped := len(urls) - len(pending); skipped > 0 {
			p.logger.Info("skipping articles written by earlier runs", "count", skipped)
		}
		urls = pending
	}
	report.Queued = len(urls)

	w, err := writer.Open(report.Output, p.opts.Header, p.logger)
	if err != nil {
		return report, err
	}
	defer w.Close()

	f := fetcher.New(p.opts.RequestTimeout,
		fetcher.WithUserAgent(p.opts.UserAgent),
		fetcher.WithRetry(p.opts.Retry),
	)
	defer f.Close()

	tracker.SetTotal(len(urls))

	var (
		mu      sync.Mutex
		sinkErr error
	)
	handle := func(r fetcher.Result) {
		remaining := tracker.Done(r.URL, r.Err)

		if r.Err != nil {
			p.logger.Error("fetch failed", "url", r.URL, "remaining", remaining, "err", r.Err)
			p.mark(ctx, r.URL, history.StatusFailed)
			return
		}

		stats, err := w.Write(m.Map(r.Body))

		mu.Lock()
		report.Stats.Add(stats)
		if err != nil && sinkErr == nil {
			sinkErr = err
		}
		mu.Unlock()

		switch {
		case err != nil:
			p.logger.Error("write failed", "url", r.URL, "err", err)
		case stats.Written > 0:
			p.mark(ctx, r.URL, history.StatusWritten)
			p.logger.Info("article saved", "url", r.URL, "remaining", remaining)
		default:
			p.mark(ctx, r.URL, history.StatusSkipped)
		}
	}

	if err := fetcher.Dispatch(ctx, f, urls, fetcher.ScheduleFor(p.target), handle); err != nil {
		return report, err
	}

	report.FetchFailed = tracker.Failed()
	report.Elapsed = tracker.Elapsed()

	p.logger.Info("target finished",
		"written", report.Stats.Written,
		"skipped", report.Stats.Skipped,
		"failed", report.FetchFailed,
		"output", w.Path(),
		"elapsed", progress.FormatElapsed(report.Elapsed),
	)
	p.logHistory(ctx)
	return report, sinkErr
}

// logHistory reports what the ledger holds for the target across all runs
func (p *Pipeline) logHistory(ctx context.Context) {
	if p.ledger == nil {
		return
	}
	counts, err := p.ledger.Counts(ctx, p.target.Name)
	if err != nil {
		p.logger.Warn("reading history failed", "err", err)
		return
	}
	p.logger.Info("history",
		"written", counts[history.StatusWritten],
		"skipped", counts[history.StatusSkipped],
		"failed", counts[history.StatusFailed],
	)
}

// discover loads the archive and reads its article addresses. The browser is
// closed before it returns.
func (p *Pipeline) discover(ctx, discoverCtx context.Context, tracker *progress.Tracker, report *Report) ([]string, error) {
	session, err := p.open(p.logger)
	if err != nil {
		return nil, fmt.Errorf("opening browser: %w", err)
	}
	defer session.Close()

	tracker.StartDiscovery()
	links, err := p.load(ctx, discoverCtx, session, tracker, report)
	tracker.StopDiscovery(len(links))
	return links, err
}

func (p *Pipeline) load(ctx, discoverCtx context.Context, session Browser, tracker *progress.Tracker, report *Report) ([]string, error) {
	p.logger.Info("opening archive", "url", p.target.EntryURL)
	if err := session.Navigate(discoverCtx, p.target.EntryURL); err != nil {
		if discoverCtx.Err() == nil || browser.IsFatal(err) {
			return nil, err
		}
		p.logger.Warn("interrupted while opening archive", "err", err)
	}

	loader := discovery.NewLoader(p.logger)
	loader.OnIteration = func(st discovery.State) {
		tracker.Iteration(st.Iterations)
	}

	res, err := loader.Run(discoverCtx, session, p.target)
	report.Outcome = res.Outcome
	report.Iterations = res.Iterations
	if err != nil {
		return nil, fmt.Errorf("loading archive: %w", err)
	}

	switch res.Outcome {
	case discovery.OutcomeCeiling:
		p.logger.Warn("archive only partially loaded", "iterations", res.Iterations)
	case discovery.OutcomeCancelled:
		p.logger.Warn("loading interrupted, using what is on the page", "iterations", res.Iterations)
	}

	links, err := discovery.Collect(ctx, session, p.target.EntryURL, p.target.LinkSelector, p.target.LinkAttr)
	if err != nil {
		return nil, err
	}
	report.Links = len(links)
	return links, nil
}

func (p *Pipeline) mark(ctx context.Context, url string, status history.Status) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.Mark(ctx, p.target.Name, url, status, p.runID); err != nil {
		p.logger.Warn("history update failed", "url", url, "err", err)
	}
}
