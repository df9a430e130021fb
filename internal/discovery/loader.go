package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/newscrawl/internal/browser"
	"github.com/go-scripts/newscrawl/internal/types"
)

const (
	// DefaultMaxIterations bounds the loop when a target sets no ceiling
	DefaultMaxIterations = 500
	// DefaultTriggerWait is how long the "load more" control may take to appear
	DefaultTriggerWait = 2 * time.Second
)

// Page is the part of a browser session the loader drives
type Page interface {
	TextSource
	ScrollToBottom(ctx context.Context) error
	ScrollToTop(ctx context.Context) error
	Locate(ctx context.Context, selector string, wait time.Duration) (browser.Element, error)
	Click(ctx context.Context, el browser.Element) error
}

// Outcome tells why the loop stopped
type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomeCeiling
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeCeiling:
		return "ceiling"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// State is the loop bookkeeping. Loaded never goes back to false.
type State struct {
	Loaded           bool
	TriggerAttempted bool
	TriggerClicked   bool
	Iterations       int
}

// Result is returned once the loop exits
type Result struct {
	State
	Outcome Outcome
	Elapsed time.Duration
}

// Loader scrolls a page until the completion marker shows up
type Loader struct {
	logger *log.Logger

	// OnIteration, when set, is called after every finished iteration
	OnIteration func(State)

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewLoader creates a Loader logging through logger
func NewLoader(logger *log.Logger) *Loader {
	return &Loader{
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Run reveals content on page until target.Marker is present, a ceiling is
// reached or ctx is cancelled. Only a lost browser session is returned as error.
func (l *Loader) Run(ctx context.Context, page Page, target types.CrawlTarget) (Result, error) {
	start := l.now()
	var st State

	finish := func(o Outcome) (Result, error) {
		return Result{State: st, Outcome: o, Elapsed: l.now().Sub(start)}, nil
	}
	abort := func(err error) (Result, error) {
		return Result{State: st, Outcome: OutcomeFailed, Elapsed: l.now().Sub(start)}, err
	}

	ceiling := target.MaxIterations
	if ceiling <= 0 {
		ceiling = DefaultMaxIterations
	}
	var deadline time.Time
	if target.MaxDuration > 0 {
		deadline = start.Add(target.MaxDuration)
	}

	if IsComplete(ctx, page, target.Marker) {
		st.Loaded = true
		return finish(OutcomeComplete)
	}

	for !st.Loaded {
		if ctx.Err() != nil {
			return finish(OutcomeCancelled)
		}
		if st.Iterations >= ceiling {
			l.logger.Warn("iteration ceiling reached before marker appeared", "iterations", st.Iterations, "marker", target.Marker)
			return finish(OutcomeCeiling)
		}
		if !deadline.IsZero() && !l.now().Before(deadline) {
			l.logger.Warn("time ceiling reached before marker appeared", "iterations", st.Iterations, "max_duration", target.MaxDuration)
			return finish(OutcomeCeiling)
		}

		st.Iterations++

		if shouldTrigger(target, st) {
			st.TriggerAttempted = true
			if err := l.trigger(ctx, page, target); err != nil {
				if stop, fatal := l.handle(ctx, err, "load-more trigger failed", st); stop {
					if fatal != nil {
						return abort(fatal)
					}
					return finish(OutcomeCancelled)
				}
			} else {
				st.TriggerClicked = true
				l.logger.Debug("load-more trigger clicked", "iteration", st.Iterations)
			}
		}

		if err := page.ScrollToBottom(ctx); err != nil {
			if stop, fatal := l.handle(ctx, err, "scroll failed", st); stop {
				if fatal != nil {
					return abort(fatal)
				}
				return finish(OutcomeCancelled)
			}
		}

		if err := l.sleep(ctx, target.SettleDelay); err != nil {
			return finish(OutcomeCancelled)
		}

		if target.Bounce {
			if err := page.ScrollToTop(ctx); err != nil {
				if stop, fatal := l.handle(ctx, err, "scroll back failed", st); stop {
					if fatal != nil {
						return abort(fatal)
					}
					return finish(OutcomeCancelled)
				}
			}
		}

		if IsComplete(ctx, page, target.Marker) {
			st.Loaded = true
		}
		if l.OnIteration != nil {
			l.OnIteration(st)
		}
	}

	l.logger.Debug("completion marker found", "iterations", st.Iterations, "marker", target.Marker)
	return finish(OutcomeComplete)
}

func shouldTrigger(target types.CrawlTarget, st State) bool {
	if !target.HasTrigger() || st.TriggerClicked {
		return false
	}
	if target.TriggerPolicy == types.TriggerUntilClicked {
		return true
	}
	return !st.TriggerAttempted
}

func (l *Loader) trigger(ctx context.Context, page Page, target types.CrawlTarget) error {
	wait := target.TriggerWait
	if wait <= 0 {
		wait = DefaultTriggerWait
	}
	el, err := page.Locate(ctx, target.TriggerSelector, wait)
	if err != nil {
		return err
	}
	return page.Click(ctx, el)
}

// handle decides what a failed reveal action means for the loop. stop is true
// when the loop has to end; fatal carries the error for a lost session.
func (l *Loader) handle(ctx context.Context, err error, msg string, st State) (stop bool, fatal error) {
	switch {
	case browser.IsFatal(err):
		return true, fmt.Errorf("iteration %d: %w", st.Iterations, err)
	case ctx.Err() != nil:
		return true, nil
	case errors.Is(err, browser.ErrNotFound):
		l.logger.Debug(msg, "iteration", st.Iterations, "err", err)
	default:
		l.logger.Warn(msg, "iteration", st.Iterations, "err", err)
	}
	return false, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
