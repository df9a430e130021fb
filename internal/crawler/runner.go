package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/go-scripts/newscrawl/internal/history"
	"github.com/go-scripts/newscrawl/internal/progress"
	"github.com/go-scripts/newscrawl/internal/types"
)

// Runner crawls several targets side by side. A failing target never stops
// the others.
type Runner struct {
	open   Opener
	opts   Options
	ledger *history.Ledger
	logger *log.Logger
	runID  string
}

// NewRunner creates a Runner with a fresh run ID. ledger may be nil.
func NewRunner(open Opener, opts Options, ledger *history.Ledger, logger *log.Logger) *Runner {
	return &Runner{
		open:   open,
		opts:   opts,
		ledger: ledger,
		logger: logger,
		runID:  uuid.NewString(),
	}
}

// RunID identifies this run in logs and in the history ledger
func (r *Runner) RunID() string {
	return r.runID
}

// Run crawls every target and waits for all of them. Reports come back in
// target order; the error joins the failures of individual targets.
func (r *Runner) Run(ctx, discoverCtx context.Context, targets []types.CrawlTarget) ([]Report, error) {
	start := time.Now()
	r.logger.Info("run started", "run", r.runID, "targets", len(targets), "at", start.Format(time.DateTime))

	opts := r.opts
	if len(targets) > 1 {
		// concurrent spinners would overwrite each other
		opts.Terminal = nil
	}

	reports := make([]Report, len(targets))
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target types.CrawlTarget) {
			defer wg.Done()

			logger := r.logger.With("target", target.Name, "run", r.runID)
			p := NewPipeline(target, r.open, opts, r.ledger, r.runID, logger)

			report, err := p.Run(ctx, discoverCtx)
			reports[i] = report
			if err != nil {
				logger.Error("target failed", "err", err)
				errs[i] = fmt.Errorf("%s: %w", target.Name, err)
			}
		}(i, target)
	}
	wg.Wait()

	elapsed := time.Since(start)
	r.logger.Info("run finished",
		"run", r.runID,
		"at", time.Now().Format(time.DateTime),
		"elapsed", progress.FormatElapsed(elapsed),
	)
	return reports, errors.Join(errs...)
}
