package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-scripts/newscrawl/internal/types"
)

// PageSource resolves one address to page content
type PageSource interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Result is the outcome for one address
type Result struct {
	URL  string
	Body string
	Err  error
}

// Schedule is the per-target request policy
type Schedule struct {
	Mode types.FetchMode
	// Limit bounds concurrent requests, 0 means unbounded
	Limit int
	// Delay separates consecutive requests in serial mode
	Delay time.Duration
}

// ScheduleFor builds the schedule of a target
func ScheduleFor(t types.CrawlTarget) Schedule {
	return Schedule{Mode: t.FetchMode, Limit: t.FetchConcurrency, Delay: t.FetchDelay}
}

// Dispatch fetches every url under schedule and calls handle once per url.
// handle may be called from several goroutines at once in concurrent mode.
func Dispatch(ctx context.Context, src PageSource, urls []string, schedule Schedule, handle func(Result)) error {
	switch schedule.Mode {
	case types.FetchSerial:
		dispatchSerial(ctx, src, urls, schedule.Delay, handle)
	case types.FetchConcurrent, "":
		dispatchConcurrent(ctx, src, urls, schedule.Limit, handle)
	default:
		return fmt.Errorf("unknown fetch mode %q", schedule.Mode)
	}
	return nil
}

func dispatchSerial(ctx context.Context, src PageSource, urls []string, delay time.Duration, handle func(Result)) {
	for i, u := range urls {
		if i > 0 && delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			handle(Result{URL: u, Err: err})
			continue
		}
		body, err := src.Fetch(ctx, u)
		handle(Result{URL: u, Body: body, Err: err})
	}
}

func dispatchConcurrent(ctx context.Context, src PageSource, urls []string, limit int, handle func(Result)) {
	var wg sync.WaitGroup

	var semaphore chan struct{}
	if limit > 0 {
		semaphore = make(chan struct{}, limit)
	}

	for _, u := range urls {
		if semaphore != nil {
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				handle(Result{URL: u, Err: ctx.Err()})
				continue
			}
		}

		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if semaphore != nil {
				defer func() { <-semaphore }()
			}
			body, err := src.Fetch(ctx, u)
			handle(Result{URL: u, Body: body, Err: err})
		}(u)
	}

	wg.Wait()
}
