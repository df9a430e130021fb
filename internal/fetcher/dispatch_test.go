package fetcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/newscrawl/internal/types"
)

type funcSource func(ctx context.Context, url string) (string, error)

func (f funcSource) Fetch(ctx context.Context, url string) (string, error) { return f(ctx, url) }

type collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *collector) add(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *collector) byURL() map[string]Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Result, len(c.results))
	for _, r := range c.results {
		out[r.URL] = r
	}
	return out
}

var testURLs = []string{"u1", "u2", "u3", "u4", "u5"}

func TestDispatchSerialKeepsOrderAndDelay(t *testing.T) {
	var starts []time.Time
	src := funcSource(func(ctx context.Context, url string) (string, error) {
		starts = append(starts, time.Now())
		return "body " + url, nil
	})

	var c collector
	delay := 20 * time.Millisecond
	err := Dispatch(context.Background(), src, testURLs, Schedule{Mode: types.FetchSerial, Delay: delay}, c.add)

	require.NoError(t, err)
	require.Len(t, c.results, len(testURLs))
	for i, r := range c.results {
		assert.Equal(t, testURLs[i], r.URL)
		assert.Equal(t, "body "+testURLs[i], r.Body)
	}
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), delay)
	}
}

func TestDispatchFailureDoesNotHaltBatch(t *testing.T) {
	src := funcSource(func(ctx context.Context, url string) (string, error) {
		if url == "u2" {
			return "", &StatusError{URL: url, StatusCode: 500}
		}
		return "ok", nil
	})

	for _, mode := range []types.FetchMode{types.FetchSerial, types.FetchConcurrent} {
		t.Run(string(mode), func(t *testing.T) {
			var c collector
			require.NoError(t, Dispatch(context.Background(), src, testURLs, Schedule{Mode: mode}, c.add))

			got := c.byURL()
			require.Len(t, got, len(testURLs))
			assert.Error(t, got["u2"].Err)
			for _, u := range []string{"u1", "u3", "u4", "u5"} {
				assert.NoError(t, got[u].Err)
				assert.Equal(t, "ok", got[u].Body)
			}
		})
	}
}

func TestDispatchConcurrentLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	src := funcSource(func(ctx context.Context, url string) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return url, nil
	})

	var c collector
	err := Dispatch(context.Background(), src, testURLs, Schedule{Mode: types.FetchConcurrent, Limit: 2}, c.add)

	require.NoError(t, err)
	assert.Len(t, c.results, len(testURLs))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatchConcurrentUnbounded(t *testing.T) {
	var started sync.WaitGroup
	started.Add(len(testURLs))
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()

	src := funcSource(func(ctx context.Context, url string) (string, error) {
		started.Done()
		select {
		case <-allStarted:
			return url, nil
		case <-time.After(2 * time.Second):
			return "", errors.New("fetches were not concurrent")
		}
	})

	var c collector
	require.NoError(t, Dispatch(context.Background(), src, testURLs, Schedule{Mode: types.FetchConcurrent}, c.add))

	for _, r := range c.results {
		assert.NoError(t, r.Err)
	}
}

func TestDispatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	src := funcSource(func(ctx context.Context, url string) (string, error) {
		calls.Add(1)
		return "", nil
	})

	var c collector
	require.NoError(t, Dispatch(ctx, src, testURLs, Schedule{Mode: types.FetchSerial, Delay: time.Hour}, c.add))

	assert.Len(t, c.results, len(testURLs), "every address still gets a result")
	assert.Zero(t, calls.Load())
	for _, r := range c.results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestDispatchUnknownMode(t *testing.T) {
	err := Dispatch(context.Background(), funcSource(nil), testURLs, Schedule{Mode: "burst"}, func(Result) {})
	assert.ErrorContains(t, err, "unknown fetch mode")
}

func TestScheduleFor(t *testing.T) {
	s := ScheduleFor(types.CrawlTarget{FetchMode: types.FetchSerial, FetchDelay: 3 * time.Second, FetchConcurrency: 4})
	assert.Equal(t, Schedule{Mode: types.FetchSerial, Limit: 4, Delay: 3 * time.Second}, s)
}
