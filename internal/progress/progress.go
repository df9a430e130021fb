package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/log"
)

// Tracker reports the progress of one target: a spinner while the archive is
// being scrolled, then a bar and a remaining count while pages are fetched.
type Tracker struct {
	name   string
	logger *log.Logger

	out  io.Writer
	spin *spinner.Spinner
	bar  progress.Model

	mu      sync.Mutex
	total   int
	done    int
	failed  int
	started time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithTerminal draws the spinner and bar on w. Without it the tracker only logs.
func WithTerminal(w io.Writer) Option {
	return func(t *Tracker) { t.out = w }
}

// New creates a Tracker for the named target
func New(name string, logger *log.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		name:    name,
		logger:  logger,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.out != nil {
		t.spin = spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(t.out))
	}
	return t
}

// StartDiscovery starts the spinner
func (t *Tracker) StartDiscovery() {
	if t.spin == nil {
		return
	}
	t.spin.Suffix = fmt.Sprintf(" %s: loading archive", t.name)
	t.spin.Start()
}

// Iteration updates the spinner after a scroll
func (t *Tracker) Iteration(n int) {
	if t.spin == nil {
		return
	}
	t.spin.Lock()
	t.spin.Suffix = fmt.Sprintf(" %s: loading archive, scroll %d", t.name, n)
	t.spin.Unlock()
}

// StopDiscovery stops the spinner and records how many links were found
func (t *Tracker) StopDiscovery(links int) {
	if t.spin != nil {
		t.spin.Stop()
	}
	t.logger.Info("discovery finished", "links", links, "elapsed", FormatElapsed(t.Elapsed()))
}

// SetTotal sets the number of pages to fetch
func (t *Tracker) SetTotal(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
	t.done = 0
	t.failed = 0
}

// Done records one finished fetch and returns how many remain
func (t *Tracker) Done(url string, err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done++
	if err != nil {
		t.failed++
	}
	remaining := max(t.total-t.done, 0)

	t.logger.Debug("page done", "url", url, "remaining", remaining)
	if t.out != nil {
		fmt.Fprintf(t.out, "\r%s %s", t.name, t.view())
		if remaining == 0 {
			fmt.Fprintln(t.out)
		}
	}
	return remaining
}

// Failed returns the number of fetches that ended in an error
func (t *Tracker) Failed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Elapsed returns the time since the tracker was created
func (t *Tracker) Elapsed() time.Duration {
	return time.Since(t.started)
}

func (t *Tracker) fraction() float64 {
	if t.total == 0 {
		return 0
	}
	return min(float64(t.done)/float64(t.total), 1)
}

func (t *Tracker) view() string {
	return fmt.Sprintf("%s %d/%d pages", t.bar.ViewAs(t.fraction()), t.done, t.total)
}

// FormatElapsed renders d as hh:mm:ss
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d",
		int(d.Hours()),
		int(d.Minutes())%60,
		int(d.Seconds())%60,
	)
}
