package progress

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestDoneCountsDown(t *testing.T) {
	tr := New("rbc", log.New(io.Discard))
	tr.SetTotal(3)

	assert.Equal(t, 2, tr.Done("a", nil))
	assert.Equal(t, 1, tr.Done("b", errors.New("500")))
	assert.InDelta(t, 2.0/3.0, tr.fraction(), 1e-9)
	assert.Equal(t, 0, tr.Done("c", nil))

	assert.Equal(t, 1, tr.Failed())
	assert.Equal(t, 1.0, tr.fraction())
	assert.Contains(t, tr.view(), "3/3 pages")
}

func TestDoneNeverNegative(t *testing.T) {
	tr := New("ria", log.New(io.Discard))
	tr.SetTotal(1)
	tr.Done("a", nil)

	assert.Equal(t, 0, tr.Done("b", nil))
	assert.Equal(t, 1.0, tr.fraction())
}

func TestEmptyTotal(t *testing.T) {
	tr := New("rambler", log.New(io.Discard))
	assert.Equal(t, 0.0, tr.fraction())
	assert.Contains(t, tr.view(), "0/0 pages")
}

func TestTerminalOutput(t *testing.T) {
	var out bytes.Buffer
	tr := New("rbc", log.New(io.Discard), WithTerminal(&out))

	tr.StartDiscovery()
	tr.Iteration(4)
	tr.StopDiscovery(2)

	out.Reset()
	tr.SetTotal(2)
	tr.Done("a", nil)
	tr.Done("b", nil)

	assert.Contains(t, out.String(), "rbc")
	assert.Contains(t, out.String(), "2/2 pages")
	assert.True(t, bytes.HasSuffix(out.Bytes(), []byte("\n")))
}

func TestLoggingOnly(t *testing.T) {
	var logs bytes.Buffer
	tr := New("ria", log.New(&logs))

	tr.StartDiscovery()
	tr.Iteration(1)
	tr.StopDiscovery(7)

	assert.Contains(t, logs.String(), "discovery finished")
	assert.Contains(t, logs.String(), "links=7")
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatElapsed(0))
	assert.Equal(t, "00:01:05", FormatElapsed(65*time.Second))
	assert.Equal(t, "26:03:00", FormatElapsed(26*time.Hour+3*time.Minute))
	assert.Equal(t, "00:00:00", FormatElapsed(-time.Second))
}
