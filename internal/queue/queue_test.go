package queue

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueOrderAndDedup(t *testing.T) {
	q := New()

	assert.True(t, q.Add("a"))
	assert.True(t, q.Add("b"))
	assert.False(t, q.Add("a"), "duplicate while queued")
	assert.False(t, q.Add(""), "empty address")

	assert.Equal(t, []string{"a", "b"}, q.Drain())
	assert.False(t, q.Add("a"), "duplicate after being taken")
	assert.True(t, q.Add("c"))
	assert.Equal(t, []string{"c"}, q.Drain())
}

func TestAddAllAndDrain(t *testing.T) {
	q := New()

	added := q.AddAll([]string{"x", "y", "x", "z", "y"})

	assert.Equal(t, 3, added)
	assert.Equal(t, []string{"x", "y", "z"}, q.Drain())
	assert.Empty(t, q.Drain())
	assert.Equal(t, 0, q.AddAll([]string{"z"}))
}

func TestConcurrentAdd(t *testing.T) {
	q := New()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Add(strconv.Itoa(i))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, q.Drain(), 100)
}
