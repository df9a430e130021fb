package queue

import (
	"sync"
)

// Queue is a thread-safe, ordered address queue. An address is accepted once
// for the lifetime of the queue, even after it has been taken.
type Queue struct {
	urls []string
	seen map[string]bool
	mu   sync.Mutex
}

// New creates a new Queue instance
func New() *Queue {
	return &Queue{
		urls: make([]string, 0),
		seen: make(map[string]bool),
	}
}

// Add appends url unless it was added before
func (q *Queue) Add(url string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if url == "" || q.seen[url] {
		return false
	}

	q.seen[url] = true
	q.urls = append(q.urls, url)
	return true
}

// AddAll adds urls in order and returns how many were new
func (q *Queue) AddAll(urls []string) int {
	added := 0
	for _, u := range urls {
		if q.Add(u) {
			added++
		}
	}
	return added
}

// Drain removes and returns everything queued, oldest first
func (q *Queue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.urls
	q.urls = make([]string, 0)
	return out
}
