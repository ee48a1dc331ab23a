package worker

import (
	"context"
	"sync"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
)

// inFlightFetch tracks one network fetch that several callers may wait for.
type inFlightFetch struct {
	done   chan struct{}
	result cache.Entry
	err    error
}

// fetchCoalescer collapses concurrent fetches of the same key into one network call.
type fetchCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
}

func newFetchCoalescer() *fetchCoalescer {
	return &fetchCoalescer{inFlight: make(map[string]*inFlightFetch)}
}

// Do runs fn for key unless a fetch for key is already in flight, in which case it
// waits for that one. fn runs on its own goroutine and is not cancelled by ctx;
// ctx only bounds how long this caller waits. leader is true for the caller that
// started fn.
func (c *fetchCoalescer) Do(ctx context.Context, key string, fn func() (cache.Entry, error)) (e cache.Entry, leader bool, err error) {
	c.mu.Lock()
	f, exists := c.inFlight[key]
	if !exists {
		f = &inFlightFetch{done: make(chan struct{})}
		c.inFlight[key] = f
		leader = true
		go func() {
			f.result, f.err = fn()
			c.mu.Lock()
			delete(c.inFlight, key)
			c.mu.Unlock()
			close(f.done)
		}()
	}
	c.mu.Unlock()

	select {
	case <-f.done:
		return f.result.Clone(), leader, f.err
	case <-ctx.Done():
		return cache.Entry{}, leader, ctx.Err()
	}
}

// pending returns the number of keys with a fetch in flight.
func (c *fetchCoalescer) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}
