package traffic

import (
	"sync"
	"time"
)

// retention bounds how long outcomes are kept regardless of the queried window.
const retention = 5 * time.Minute

// Tracker maintains sliding windows of network outcome timestamps recorded by the
// fetcher. It is the single source of truth for the connectivity health check.
type Tracker struct {
	mu            sync.Mutex
	successTimes  []time.Time
	failureTimes  []time.Time
	fallbackTimes []time.Time
	now           func() time.Time
}

// NewTracker returns an empty Tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// RecordSuccess records a network response received from upstream.
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordFailure records a network attempt that failed (transport error, 5xx, open breaker).
func (t *Tracker) RecordFailure() {
	t.recordOutcome(&t.failureTimes)
}

// RecordFallback records a response served from cache because the network failed.
func (t *Tracker) RecordFallback() {
	t.recordOutcome(&t.fallbackTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// FailureRate returns (failureCount, totalCount) within the window.
// totalCount counts network attempts only; fallbacks are excluded.
func (t *Tracker) FailureRate(window time.Duration) (failures, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	failures = countInWindow(t.failureTimes, cutoff)
	return failures, failures + countInWindow(t.successTimes, cutoff)
}

// FallbackCount returns the number of cache fallbacks within the window.
func (t *Tracker) FallbackCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.fallbackTimes, t.clock().Add(-window))
}

func (t *Tracker) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.failureTimes)
	prune(&t.fallbackTimes)
}
