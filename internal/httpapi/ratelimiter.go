package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most limit events inside any rolling window.
// Timestamps sit in a fixed ring sized to the limit, so Allow runs in O(1)
// and memory stays bounded no matter how hard the endpoint is hammered.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu    sync.Mutex
	ring  []time.Time
	head  int
	count int
}

// NewSlidingWindowLimiter builds a limiter; a non-positive window or limit
// disables it, letting everything through.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	l := &SlidingWindowLimiter{window: window, limit: limit, now: timeSource}
	if window > 0 && limit > 0 {
		l.ring = make([]time.Time, limit)
	}
	return l
}

// Allow reports whether the caller may proceed and, if so, consumes a slot.
func (l *SlidingWindowLimiter) Allow() bool {
	if l == nil || l.ring == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	//1.- Retire entries that fell out of the window, oldest first.
	for l.count > 0 && !l.ring[l.head].After(cutoff) {
		l.head = (l.head + 1) % len(l.ring)
		l.count--
	}
	if l.count >= l.limit {
		return false
	}
	l.ring[(l.head+l.count)%len(l.ring)] = now
	l.count++
	return true
}
