package engine

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the trailing window over which requests are counted.
	DefaultWindow = time.Minute
	// DefaultCapacity is the number of requests admitted per window.
	DefaultCapacity = 10
)

// RateLimiter decides whether a request from an identity may proceed.
type RateLimiter interface {
	Allow(identity string) bool
}

// SlidingWindowLimiter admits at most Capacity requests per identity within
// any trailing Window. Per-identity logs are created on first use and are
// never evicted, so memory grows with the number of distinct identities seen
// over the process lifetime.
type SlidingWindowLimiter struct {
	Window   time.Duration
	Capacity int
	Clock    func() time.Time

	mu   sync.Mutex
	logs map[string]*requestLog
}

// requestLog holds admitted request timestamps for one identity.
type requestLog struct {
	mu    sync.Mutex
	times []time.Time
}

// NewSlidingWindowLimiter returns a limiter with the given window and
// capacity. Non-positive values fall back to the defaults.
func NewSlidingWindowLimiter(window time.Duration, capacity int) *SlidingWindowLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SlidingWindowLimiter{
		Window:   window,
		Capacity: capacity,
		logs:     make(map[string]*requestLog),
	}
}

// Allow prunes stale entries for identity, then records the current time and
// returns true if the identity is under capacity. A rejected request is not
// recorded.
func (l *SlidingWindowLimiter) Allow(identity string) bool {
	log := l.logFor(identity)

	log.mu.Lock()
	defer log.mu.Unlock()

	now := l.now()
	log.prune(now, l.window())

	if len(log.times) >= l.capacity() {
		return false
	}

	log.times = append(log.times, now)
	return true
}

// Count returns the number of requests currently inside the window for
// identity without recording anything.
func (l *SlidingWindowLimiter) Count(identity string) int {
	l.mu.Lock()
	log, ok := l.logs[identity]
	l.mu.Unlock()
	if !ok {
		return 0
	}

	log.mu.Lock()
	defer log.mu.Unlock()

	now := l.now()
	window := l.window()
	count := 0
	for _, t := range log.times {
		if !isStale(now, t, window) {
			count++
		}
	}
	return count
}

// Len returns the number of identities tracked so far.
func (l *SlidingWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.logs)
}

func (l *SlidingWindowLimiter) logFor(identity string) *requestLog {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logs == nil {
		l.logs = make(map[string]*requestLog)
	}
	log, ok := l.logs[identity]
	if !ok {
		log = &requestLog{}
		l.logs[identity] = log
	}
	return log
}

func (l *SlidingWindowLimiter) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now()
}

func (l *SlidingWindowLimiter) window() time.Duration {
	if l.Window <= 0 {
		return DefaultWindow
	}
	return l.Window
}

func (l *SlidingWindowLimiter) capacity() int {
	if l.Capacity <= 0 {
		return DefaultCapacity
	}
	return l.Capacity
}

// prune drops every timestamp that has aged out of the window. Order is
// preserved.
func (r *requestLog) prune(now time.Time, window time.Duration) {
	kept := r.times[:0]
	for _, t := range r.times {
		if !isStale(now, t, window) {
			kept = append(kept, t)
		}
	}
	clear(r.times[len(kept):])
	r.times = kept
}

// isStale reports whether t is at least window old at now. A timestamp in the
// future (the clock moved backwards) has age zero and is never stale.
func isStale(now, t time.Time, window time.Duration) bool {
	age := now.Sub(t)
	if age < 0 {
		age = 0
	}
	return age >= window
}
