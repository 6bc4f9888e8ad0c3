// ABOUTME: Fixed-window rate limiter keyed by hashed client identity
// ABOUTME: Thread-safe counter map with a background cleanup goroutine

package ratelimit

import (
	"sync"
	"time"
)

// Default limits: 10 requests per rolling 60-second window per client.
const (
	DefaultMaxRequests = 10
	DefaultWindow      = 60 * time.Second
)

// window tracks the request count for one client within the current window.
type window struct {
	start time.Time
	count int
}

// Limiter is a thread-safe fixed-window rate limiter. Each client key gets
// an independent counter that resets when its window elapses. A background
// goroutine sweeps stale windows so the map does not grow unbounded.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	max     int
	span    time.Duration
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a rate limiter allowing max requests per span. Non-positive
// arguments fall back to the defaults.
func New(max int, span time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if span <= 0 {
		span = DefaultWindow
	}
	l := &Limiter{
		windows: make(map[string]*window),
		max:     max,
		span:    span,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Admit atomically counts a request for key and reports whether it is within
// the limit. The denied request itself is not counted against a fresh window,
// so a client that keeps retrying still recovers when its window expires.
func (l *Limiter) Admit(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.span {
		l.windows[key] = &window{start: now, count: 1}
		return true
	}

	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// Retry returns how long the client for key must wait before a request can
// succeed again. Zero means a request would be admitted right now.
func (l *Limiter) Retry(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || w.count < l.max {
		return 0
	}
	remaining := l.span - l.now().Sub(w.start)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// cleanup runs in a background goroutine, periodically removing expired windows.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runCleanup()
		case <-l.done:
			return
		}
	}
}

// runCleanup removes all windows that have fully elapsed.
func (l *Limiter) runCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.span {
			delete(l.windows, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
