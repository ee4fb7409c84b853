// Package ratelimit bounds how often a single operator may submit
// mutations.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/ruledesk/internal/clock"
)

// Limiter is a fixed-window limiter keyed by client.
type Limiter struct {
	limit    int
	interval time.Duration
	clock    clock.Clock

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

type window struct {
	start time.Time
	used  int
}

// NewLimiter allows limit calls per key in every interval. A limit of zero
// or less allows everything.
func NewLimiter(limit int, interval time.Duration, c clock.Clock) *Limiter {
	c = clock.Or(c)
	return &Limiter{
		limit:     limit,
		interval:  interval,
		clock:     c,
		windows:   make(map[string]*window),
		lastSweep: c.Now(),
	}
}

// Allow takes one call for key. When the window is exhausted it returns
// false and the time until the window reopens.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l == nil || l.limit <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.sweep(now)

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.interval {
		w = &window{start: now}
		l.windows[key] = w
	}
	if w.used >= l.limit {
		return false, w.start.Add(l.interval).Sub(now)
	}
	w.used++
	return true, 0
}

// Reset clears the window for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Len reports how many keys hold an open window.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// sweep drops expired windows at most once per interval.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.interval {
		return
	}
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.interval {
			delete(l.windows, key)
		}
	}
	l.lastSweep = now
}
