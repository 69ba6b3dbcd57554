package handlers

import (
	"strings"
	"sync"
	"time"
)

// requestLimiter throttles per-caller request bursts inside a fixed window.
type requestLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]callerWindow
}

type callerWindow struct {
	count   int
	resetAt time.Time
}

func newRequestLimiter(limit int, window time.Duration, clock func() time.Time) *requestLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &requestLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]callerWindow),
	}
}

func (l *requestLimiter) allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || now.After(current.resetAt) {
		l.windows[key] = callerWindow{count: 1, resetAt: now.Add(l.window)}
		l.dropExpiredLocked(now)
		return true
	}

	if current.count >= l.limit {
		return false
	}
	current.count++
	l.windows[key] = current
	return true
}

func (l *requestLimiter) dropExpiredLocked(now time.Time) {
	for key, current := range l.windows {
		if now.After(current.resetAt) {
			delete(l.windows, key)
		}
	}
}
