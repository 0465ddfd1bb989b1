package server

import (
	"sync"
	"time"
)

// loginRateLimiter blocks a client/username pair after repeated failed logins.
// A nil limiter allows everything.
type loginRateLimiter struct {
	mu            sync.Mutex
	entries       map[string]loginAttempts
	maxFailures   int
	window        time.Duration
	blockFor      time.Duration
	staleAfter    time.Duration
	ops           int
	cleanupEveryN int
}

type loginAttempts struct {
	failures     int
	windowStart  time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

func newLoginRateLimiter(maxFailures int, window, blockFor time.Duration) *loginRateLimiter {
	if maxFailures <= 0 || window <= 0 || blockFor <= 0 {
		return nil
	}
	staleAfter := max(window, blockFor) * 2
	if staleAfter < 10*time.Minute {
		staleAfter = 10 * time.Minute
	}
	return &loginRateLimiter{
		entries:       make(map[string]loginAttempts),
		maxFailures:   maxFailures,
		window:        window,
		blockFor:      blockFor,
		staleAfter:    staleAfter,
		cleanupEveryN: 64,
	}
}

// Allow reports whether key may attempt a login now. When blocked, the
// remaining block time is returned.
func (l *loginRateLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	if l == nil || key == "" {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.maybeCleanupLocked(now)

	entry := l.entries[key]
	entry.lastSeen = now
	if now.Before(entry.blockedUntil) {
		l.entries[key] = entry
		return false, entry.blockedUntil.Sub(now)
	}
	entry.blockedUntil = time.Time{}
	if !entry.windowStart.IsZero() && now.Sub(entry.windowStart) > l.window {
		entry.failures = 0
		entry.windowStart = time.Time{}
	}
	l.entries[key] = entry
	return true, 0
}

// RegisterFailure counts one failed login and starts a block once the
// limit is reached within the window.
func (l *loginRateLimiter) RegisterFailure(key string, now time.Time) {
	if l == nil || key == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.maybeCleanupLocked(now)

	entry := l.entries[key]
	if entry.windowStart.IsZero() || now.Sub(entry.windowStart) > l.window {
		entry.failures = 0
		entry.windowStart = now
	}
	entry.failures++
	if entry.failures >= l.maxFailures {
		entry.blockedUntil = now.Add(l.blockFor)
		entry.failures = 0
		entry.windowStart = time.Time{}
	}
	entry.lastSeen = now
	l.entries[key] = entry
}

// Reset forgets key after a successful login.
func (l *loginRateLimiter) Reset(key string) {
	if l == nil || key == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

func (l *loginRateLimiter) maybeCleanupLocked(now time.Time) {
	l.ops++
	if l.ops%l.cleanupEveryN != 0 {
		return
	}
	for key, entry := range l.entries {
		if entry.lastSeen.IsZero() || now.Sub(entry.lastSeen) > l.staleAfter {
			delete(l.entries, key)
		}
	}
}
