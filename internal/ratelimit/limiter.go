// Package ratelimit implements sliding-window-log rate limiting keyed by client IP and by
// fingerprint, plus the violation log that feeds suspicion scoring.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits or rejects one hit for a key within a sliding window.
type Limiter interface {
	// Allow records a hit for key and reports whether it is within the limit.
	Allow(ctx context.Context, key string) (bool, error)
}

// IPKey and FingerprintKey namespace limiter keys so the two scopes never collide.
func IPKey(ip string) string { return "ip:" + ip }

func FingerprintKey(fp string) string { return "fp:" + fp }

// MemoryLimiter keeps a timestamp log per key in process memory.
// Rejected hits are not logged, so a client that keeps hammering is admitted again
// as soon as the oldest admitted hit leaves the window.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	nowF   func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewMemoryLimiter returns a limiter admitting at most limit hits per key within window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		nowF:   time.Now,
		hits:   make(map[string][]time.Time),
	}
}

var _ Limiter = (*MemoryLimiter)(nil)

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.nowF()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	log := l.hits[key]
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	log = log[i:]
	if len(log) >= l.limit {
		l.hits[key] = log
		return false, nil
	}
	l.hits[key] = append(log, now)
	return true, nil
}

// Prune drops keys whose logs have fully aged out of the window.
func (l *MemoryLimiter) Prune() {
	cutoff := l.nowF().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, log := range l.hits {
		if len(log) == 0 || !log[len(log)-1].After(cutoff) {
			delete(l.hits, k)
		}
	}
}

// Keys returns the number of keys currently tracked.
func (l *MemoryLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}
