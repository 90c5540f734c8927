package ratelimit

import (
	"sync"
	"time"
)

// Limiter caps how many requests a key may make inside a sliding window.
// One limiter is shared by all of a user's cries: the quota is per user, not
// per conversation.
type Limiter struct {
	options Options
	hits    map[string][]time.Time
	mtx     sync.Mutex
}

func New(opts ...Option) *Limiter {
	options := NewOptions(opts...)

	return &Limiter{
		options: options,
		hits:    map[string][]time.Time{},
	}
}

// Allow reports whether the key is under quota and, if so, records the hit.
// Check and increment happen under one lock so two concurrent requests cannot
// both squeeze through the last slot. A rejected request records nothing and
// therefore never consumes a later slot.
func (l *Limiter) Allow(key string) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	now := l.options.Now()
	cutoff := now.Add(-l.options.Window)

	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.options.Limit {
		l.hits[key] = kept
		return false
	}

	l.hits[key] = append(kept, now)
	return true
}

// Remaining reports how many slots the key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	cutoff := l.options.Now().Add(-l.options.Window)

	used := 0
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			used++
		}
	}

	if used >= l.options.Limit {
		return 0
	}

	return l.options.Limit - used
}

func (l *Limiter) Limit() int {
	return l.options.Limit
}

func (l *Limiter) Window() time.Duration {
	return l.options.Window
}
