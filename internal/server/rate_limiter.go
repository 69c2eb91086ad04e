package server

import (
	"sync"
	"time"
)

// rateLimiter is a fixed-window counter keyed by username. Order
// creation is the only write endpoint exposed to users, so in-process
// state is enough; the durable idempotency layer backstops anything
// that slips through during a rolling deploy. A limit of zero disables
// the limiter.
type rateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]rateWindow
}

type rateWindow struct {
	openedAt time.Time
	used     int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]rateWindow),
	}
}

func (r *rateLimiter) Allow(key string) bool {
	if r.limit <= 0 {
		return true
	}
	if key == "" {
		return false
	}

	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[key]
	if !ok || now.Sub(w.openedAt) > r.window {
		r.pruneLocked(now)
		w = rateWindow{openedAt: now}
	}
	if w.used >= r.limit {
		return false
	}

	w.used++
	r.windows[key] = w
	return true
}

// pruneLocked drops expired windows. Called on window rollover, so the
// map tracks active users rather than everyone ever seen.
func (r *rateLimiter) pruneLocked(now time.Time) {
	for key, w := range r.windows {
		if now.Sub(w.openedAt) > r.window {
			delete(r.windows, key)
		}
	}
}
