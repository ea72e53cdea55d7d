package identity

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyedLimiter hands out one token bucket per key, so that one email being
// hammered does not lock everybody else out.
type keyedLimiter struct {
	mu       sync.Mutex
	every    time.Duration
	burst    int
	idle     time.Duration
	limiters map[string]*limiterEntry
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedLimiter(every time.Duration, burst int) *keyedLimiter {
	return &keyedLimiter{
		every:    every,
		burst:    burst,
		idle:     10 * time.Minute,
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

// Allow reports whether one more attempt for key may proceed now.
func (k *keyedLimiter) Allow(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	now := k.now()

	k.mu.Lock()
	defer k.mu.Unlock()

	for other, e := range k.limiters {
		if now.Sub(e.lastSeen) > k.idle {
			delete(k.limiters, other)
		}
	}

	e, ok := k.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(k.every), k.burst)}
		k.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
