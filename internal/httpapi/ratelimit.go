package httpapi

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// keyedLimiter keeps one token bucket per client IP. Entries idle longer
// than the eviction window are pruned on the next sweep so the map does
// not grow without bound.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int

	lastSweep time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	limiterIdleEviction = 10 * time.Minute
	limiterSweepEvery   = time.Minute
)

func newKeyedLimiter(rps float64, burst int) *keyedLimiter {
	return &keyedLimiter{
		limiters:  map[string]*limiterEntry{},
		limit:     rate.Limit(rps),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

func (k *keyedLimiter) allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	if now.Sub(k.lastSweep) > limiterSweepEvery {
		for ip, e := range k.limiters {
			if now.Sub(e.lastSeen) > limiterIdleEviction {
				delete(k.limiters, ip)
			}
		}
		k.lastSweep = now
	}

	e, ok := k.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// rateLimit rejects callers over their per-IP budget with a 429 and a
// Retry-After hint.
func rateLimit(rps float64, burst int) fiber.Handler {
	limiter := newKeyedLimiter(rps, burst)
	return func(c *fiber.Ctx) error {
		if !limiter.allow(c.IP()) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(1))
			return c.Status(fiber.StatusTooManyRequests).
				JSON(fiber.Map{"message": "too many requests"})
		}
		return c.Next()
	}
}
