// Package guard implements the distributed brute-force throttle for login
// attempts. Two counters run side by side: a slow per-IP counter that
// catches broad credential stuffing, and a fast per-email+IP counter that
// weights repeated guessing against one known account more heavily.
package guard

import (
	"context"
	"math"
	"time"

	"github.com/realhut/authd/internal/kvstore"
)

const (
	ipKeyPrefix      = "login_fail_ip_per_day"
	emailIPKeyPrefix = "login_fail_consecutive_email_and_ip"
)

// Config carries the two throttle policies. The caps and windows differ
// deliberately; they are tuned independently, not a single unified policy.
type Config struct {
	SlowBruteByIP             kvstore.Policy
	ConsecutiveFailsByEmailIP kvstore.Policy
}

// DefaultConfig mirrors the production tuning: 100 wrong attempts per IP
// per day (24h block), 10 consecutive fails per email+IP in a 90h window
// (1h block).
func DefaultConfig() Config {
	return Config{
		SlowBruteByIP: kvstore.Policy{
			Points:        100,
			Window:        24 * time.Hour,
			BlockDuration: 24 * time.Hour,
		},
		ConsecutiveFailsByEmailIP: kvstore.Policy{
			Points:        10,
			Window:        90 * time.Hour,
			BlockDuration: time.Hour,
		},
	}
}

// RetryInfo is the blocked variant returned by the guard. A nil *RetryInfo
// means the caller may proceed; being blocked is an expected outcome, not
// an error.
type RetryInfo struct {
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the value for a Retry-After header, floored
// at one second.
func (r *RetryInfo) RetryAfterSeconds() int {
	secs := int(math.Ceil(r.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Guard enforces the dual-key login throttle on top of the counter store.
// It takes no locks of its own; per-key atomicity is the store's job.
type Guard struct {
	counters *kvstore.Store
	config   Config
}

func New(counters *kvstore.Store, cfg Config) *Guard {
	return &Guard{counters: counters, config: cfg}
}

func ipKey(ip string) string {
	return ipKeyPrefix + ":" + ip
}

func emailIPKey(email, ip string) string {
	return emailIPKeyPrefix + ":" + email + "_" + ip
}

// CheckBlocked reads both counters without consuming. It must run before
// any credential-store lookup so a blocked caller costs no database work
// and leaks no timing signal. A counter at its cap blocks here: once the
// budget is spent, the very next attempt is refused without touching the
// store. Returns the longer of the two block windows when both apply.
func (g *Guard) CheckBlocked(ctx context.Context, ip, email string) (*RetryInfo, error) {
	var blocked *RetryInfo

	ipCounter, err := g.counters.Get(ctx, ipKey(ip))
	if err != nil {
		return nil, err
	}
	if ipCounter.AtCap(g.config.SlowBruteByIP) {
		blocked = retryInfoFrom(ipCounter)
	}

	if email != "" {
		pairCounter, err := g.counters.Get(ctx, emailIPKey(email, ip))
		if err != nil {
			return nil, err
		}
		if pairCounter.AtCap(g.config.ConsecutiveFailsByEmailIP) {
			if info := retryInfoFrom(pairCounter); blocked == nil || info.RetryAfter > blocked.RetryAfter {
				blocked = info
			}
		}
	}

	return blocked, nil
}

// RecordFailure consumes a point for the failed attempt. The IP counter is
// always charged; the email+IP counter only when the account exists, so a
// wrong password against a real account is weighted on both keys while
// probing nonexistent accounts only burns the IP budget.
func (g *Guard) RecordFailure(ctx context.Context, ip, email string, userExists bool) (*RetryInfo, error) {
	var blocked *RetryInfo

	ipCounter, err := g.counters.Consume(ctx, ipKey(ip), 1, g.config.SlowBruteByIP)
	if err != nil {
		return nil, err
	}
	if ipCounter.Exceeded(g.config.SlowBruteByIP) {
		blocked = retryInfoFrom(ipCounter)
	}

	if userExists && email != "" {
		pairCounter, err := g.counters.Consume(ctx, emailIPKey(email, ip), 1, g.config.ConsecutiveFailsByEmailIP)
		if err != nil {
			return nil, err
		}
		if pairCounter.Exceeded(g.config.ConsecutiveFailsByEmailIP) {
			if info := retryInfoFrom(pairCounter); blocked == nil || info.RetryAfter > blocked.RetryAfter {
				blocked = info
			}
		}
	}

	return blocked, nil
}

// RecordSuccess removes the email+IP counter outright so a legitimate user
// recovers immediately after logging in. The slow IP counter is left to
// expire on its own.
func (g *Guard) RecordSuccess(ctx context.Context, ip, email string) error {
	return g.counters.Delete(ctx, emailIPKey(email, ip))
}

func retryInfoFrom(c *kvstore.Counter) *RetryInfo {
	ms := c.MsBeforeNext
	if ms < 0 {
		ms = 0
	}
	return &RetryInfo{RetryAfter: time.Duration(ms) * time.Millisecond}
}
