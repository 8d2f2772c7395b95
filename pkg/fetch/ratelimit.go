package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter hands out per-host request slots at least delay apart.
// Each Wait reserves the next free slot under the lock, so concurrent
// callers for one host are spread out instead of waking together.
type RateLimiter struct {
	mu    sync.Mutex
	next  map[string]time.Time // host -> earliest start of the next request
	delay time.Duration
	now   func() time.Time
	log   *logrus.Entry
}

// NewRateLimiter creates a RateLimiter; a non-positive delay disables it
func NewRateLimiter(delay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		next:  make(map[string]time.Time),
		delay: delay,
		now:   time.Now,
		log:   log,
	}
}

// reserve returns how long the caller must sleep before using its slot
func (rl *RateLimiter) reserve(host string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	start, ok := rl.next[host]
	if !ok || start.Before(now) {
		start = now
	}
	rl.next[host] = start.Add(rl.jittered())
	return start.Sub(now)
}

// jittered is delay +/- 10%
func (rl *RateLimiter) jittered() time.Duration {
	spread := int64(rl.delay) / 5
	if spread <= 0 {
		return rl.delay
	}
	return rl.delay - rl.delay/10 + time.Duration(rand.Int63n(spread))
}

// Wait blocks until the caller's slot for host arrives.
// A reserved slot is not given back on cancellation.
func (rl *RateLimiter) Wait(ctx context.Context, host string) error {
	if rl.delay <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pause := rl.reserve(host)
	if pause <= 0 {
		return nil
	}
	rl.log.WithFields(logrus.Fields{"host": host, "sleep": pause}).Debug("Rate limit applying sleep")

	timer := time.NewTimer(pause)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
