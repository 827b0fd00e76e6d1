package snipe

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused conversation limiter is kept.
const limiterIdleTTL = 10 * time.Minute

// conversationLimiter applies one token bucket per channel.
type conversationLimiter struct {
	mu       sync.Mutex
	limiters map[Channel]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	config   RateLimit
	lastSeen time.Time
}

func newConversationLimiter() *conversationLimiter {
	return &conversationLimiter{limiters: make(map[Channel]*limiterEntry)}
}

// allow reports whether channel may snipe at now. A zero PerMinute disables
// limiting.
func (l *conversationLimiter) allow(channel Channel, now time.Time, config RateLimit) bool {
	if config.PerMinute <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.limiters[channel]
	if entry == nil || entry.config != config {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.PerMinute)), config.Burst),
			config:  config,
		}
		l.limiters[channel] = entry
	}
	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1)
}

// prune forgets limiters idle since before now-limiterIdleTTL.
func (l *conversationLimiter) prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for channel, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.limiters, channel)
			removed++
		}
	}

	return removed
}
