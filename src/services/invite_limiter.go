package services

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type rateBucket struct {
	tokens     float64
	lastRefill time.Time
}

// InviteLimiter is a per-actor token bucket on outgoing invitations.
type InviteLimiter struct {
	burst              int
	sustainedPerMinute int

	buckets *xsync.MapOf[string, rateBucket]
}

func NewInviteLimiter(burst, sustainedPerMinute int) *InviteLimiter {
	return &InviteLimiter{
		burst:              burst,
		sustainedPerMinute: sustainedPerMinute,
		buckets:            xsync.NewMapOf[string, rateBucket](),
	}
}

func (l *InviteLimiter) Allow(actor string, now time.Time) bool {
	allowed := false
	l.buckets.Compute(actor, func(bucket rateBucket, loaded bool) (rateBucket, bool) {
		if !loaded {
			bucket = rateBucket{tokens: float64(l.burst), lastRefill: now}
		}

		elapsed := now.Sub(bucket.lastRefill).Seconds()
		if elapsed > 0 {
			refillRate := float64(l.sustainedPerMinute) / 60.0
			bucket.tokens = min(float64(l.burst), bucket.tokens+elapsed*refillRate)
			bucket.lastRefill = now
		}

		if bucket.tokens < 1 {
			return bucket, false
		}
		bucket.tokens--
		allowed = true
		return bucket, false
	})
	return allowed
}
