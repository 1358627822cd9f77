package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleAfter = 30 * time.Minute

// keyedLimiter keeps one token bucket per caller; idle buckets are dropped on access.
type keyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*limiterBucket
	rate    rate.Limit
	burst   int
	now     func() time.Time
}

type limiterBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedLimiter(requests int, window time.Duration) *keyedLimiter {
	return &keyedLimiter{
		buckets: make(map[string]*limiterBucket),
		rate:    rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		now:     time.Now,
	}
}

// allow consumes a token for key and reports the wait before the next one when denied.
func (l *keyedLimiter) allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	for other, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) > limiterIdleAfter {
			delete(l.buckets, other)
		}
	}
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &limiterBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now
	l.mu.Unlock()

	reservation := bucket.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Minute
	}
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	reservation.CancelAt(now)
	return false, max(delay, time.Second)
}
