package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"tts-gateway/internal/apierror"
	"tts-gateway/internal/models"

	"github.com/patrickmn/go-cache"
)

// RateLimiter enforces each custom key's configured requests-per-day
// budget with an in-memory token bucket.
type RateLimiter struct {
	cache *cache.Cache
}

type dayBucket struct {
	capacity   int
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

func newDayBucket(capacity int) *dayBucket {
	return &dayBucket{
		capacity:   capacity,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

// refill resets the bucket when the calendar day has rolled over.
func (b *dayBucket) refill() {
	now := time.Now()
	if now.YearDay() != b.lastRefill.YearDay() || now.Year() != b.lastRefill.Year() {
		b.tokens = b.capacity
		b.lastRefill = now
	}
}

func (b *dayBucket) tryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (b *dayBucket) remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		cache: cache.New(24*time.Hour, 48*time.Hour),
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := KeyFromContext(r.Context())
		if key == nil {
			next.ServeHTTP(w, r)
			return
		}

		bucket := rl.getOrCreateBucket(key)
		if !bucket.tryConsume() {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", nextMidnight().Unix()))
			apierror.WriteJSON(w, apierror.RateLimited("Daily rate limit exceeded"))
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", key.RateLimit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", bucket.remaining()))
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) getOrCreateBucket(key *models.CustomKey) *dayBucket {
	cacheKey := "bucket:" + key.ID

	if cached, found := rl.cache.Get(cacheKey); found {
		return cached.(*dayBucket)
	}

	bucket := newDayBucket(key.RateLimit)
	rl.cache.Set(cacheKey, bucket, 48*time.Hour)
	return bucket
}

// ResetKey discards a key's bucket so an updated limit takes effect
// immediately.
func (rl *RateLimiter) ResetKey(keyID string) {
	rl.cache.Delete("bucket:" + keyID)
}

func nextMidnight() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
