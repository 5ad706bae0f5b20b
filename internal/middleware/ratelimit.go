package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/mockdrive-backend/internal/response"
)

// KeyFunc picks the bucket a request is charged against.
type KeyFunc func(c *gin.Context) string

// ByClientIP buckets requests by client address.
func ByClientIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// ByUserID buckets authenticated requests by the JWT subject and falls back
// to the client address when no claims are present.
func ByUserID(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return "user:" + strconv.Itoa(claims.UserID)
	}
	return ByClientIP(c)
}

// RateLimiter is a token bucket limiter keyed by KeyFunc.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     int           // tokens per interval
	interval time.Duration // refill interval
	key      KeyFunc
	now      func() time.Time
}

type bucket struct {
	tokens   int
	lastFill time.Time
}

// NewRateLimiter allows rate requests per interval per key.
func NewRateLimiter(rate int, interval time.Duration, key KeyFunc) *RateLimiter {
	if key == nil {
		key = ByClientIP
	}
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		interval: interval,
		key:      key,
		now:      time.Now,
	}
}

// RunJanitor evicts idle buckets until stop is closed.
func (rl *RateLimiter) RunJanitor(stop <-chan struct{}) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			rl.cleanup()
		}
	}
}

// Allow takes a token for key, reporting false when the bucket is empty.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.rate, lastFill: now}
		rl.buckets[key] = b
	}

	if periods := int(now.Sub(b.lastFill) / rl.interval); periods > 0 {
		b.tokens = min(rl.rate, b.tokens+periods*rl.rate)
		b.lastFill = b.lastFill.Add(time.Duration(periods) * rl.interval)
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(rl.key(c)) {
			c.Header("Retry-After", strconv.Itoa(int(rl.interval.Seconds())))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for k, b := range rl.buckets {
		if now.Sub(b.lastFill) > 3*rl.interval {
			delete(rl.buckets, k)
		}
	}
}
