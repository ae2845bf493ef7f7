package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 5 * time.Minute

// RateLimiter throttles each client IP separately per top-level route group, so a burst of
// /oauth2/token calls does not starve /auth/login for the same caller.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewRateLimiter budgets requestsPerMinute per client and route group. Zero or less disables
// throttling and returns nil.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		perSecond: rate.Limit(float64(requestsPerMinute) / 60),
		burst:     max(requestsPerMinute/10, 1),
		buckets:   make(map[string]*bucket),
		now:       time.Now,
	}
}

// Handler returns the gin middleware. A nil limiter passes every request through.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		wait, ok := r.take(c.ClientIP() + "|" + routeGroup(c.Request.URL.Path))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limited",
				"error_description": "too many requests",
			})
			return
		}
		c.Next()
	}
}

// take consumes one token for key. When the bucket is empty it reports how long until the next
// token is available.
func (r *RateLimiter) take(key string) (time.Duration, bool) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.perSecond, r.burst)}
		r.buckets[key] = b
	}
	b.seen = now
	if now.Sub(r.lastSweep) > limiterIdleTTL {
		r.sweep(now)
	}

	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay, false
	}
	return 0, true
}

func (r *RateLimiter) sweep(now time.Time) {
	for key, b := range r.buckets {
		if now.Sub(b.seen) > limiterIdleTTL {
			delete(r.buckets, key)
		}
	}
	r.lastSweep = now
}

func routeGroup(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}
