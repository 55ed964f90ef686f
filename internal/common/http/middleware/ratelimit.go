package middleware

import (
	"sync"
	"time"

	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	// RequestsPerSecond is the refill rate; zero disables limiting.
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
	// IdleTTL drops buckets of clients not seen for this long.
	IdleTTL time.Duration `yaml:"idleTTL"`
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client ip.
type IPRateLimiter struct {
	cfg       RateLimitConfig
	now       func() time.Time
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewIPRateLimiter creates a limiter. Burst defaults to the rate rounded up.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond + 0.999)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &IPRateLimiter{cfg: cfg, now: time.Now, buckets: make(map[string]*bucket)}
}

// Allow consumes one token for ip.
func (l *IPRateLimiter) Allow(ip string) bool {
	if l.cfg.RequestsPerSecond <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) > l.cfg.IdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.cfg.IdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RateLimitMiddleware rejects clients over their budget with TooManyRequests.
// onReject, when set, is called for every rejected request.
func RateLimitMiddleware(limiter *IPRateLimiter, onReject func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		if onReject != nil {
			onReject()
		}
		response.AbortWithErrorCode(c, appErr.TooManyRequests, "")
	}
}
