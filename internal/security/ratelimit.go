package security

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimitConfig holds request rate limiting configuration. This is a
// short-window abuse guard; daily quotas are enforced separately by the
// quota pools.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// RateLimitResult is the outcome of one rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a per-user token bucket limiter.
type RateLimiter struct {
	config *RateLimitConfig
	logger *logrus.Logger

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	stop    chan struct{}
	stopped bool
}

// NewRateLimiter creates a rate limiter and starts its idle-bucket sweeper.
func NewRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *RateLimiter {
	if config.BurstSize == 0 {
		config.BurstSize = config.RequestsPerMinute
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	rl := &RateLimiter{
		config:  config,
		logger:  logger,
		buckets: make(map[string]*tokenBucket),
		stop:    make(chan struct{}),
	}
	if config.Enabled {
		go rl.sweep()
	}
	return rl
}

// Allow checks and consumes one token for the key.
func (rl *RateLimiter) Allow(key string) *RateLimitResult {
	if !rl.config.Enabled {
		return &RateLimitResult{Allowed: true, Remaining: rl.config.RequestsPerMinute}
	}

	now := time.Now()
	perSecond := float64(rl.config.RequestsPerMinute) / 60.0

	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: float64(rl.config.BurstSize), lastRefill: now}
		rl.buckets[key] = bucket
	}

	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens += elapsed * perSecond
	if bucket.tokens > float64(rl.config.BurstSize) {
		bucket.tokens = float64(rl.config.BurstSize)
	}
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return &RateLimitResult{Allowed: true, Remaining: int(bucket.tokens)}
	}

	retryAfter := time.Duration((1 - bucket.tokens) / perSecond * float64(time.Second))
	rl.logger.WithFields(logrus.Fields{
		"key":         maskAPIKey(key),
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")
	return &RateLimitResult{Allowed: false, RetryAfter: retryAfter}
}

// Middleware enforces the rate limit per authenticated user, falling back
// to client IP for anonymous requests.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.config.Enabled || isOpenPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := clientIP(r)
			if info, ok := GetAuthInfo(r.Context()); ok {
				key = info.UserID
			}

			result := rl.Allow(key)
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":{"message":"Rate limit exceeded","type":"rate_limit_error","code":429}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Stop halts the background sweeper.
func (rl *RateLimiter) Stop() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if !rl.stopped {
		rl.stopped = true
		close(rl.stop)
	}
}

// sweep drops buckets that have been idle long enough to be full again.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.config.CleanupInterval)
			rl.mu.Lock()
			for key, bucket := range rl.buckets {
				if bucket.lastRefill.Before(cutoff) {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}
