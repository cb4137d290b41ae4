package middleware

import (
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter manages one token bucket per key (client IP, account)
type KeyedRateLimiter struct {
	limiters  map[string]*limiterEntry
	mu        sync.Mutex
	rate      rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewKeyedRateLimiter creates a new keyed rate limiter
func NewKeyedRateLimiter(r rate.Limit, b int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    b,
		now:      time.Now,
	}
}

// GetLimiter returns the rate limiter for the given key. Entries idle for
// longer than ten minutes are dropped on the way.
func (k *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if now.Sub(k.lastSweep) > limiterIdleTTL {
		k.sweep(now)
	}

	entry, exists := k.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(k.rate, k.burst)}
		k.limiters[key] = entry
	}
	entry.lastSeen = now

	return entry.limiter
}

// Len returns the number of tracked keys
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

func (k *KeyedRateLimiter) sweep(now time.Time) {
	for key, entry := range k.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(k.limiters, key)
		}
	}
	k.lastSweep = now
}

func rateLimited(c echo.Context, logger *slog.Logger, key, retryAfter string) error {
	if logger != nil {
		logger.Warn("rate limit exceeded",
			slog.String("key", key),
			slog.String("path", c.Path()))
	}

	c.Response().Header().Set("Retry-After", retryAfter)
	return echo.NewHTTPError(429, map[string]string{
		"error":       "rate limit exceeded",
		"code":        "RATE_LIMITED",
		"retry_after": retryAfter,
	})
}

// RateLimiterWithConfig returns per-client-IP rate limiting middleware
func RateLimiterWithConfig(requestsPerSecond float64, burst int, logger *slog.Logger) echo.MiddlewareFunc {
	limiter := NewKeyedRateLimiter(rate.Limit(requestsPerSecond), burst)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !limiter.GetLimiter(ip).Allow() {
				return rateLimited(c, logger, ip, "60")
			}
			return next(c)
		}
	}
}

// SyncRateLimiter limits manual sync requests per user and account. It
// must run after RequireUser on a route with an :id parameter.
func SyncRateLimiter(perMinute int, logger *slog.Logger) echo.MiddlewareFunc {
	if perMinute <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	limiter := NewKeyedRateLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	retryAfter := strconv.Itoa(int(math.Ceil(60 / float64(perMinute))))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := UserID(c) + "/" + c.Param("id")
			if !limiter.GetLimiter(key).Allow() {
				return rateLimited(c, logger, key, retryAfter)
			}
			return next(c)
		}
	}
}
