// Package middleware provides rate limiting functionality
package middleware

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/roomsync/collab/internal/config"
	apierrors "github.com/roomsync/collab/internal/errors"
)

// RateLimiter holds per-key token buckets for the HTTP surface (RateLimit
// below). Per-connection frame throttling uses ConnectionLimiter instead,
// which wraps a single rate.Limiter of its own.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	config   config.RateLimitConfig
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		config:   cfg,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter := rate.NewLimiter(rate.Limit(rl.config.RequestsPerMinute)/60, rl.config.Burst)
	rl.limiters[key] = limiter

	go func() {
		time.Sleep(10 * time.Minute)
		rl.mu.Lock()
		delete(rl.limiters, key)
		rl.mu.Unlock()
	}()

	return limiter
}

// RateLimit applies rate limiting per client IP to the HTTP surface (the
// WebSocket upgrade endpoint and any admin/introspection routes).
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	rl := NewRateLimiter(cfg)

	return func(c *gin.Context) {
		limiter := rl.getLimiter(c.ClientIP())

		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.Header("X-Rate-Limit-Limit", strconv.Itoa(cfg.RequestsPerMinute))
			c.Header("X-Rate-Limit-Remaining", "0")
			apiErr := apierrors.NewRateLimitError(fmt.Sprintf("limit: %d requests per minute", cfg.RequestsPerMinute))
			c.JSON(apiErr.HTTPStatus(), apiErr)
			c.Abort()
			return
		}

		c.Header("X-Rate-Limit-Limit", strconv.Itoa(cfg.RequestsPerMinute))
		c.Next()
	}
}

// ConnectionLimiter throttles high-frequency frame kinds (cursor-update,
// op) on a single connection, independent of the HTTP-layer limiter
// above. The room server's event loop calls Allow for each incoming op and
// cursor-update frame; §4.7 recommends 10-60 Hz for cursor updates, well under what a
// misbehaving or buggy peer might otherwise push.
type ConnectionLimiter struct {
	limiter *rate.Limiter
}

// NewConnectionLimiter builds a limiter admitting ratePerSecond frames/sec
// with the given burst allowance.
func NewConnectionLimiter(ratePerSecond float64, burst int) *ConnectionLimiter {
	return &ConnectionLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Allow reports whether the current frame may proceed.
func (c *ConnectionLimiter) Allow() bool {
	return c.limiter.Allow()
}
