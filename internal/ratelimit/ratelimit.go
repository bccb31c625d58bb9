// Package ratelimit throttles abuse-prone endpoints and decides how to behave when the
// counter store itself is unavailable.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errMissingStore = errors.New("rate limit store is required")

// Store counts hits per key and reports whether the key is still under perMinute.
type Store interface {
	Allow(ctx context.Context, key string, perMinute int, now time.Time) (bool, error)
}

// GuardConfig wires a Guard.
type GuardConfig struct {
	Store Store
	// FailOpen allows requests when the store errors. When false, store errors deny.
	FailOpen bool
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Guard applies a Store and the fail-open policy.
type Guard struct {
	store    Store
	failOpen bool
	clock    func() time.Time
	logger   *zap.Logger
}

// NewGuard constructs a Guard.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{store: cfg.Store, failOpen: cfg.FailOpen, clock: clock, logger: logger}, nil
}

// Allow reports whether the request identified by key may proceed. A non-positive perMinute
// disables the limit.
func (g *Guard) Allow(ctx context.Context, key string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	allowed, err := g.store.Allow(ctx, key, perMinute, g.clock())
	if err == nil {
		return allowed
	}
	if g.failOpen {
		g.logger.Warn("rate limit store unavailable, allowing request", zap.String("key", key), zap.Error(err))
		return true
	}
	g.logger.Error("rate limit store unavailable, denying request", zap.String("key", key), zap.Error(err))
	return false
}

// Middleware limits a route to perMinute requests per client IP.
func (g *Guard) Middleware(route string, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Allow(c.Request.Context(), route+":"+c.ClientIP(), perMinute) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}
