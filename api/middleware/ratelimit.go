package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pluck/config"
	"github.com/use-agent/pluck/models"
	"golang.org/x/time/rate"
)

// MsgRateLimited is returned with 429 responses.
const MsgRateLimited = "Too many requests from this IP, please try again later."

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit returns per-identity (API key or IP) token-bucket rate limiting
// middleware powered by golang.org/x/time/rate.
//
// Entries unused for an hour are evicted every 5 minutes until ctx is done.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*limiterEntry)

	getLimiter := func(identity string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		entry, ok := limiters[identity]
		if !ok {
			entry = &limiterEntry{
				limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
			}
			limiters[identity] = entry
		}
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cutoff := time.Now().Add(-1 * time.Hour)
			mu.Lock()
			for id, entry := range limiters {
				if entry.lastSeen.Before(cutoff) {
					delete(limiters, id)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		// Prefer API key as identity (set by auth middleware); fall back to IP.
		identity := c.GetString(ContextKeyAPIKey)
		if identity == "" {
			identity = c.ClientIP()
		}

		limiter := getLimiter(identity)
		c.Header("RateLimit-Limit", strconv.Itoa(cfg.Burst))
		c.Header("RateLimit-Remaining", strconv.Itoa(int(math.Max(0, math.Floor(limiter.Tokens()-1)))))
		if !limiter.Allow() {
			if cfg.RequestsPerSecond > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(1/cfg.RequestsPerSecond))))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.MessageResponse{
				Error: MsgRateLimited,
			})
			return
		}

		c.Next()
	}
}
