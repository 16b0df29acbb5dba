package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/cppla/goaltrack/config"
	"github.com/cppla/goaltrack/utils"
)

type rateLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

var (
	limiters   = map[string]*rateLimiter{}
	limitersMu sync.Mutex
)

// RateLimitMiddleware applies a token bucket per authenticated user, or per
// client IP before authentication.
func RateLimitMiddleware() gin.HandlerFunc {
	cfg := config.Get()
	r := rate.Every(time.Minute / time.Duration(max(cfg.RateLimitPerMinute, 1)))
	burst := max(cfg.RateLimitPerMinute/2, 1)

	return func(ctx *gin.Context) {
		key := "ip:" + ctx.ClientIP()
		if uid, ok := UserID(ctx); ok {
			key = "user:" + uid
		}

		if !getLimiter(key, r, burst).Allow() {
			utils.Error(ctx, http.StatusTooManyRequests, 42901, "rate limit exceeded")
			ctx.Abort()
			return
		}

		ctx.Next()
	}
}

func getLimiter(key string, limit rate.Limit, burst int) *rate.Limiter {
	limitersMu.Lock()
	defer limitersMu.Unlock()

	cleanupExpiredLimitersLocked()

	if l, ok := limiters[key]; ok {
		l.expires = time.Now().Add(5 * time.Minute)
		return l.limiter
	}

	l := &rateLimiter{
		limiter: rate.NewLimiter(limit, burst),
		expires: time.Now().Add(5 * time.Minute),
	}
	limiters[key] = l
	return l.limiter
}

func cleanupExpiredLimitersLocked() {
	now := time.Now()
	for key, l := range limiters {
		if now.After(l.expires) {
			delete(limiters, key)
		}
	}
}
