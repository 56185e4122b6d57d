package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// PublicRateLimit limits unauthenticated routes per client IP. When the
// limiter backend fails the request is let through.
func PublicRateLimit(limiter ratelimit.Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limit check failed", "client_ip", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", d.ResetAt.Unix()))

		if !d.Allowed {
			retryAfter := int(time.Until(d.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}

			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.Set(ErrorCodeKey, "RATE_LIMITED")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
				"code":  "RATE_LIMITED",
				"limit": d.Limit,
			})
			return
		}

		c.Next()
	}
}
