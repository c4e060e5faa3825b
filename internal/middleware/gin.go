package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// IdentityFromRequest resolves an HTTP caller: API key header when present,
// client IP otherwise. The tier comes from an upstream auth layer via the
// X-Tier header; absent means default tier.
func IdentityFromRequest(c *gin.Context) (identity, tier string) {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return "apikey:" + key, c.GetHeader("X-Tier")
	}
	return "ip:" + c.ClientIP(), c.GetHeader("X-Tier")
}

// Middleware returns the gin form of the admission controller.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, tier := IdentityFromRequest(c)
		result := rl.Check(identity, tier, c.FullPath(), c.Request.Method)

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(result.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       ErrLimited.Error(),
				"retry_after": result.RetryAfter,
			})
			return
		}
		c.Next()
	}
}
