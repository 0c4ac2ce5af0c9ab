package ratelimit

import (
	"github.com/gin-gonic/gin"

	"bookreview/internal/apperr"
)

// Middleware rejects a client that exceeds the limiter's quota for the
// matched route with 429.
func Middleware(l *FixedWindowLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.FullPath() + ":" + c.ClientIP()
		if !l.Allow(c.Request.Context(), key) {
			apperr.Respond(c, apperr.ErrRateLimited)
			return
		}
		c.Next()
	}
}
