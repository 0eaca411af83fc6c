package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/pkg/ratelimit"
)

// RateLimit rejects clients that exceed the sliding window, keyed by client IP
func RateLimit(limiter *ratelimit.SlidingWindow) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !limiter.Allow(key) {
			retry := int(limiter.RetryAfter(key).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retry))
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, model.ErrorResponse{
				Error:   "rate_limited",
				Message: model.ErrRateLimited.Error(),
			})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))
		c.Next()
	}
}
