package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"boarcore.com/pkg/common"
	"boarcore.com/pkg/logger"
	"boarcore.com/pkg/ratelimit"
	"boarcore.com/pkg/xerr"
)

// RateLimit keys buckets by client ip and route.
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if !store.Allow(c.ClientIP() + ":" + route) {
			// expected under load; no stack
			logger.Warn(c.Request.Context(), "http rate limited",
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			common.Fail(c, http.StatusTooManyRequests, xerr.RateLimited, xerr.MapErrMsg(xerr.RateLimited))
			c.Abort()
			return
		}
		c.Next()
	}
}
