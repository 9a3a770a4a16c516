package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"boarcore.com/pkg/common"
	"boarcore.com/pkg/logger"
)

// ReqId tags every request with an id, reusing the caller's X-Request-Id
// when present, and echoes it back.
func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if rid == "" {
			rid = common.NewRequestID()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		ctx := logger.WithFields(c.Request.Context(), zap.String(common.CtxKeyRequestID, rid))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
