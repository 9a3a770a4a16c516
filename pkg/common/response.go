package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"boarcore.com/pkg/logger"
	"boarcore.com/pkg/xerr"
)

// Response is the envelope every ops endpoint answers with.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{Code: code, Message: message})
}

// FailErr answers with err's code and user message. Codes are already
// HTTP-shaped; anything else becomes a 500 and the cause is logged.
func FailErr(c *gin.Context, err error) {
	code := xerr.Code(err)
	status := code
	if status < 400 || status > 599 {
		code, status = xerr.TaskFailed, http.StatusInternalServerError
	}
	if status >= 500 {
		logger.Warn(c.Request.Context(), "http error",
			zap.String("request_id", RequestIDFromGin(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Int("code", code),
			zap.Error(err))
	}
	Fail(c, status, code, xerr.UserMessage(err))
}
