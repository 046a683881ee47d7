package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// ErrorHandlerMiddleware renders the last error attached with SetError as an
// errors.ErrorResponse, unless a response was already written.
func ErrorHandlerMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := errors.FromError(c.Errors.Last().Err)

		ctxLogger := logging.FromContextOr(c.Request.Context(), logger)
		fields := []logging.Field{
			logging.NewField("error", appErr.Error()),
			logging.NewField("code", string(appErr.Code)),
			logging.NewField("status_code", appErr.HTTPStatus),
		}
		switch {
		case appErr.HTTPStatus >= 500:
			ctxLogger.Error("Request failed", fields...)
		case appErr.Code == errors.ErrorCodeNotFound:
			ctxLogger.Debug("Request failed", fields...)
		default:
			ctxLogger.Warn("Request failed", fields...)
		}

		if !c.Writer.Written() {
			c.JSON(appErr.HTTPStatus, appErr.ToErrorResponse())
		}
	}
}

// SetError sets an error in the Gin context to be handled by ErrorHandlerMiddleware.
func SetError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
