package httpservice

import (
	"github.com/gin-gonic/gin"

	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// GetLogger retrieves the contextual logger from the request.
func GetLogger(c *gin.Context) logging.Logger {
	return logging.FromContext(c.Request.Context())
}

// LogDebug logs a debug message using the contextual logger.
func LogDebug(c *gin.Context, msg string, fields ...logging.Field) {
	GetLogger(c).Debug(msg, fields...)
}

// HandleError writes err as an errors.ErrorResponse and records it on the context
// for the error and alerting middleware.
func HandleError(c *gin.Context, err error) {
	appErr := errors.FromError(err)
	_ = c.Error(err)
	if !c.Writer.Written() {
		if c.Request.Method == "HEAD" {
			c.Status(appErr.HTTPStatus)
			c.Writer.WriteHeaderNow()
		} else {
			c.JSON(appErr.HTTPStatus, appErr.ToErrorResponse())
		}
	}
	c.Abort()
}
