package httpservice

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// RequestSizeLimitMiddleware limits the maximum size of request bodies.
func RequestSizeLimitMiddleware(maxBytes int64, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			logger.Warn("Request body too large",
				logging.NewField("content_length", c.Request.ContentLength),
				logging.NewField("max_bytes", maxBytes),
				logging.NewField("ip", c.ClientIP()),
			)
			appErr := errors.Errorf(errors.ErrorCodeInvalidArgument, "request body exceeds %d bytes", maxBytes)
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, appErr.ToErrorResponse())
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// HTTPMethodWhitelistMiddleware restricts HTTP methods to an allowed list.
func HTTPMethodWhitelistMiddleware(allowedMethods []string, logger logging.Logger) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedMethods))
	for _, method := range allowedMethods {
		allowed[method] = true
	}

	return func(c *gin.Context) {
		if !allowed[c.Request.Method] {
			logger.Warn("HTTP method not allowed",
				logging.NewField("method", c.Request.Method),
				logging.NewField("path", c.Request.URL.Path),
				logging.NewField("ip", c.ClientIP()),
			)
			appErr := errors.Errorf(errors.ErrorCodeUnsupported, "method %s not allowed", c.Request.Method)
			c.AbortWithStatusJSON(http.StatusMethodNotAllowed, appErr.ToErrorResponse())
			return
		}
		c.Next()
	}
}
