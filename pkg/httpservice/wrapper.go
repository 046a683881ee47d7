package httpservice

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// HandlerFunc is a handler function that returns an error.
type HandlerFunc func(c *gin.Context) error

// Wrap adapts a HandlerFunc to gin, logging entry, exit and latency and
// rendering any returned error through HandleError.
func Wrap(handlerName string, fn HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := logging.FromContext(c.Request.Context())
		start := time.Now()

		logger.Debug("Handler started",
			logging.NewField("handler", handlerName),
			logging.NewField("method", c.Request.Method),
			logging.NewField("path", c.Request.URL.Path),
		)

		err := fn(c)
		latency := time.Since(start)

		if err != nil {
			logger.Debug("Handler failed",
				logging.NewField("handler", handlerName),
				logging.NewField("latency_ms", latency.Milliseconds()),
				logging.NewField("error", err),
			)
			HandleError(c, err)
			return
		}

		logger.Debug("Handler completed",
			logging.NewField("handler", handlerName),
			logging.NewField("latency_ms", latency.Milliseconds()),
		)
	}
}
