package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// ContextLoggerMiddleware attaches a contextual logger to the request context.
// The logger is pre-populated with service, trace_id, request_id and, for blob
// routes, the user and container being addressed.
func ContextLoggerMiddleware(baseLogger logging.Logger, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := []logging.Field{
			logging.NewField("service", serviceName),
		}

		if traceID := GetTraceIDFromGin(c); traceID != "" {
			fields = append(fields, logging.NewField("trace_id", traceID))
		}
		if requestID := GetRequestIDFromGin(c); requestID != "" {
			fields = append(fields, logging.NewField("request_id", requestID))
		}
		if user := c.Param("user"); user != "" {
			fields = append(fields, logging.NewField("user", user))
		}
		if container := c.Param("container"); container != "" {
			fields = append(fields, logging.NewField("container", container))
		}

		ctx := logging.WithLogger(c.Request.Context(), baseLogger.With(fields...))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
