package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// TelemetryClient records requests. *telemetry.NewRelicClient satisfies it.
type TelemetryClient interface {
	RecordTransaction(ctx context.Context, name string, durationMs int64, statusCode int, traceID, requestID string)
	RecordSlowRequest(ctx context.Context, path string, durationMs int64, traceID, requestID string)
	RecordError(ctx context.Context, path, errorMsg string, statusCode int, traceID, requestID string)
}

// SlackClient sends alerts. *telemetry.SlackClient satisfies it.
type SlackClient interface {
	SendSlowRequestAlert(ctx context.Context, path string, durationMs int64, traceID, requestID string) error
	SendErrorAlert(ctx context.Context, path, errorMsg string, statusCode int, traceID, requestID string) error
}

// SlowRequestMiddleware reports requests slower than threshold and 5xx responses.
// Alerts are sent after the response, detached from the request's cancellation.
func SlowRequestMiddleware(
	threshold time.Duration,
	telemetryClient TelemetryClient,
	slackClient SlackClient,
	logger logging.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		traceID := GetTraceIDFromGin(c)
		requestID := GetRequestIDFromGin(c)
		ctx := context.WithoutCancel(c.Request.Context())

		if telemetryClient != nil {
			telemetryClient.RecordTransaction(ctx, c.Request.Method+" "+path, latency.Milliseconds(), statusCode, traceID, requestID)
		}

		if threshold > 0 && latency > threshold {
			logger.Warn("Slow request detected",
				logging.NewField("path", path),
				logging.NewField("duration_ms", latency.Milliseconds()),
				logging.NewField("threshold_ms", threshold.Milliseconds()),
				logging.NewField("request_id", requestID),
			)

			if telemetryClient != nil {
				telemetryClient.RecordSlowRequest(ctx, path, latency.Milliseconds(), traceID, requestID)
			}
			if slackClient != nil {
				if err := slackClient.SendSlowRequestAlert(ctx, path, latency.Milliseconds(), traceID, requestID); err != nil {
					logger.Error("Failed to send Slack alert", logging.NewField("error", err))
				}
			}
		}

		if statusCode >= 500 {
			errorMsg := "Internal server error"
			if len(c.Errors) > 0 {
				errorMsg = c.Errors.String()
			}

			if telemetryClient != nil {
				telemetryClient.RecordError(ctx, path, errorMsg, statusCode, traceID, requestID)
			}
			if slackClient != nil {
				if err := slackClient.SendErrorAlert(ctx, path, errorMsg, statusCode, traceID, requestID); err != nil {
					logger.Error("Failed to send Slack alert", logging.NewField("error", err))
				}
			}
		}
	}
}
