package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// Custom event types recorded in New Relic.
const (
	EventBlobOperation = "BlobOperation"
	EventSlowRequest   = "SlowRequest"
	EventServiceError  = "ServiceError"
)

// EventRecorder receives New Relic custom events. *newrelic.Application satisfies it.
type EventRecorder interface {
	RecordCustomEvent(eventType string, params map[string]interface{})
}

// NewRelicClient wraps the New Relic agent.
type NewRelicClient struct {
	app         *newrelic.Application
	events      EventRecorder
	logger      logging.Logger
	serviceName string
	enabled     bool
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	LicenseKey  string
	AppName     string
	ServiceName string // Name of the service (e.g., "blob_gateway")
	Enabled     bool
}

// NewNewRelicClient creates a new New Relic client.
func NewNewRelicClient(cfg NewRelicConfig, logger logging.Logger) (*NewRelicClient, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		logger.Info("New Relic disabled or license key not provided")
		return &NewRelicClient{
			enabled:     false,
			logger:      logger,
			serviceName: cfg.ServiceName,
		}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create New Relic application: %w", err)
	}

	logger.Info("New Relic client initialized",
		logging.NewField("app_name", cfg.AppName),
		logging.NewField("service", cfg.ServiceName),
	)

	return &NewRelicClient{
		app:         app,
		events:      app,
		logger:      logger,
		serviceName: cfg.ServiceName,
		enabled:     true,
	}, nil
}

// NewNewRelicClientWithRecorder creates an enabled client that sends custom events to rec
// without starting an agent.
func NewNewRelicClientWithRecorder(rec EventRecorder, serviceName string, logger logging.Logger) *NewRelicClient {
	return &NewRelicClient{
		events:      rec,
		logger:      logger,
		serviceName: serviceName,
		enabled:     true,
	}
}

// Application returns the agent application, or nil when New Relic is disabled.
func (n *NewRelicClient) Application() *newrelic.Application {
	return n.app
}

// RecordTransaction annotates the request's transaction, starting one when none is in ctx.
func (n *NewRelicClient) RecordTransaction(ctx context.Context, name string, durationMs int64, statusCode int, traceID, requestID string) {
	if !n.enabled || n.app == nil {
		return
	}

	txn := newrelic.FromContext(ctx)
	if txn == nil {
		txn = n.app.StartTransaction(name)
		defer txn.End()
	}

	txn.SetName(name)
	txn.AddAttribute("trace_id", traceID)
	txn.AddAttribute("request_id", requestID)
	txn.AddAttribute("status_code", statusCode)
	txn.AddAttribute("duration_ms", durationMs)
	txn.AddAttribute("service", n.serviceName)

	if statusCode >= 500 {
		txn.NoticeError(fmt.Errorf("HTTP %d", statusCode))
	}
}

// RecordCustomEvent records a custom event in New Relic.
func (n *NewRelicClient) RecordCustomEvent(eventType string, attributes map[string]interface{}) {
	if !n.enabled || n.events == nil {
		return
	}

	n.events.RecordCustomEvent(eventType, attributes)
}

// RecordSlowRequest records a slow gateway request.
func (n *NewRelicClient) RecordSlowRequest(ctx context.Context, path string, durationMs int64, traceID, requestID string) {
	if !n.enabled {
		return
	}

	n.RecordCustomEvent(EventSlowRequest, map[string]interface{}{
		"service":     n.serviceName,
		"path":        path,
		"duration_ms": durationMs,
		"trace_id":    traceID,
		"request_id":  requestID,
	})
	n.RecordTransaction(ctx, path, durationMs, 200, traceID, requestID)
}

// RecordError records a failed gateway request.
func (n *NewRelicClient) RecordError(ctx context.Context, path, errorMsg string, statusCode int, traceID, requestID string) {
	if !n.enabled {
		return
	}

	n.RecordCustomEvent(EventServiceError, map[string]interface{}{
		"service":     n.serviceName,
		"path":        path,
		"error":       errorMsg,
		"status_code": statusCode,
		"trace_id":    traceID,
		"request_id":  requestID,
	})
	n.RecordTransaction(ctx, path, 0, statusCode, traceID, requestID)
}

// Shutdown flushes pending data and stops the agent.
func (n *NewRelicClient) Shutdown(timeout time.Duration) {
	if n.enabled && n.app != nil {
		n.app.Shutdown(timeout)
	}
}
