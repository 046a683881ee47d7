package telemetry

import (
	"context"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

func callFields(call *blobclient.Call) []logging.Field {
	fields := []logging.Field{logging.NewField("operation", string(call.Operation))}
	if call.Key != "" {
		fields = append(fields, logging.NewField("blob", call.Key))
	}
	if call.Prefix != "" {
		fields = append(fields, logging.NewField("prefix", call.Prefix))
	}
	return fields
}

// LoggingObserver logs every blob operation. The request logger in ctx is used
// when present, so request IDs flow into the entries.
func LoggingObserver(logger logging.Logger, container string) blobclient.Observer {
	return func(ctx context.Context, call *blobclient.Call) (context.Context, func(error)) {
		start := time.Now()
		return ctx, func(err error) {
			log := logging.FromContextOr(ctx, logger)
			fields := append(callFields(call),
				logging.NewField("container", container),
				logging.NewField("duration_ms", time.Since(start).Milliseconds()),
				logging.NewField("bytes", call.Bytes),
			)
			if call.Count > 0 || call.Operation == blobclient.OpEnumerate || call.Operation == blobclient.OpEmpty {
				fields = append(fields, logging.NewField("count", call.Count))
			}

			switch {
			case err == nil:
				log.DebugWithContext(ctx, "Blob operation completed", fields...)
			case errors.IsNotFound(err):
				log.DebugWithContext(ctx, "Blob not found", fields...)
			case errors.IsInvalidArgument(err):
				log.WarnWithContext(ctx, "Blob operation rejected", append(fields, logging.NewField("error", err))...)
			default:
				log.ErrorWithContext(ctx, "Blob operation failed", append(fields,
					logging.NewField("error", err),
					logging.NewField("code", string(errors.CodeOf(err))),
				)...)
			}
		}
	}
}

// TracingObserver starts a span per blob operation.
func TracingObserver(tracer trace.Tracer, container string) blobclient.Observer {
	return func(ctx context.Context, call *blobclient.Call) (context.Context, func(error)) {
		attrs := []attribute.KeyValue{
			attribute.String("blob.operation", string(call.Operation)),
			attribute.String("blob.container", container),
		}
		if call.Key != "" {
			attrs = append(attrs, attribute.String("blob.key", call.Key))
		}
		if call.Prefix != "" {
			attrs = append(attrs, attribute.String("blob.prefix", call.Prefix))
		}

		ctx, span := tracer.Start(ctx, string(call.Operation),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attrs...),
		)
		return ctx, func(err error) {
			defer span.End()
			span.SetAttributes(
				attribute.Int64("blob.bytes", call.Bytes),
				attribute.Int64("blob.count", call.Count),
			)
			if call.Operation == blobclient.OpWriteMany {
				span.SetAttributes(attribute.Int("blob.committed", len(call.Committed)))
			}
			if err != nil {
				span.SetAttributes(attribute.String("blob.error_code", string(errors.CodeOf(err))))
				if !errors.IsNotFound(err) {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
			}
		}
	}
}

// NewRelicObserver records a BlobOperation custom event per call and, when a
// transaction is in ctx, a segment around the call.
func NewRelicObserver(client *NewRelicClient, container string) blobclient.Observer {
	return func(ctx context.Context, call *blobclient.Call) (context.Context, func(error)) {
		if !client.enabled {
			return ctx, nil
		}

		start := time.Now()
		var segment *newrelic.Segment
		if txn := newrelic.FromContext(ctx); txn != nil {
			segment = txn.StartSegment(string(call.Operation))
		}

		return ctx, func(err error) {
			if segment != nil {
				segment.End()
			}

			attrs := map[string]interface{}{
				"service":     client.serviceName,
				"container":   container,
				"operation":   string(call.Operation),
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       call.Bytes,
				"count":       call.Count,
				"success":     err == nil,
			}
			if call.Key != "" {
				attrs["blob"] = call.Key
			}
			if err != nil {
				attrs["error_code"] = string(errors.CodeOf(err))
			}
			client.RecordCustomEvent(EventBlobOperation, attrs)
		}
	}
}
