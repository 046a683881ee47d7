package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

func newMemory() blobclient.BlobClient {
	return blobclient.NewMemoryBlobClient(blobclient.MemorySettings{})
}

func TestLoggingObserver(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := logging.NewZapLogger(zap.New(core))
	client := blobclient.WithObservers(newMemory(), LoggingObserver(logger, "photos"))
	ctx := context.Background()

	require.NoError(t, client.Write(ctx, "a.txt", "text/plain", []byte("hello")))
	_, err := client.Get(ctx, "missing")
	require.Error(t, err)
	require.Error(t, client.Write(ctx, "", "text/plain", nil))

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, "Blob operation completed", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "blob.write", fields["operation"])
	assert.Equal(t, "a.txt", fields["blob"])
	assert.Equal(t, "photos", fields["container"])
	assert.EqualValues(t, 5, fields["bytes"])

	assert.Equal(t, "Blob not found", entries[1].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)

	assert.Equal(t, "Blob operation rejected", entries[2].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
}

func TestTracingObserver(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	client := blobclient.WithObservers(newMemory(), TracingObserver(tp.Tracer(TracerName), "photos"))
	ctx := context.Background()

	require.NoError(t, client.Write(ctx, "a.txt", "text/plain", []byte("hello")))
	_, err := client.Get(ctx, "missing")
	require.Error(t, err)
	_, err = client.Enumerate(ctx, blobclient.EnumerateOptions{ContinuationToken: "!!"})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 3)

	assert.Equal(t, "blob.write", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	attrs := map[string]interface{}{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "a.txt", attrs["blob.key"])
	assert.Equal(t, "photos", attrs["blob.container"])
	assert.EqualValues(t, 5, attrs["blob.bytes"])

	assert.Equal(t, "blob.get", spans[1].Name())
	assert.Equal(t, codes.Unset, spans[1].Status().Code, "not found is not a span error")

	assert.Equal(t, "blob.enumerate", spans[2].Name())
	assert.Equal(t, codes.Error, spans[2].Status().Code)
}

type recordedEvent struct {
	eventType string
	params    map[string]interface{}
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeRecorder) RecordCustomEvent(eventType string, params map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType, params})
}

func TestNewRelicObserver(t *testing.T) {
	rec := &fakeRecorder{}
	nr := NewNewRelicClientWithRecorder(rec, "blob_gateway", logging.NewNopLogger())
	client := blobclient.WithObservers(newMemory(), NewRelicObserver(nr, "photos"))
	ctx := context.Background()

	require.NoError(t, client.Write(ctx, "a.txt", "text/plain", []byte("hi")))
	_, err := client.Get(ctx, "missing")
	require.Error(t, err)

	require.Len(t, rec.events, 2)
	assert.Equal(t, EventBlobOperation, rec.events[0].eventType)
	assert.Equal(t, "blob.write", rec.events[0].params["operation"])
	assert.Equal(t, true, rec.events[0].params["success"])
	assert.Equal(t, "blob_gateway", rec.events[0].params["service"])

	assert.Equal(t, false, rec.events[1].params["success"])
	assert.Equal(t, "NOT_FOUND", rec.events[1].params["error_code"])
}

func TestNewRelicObserverDisabled(t *testing.T) {
	nr, err := NewNewRelicClient(NewRelicConfig{}, logging.NewNopLogger())
	require.NoError(t, err)

	client := blobclient.WithObservers(newMemory(), NewRelicObserver(nr, "photos"))
	assert.NoError(t, client.Write(context.Background(), "a", "text/plain", []byte("x")))
	assert.Nil(t, nr.Application())
}
