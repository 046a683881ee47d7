package blobfactory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/blobclient/blobtest"
	"github.com/yourorg/go-blob-kit/pkg/blobevents"
	"github.com/yourorg/go-blob-kit/pkg/config"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
	"github.com/yourorg/go-blob-kit/pkg/servicebusclient"
)

func loadConfig(t *testing.T, values config.MapConfigSource) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig(values)
	require.NoError(t, err)
	return cfg
}

func TestNewBuildsEachLocalProvider(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name         string
		values       config.MapConfigSource
		urlSupported bool
	}{
		{"memory", config.MapConfigSource{"BLOB_PROVIDER": "memory", "BLOB_PAGE_SIZE": "2"}, false},
		{"disk", config.MapConfigSource{"BLOB_PROVIDER": "disk", "DISK_DIRECTORY": filepath.Join(dir, "disk"), "BLOB_PAGE_SIZE": "2"}, true},
		{"sqlite", config.MapConfigSource{"BLOB_PROVIDER": "sql", "SQL_DRIVER": "sqlite", "SQL_DSN": filepath.Join(dir, "blobs.db"), "BLOB_PAGE_SIZE": "2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(context.Background(), loadConfig(t, tt.values), logging.NewNopLogger(), Options{})
			require.NoError(t, err)
			t.Cleanup(func() { _ = client.Close() })

			blobtest.RunSuite(t, func(t *testing.T) blobclient.BlobClient { return client }, blobtest.Options{PageSize: 2, URLSupported: tt.urlSupported})
		})
	}
}

func TestNewRejectsBadProviderSettings(t *testing.T) {
	tests := []struct {
		name   string
		values config.MapConfigSource
	}{
		{"s3 without credentials", config.MapConfigSource{"BLOB_PROVIDER": "s3", "S3_BUCKET": "b"}},
		{"azure without account", config.MapConfigSource{"BLOB_PROVIDER": "azure"}},
		{"gcs without bucket", config.MapConfigSource{"BLOB_PROVIDER": "gcs"}},
		{"kvpbase without endpoint", config.MapConfigSource{"BLOB_PROVIDER": "kvpbase"}},
		{"sql without dsn", config.MapConfigSource{"BLOB_PROVIDER": "sql"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), loadConfig(t, tt.values), logging.NewNopLogger(), Options{})
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgument(err), "got %v", err)
		})
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := loadConfig(t, config.MapConfigSource{})
	cfg.Provider = "ftp"

	_, err := New(context.Background(), cfg, logging.NewNopLogger(), Options{})
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestDecoratorChain(t *testing.T) {
	cfg := loadConfig(t, config.MapConfigSource{"BLOB_CONTAINER": "assets"})

	client, err := New(context.Background(), cfg, logging.NewNopLogger(), Options{})
	require.NoError(t, err)

	observed, ok := client.BlobClient.(*blobclient.ObservedClient)
	require.True(t, ok, "got %T", client.BlobClient)
	retrying, ok := observed.Unwrap().(*blobclient.RetryingClient)
	require.True(t, ok, "got %T", observed.Unwrap())
	assert.IsType(t, &blobclient.MemoryBlobClient{}, retrying.Unwrap())

	cfg.RetryMaxAttempts = 1
	client, err = New(context.Background(), cfg, logging.NewNopLogger(), Options{})
	require.NoError(t, err)
	observed = client.BlobClient.(*blobclient.ObservedClient)
	assert.IsType(t, &blobclient.MemoryBlobClient{}, observed.Unwrap(), "retries disabled")
}

func TestObserversReceiveCalls(t *testing.T) {
	ctx := context.Background()
	cfg := loadConfig(t, config.MapConfigSource{"BLOB_CONTAINER": "assets"})

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	bus := servicebusclient.NewMockServiceBusClient()

	client, err := New(ctx, cfg, logging.NewNopLogger(), Options{
		Tracer: tp.Tracer("test"),
		Events: blobevents.NewPublisher(bus, "blob-events", cfg.Container, logging.NewNopLogger()),
	})
	require.NoError(t, err)

	require.NoError(t, client.Write(ctx, "a.txt", "text/plain", []byte("hi")))
	_, err = client.Get(ctx, "a.txt")
	require.NoError(t, err)

	assert.Len(t, recorder.Ended(), 2)
	assert.Equal(t, 1, bus.Len("blob-events"), "only the write is published")
}
