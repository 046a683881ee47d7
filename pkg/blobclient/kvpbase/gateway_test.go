package kvpbase_test

import (
	"context"
	stderrors "errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/blobclient/blobtest"
	"github.com/yourorg/go-blob-kit/pkg/blobclient/kvpbase"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/httpservice"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

const testAPIKey = "gateway-test-key"

func newGateway(t *testing.T, backend blobclient.BlobClient) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := httpservice.NewRouter(httpservice.ServerConfig{
		ServiceName: "blob-gateway-test",
		Logger:      logging.NewNopLogger(),
	})
	handler := httpservice.NewBlobHandler(
		httpservice.PrefixResolver{Backend: backend},
		httpservice.AuthConfig{APIKeys: []string{testAPIKey}},
	)
	handler.Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, container, apiKey string) *kvpbase.Client {
	t.Helper()
	c, err := kvpbase.NewWithHTTPClient(kvpbase.Settings{
		Endpoint:  srv.URL,
		UserGUID:  "user-1",
		Container: container,
		APIKey:    apiKey,
	}, srv.Client(), logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func TestGatewayConformance(t *testing.T) {
	blobtest.RunSuite(t, func(t *testing.T) blobclient.BlobClient {
		backend := blobclient.NewMemoryBlobClient(blobclient.MemorySettings{PageSize: 3})
		return newClient(t, newGateway(t, backend), "default", testAPIKey)
	}, blobtest.Options{PageSize: 3, URLSupported: true})
}

func TestContainersAreIsolated(t *testing.T) {
	ctx := context.Background()
	backend := blobclient.NewMemoryBlobClient(blobclient.MemorySettings{})
	srv := newGateway(t, backend)

	photos := newClient(t, srv, "photos", testAPIKey)
	docs := newClient(t, srv, "docs", testAPIKey)

	require.NoError(t, photos.Write(ctx, "a.jpg", "image/jpeg", []byte("jpeg")))

	ok, err := docs.Exists(ctx, "a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = backend.Exists(ctx, "user-1/photos/a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := docs.Empty(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Count)

	ok, err = photos.Exists(ctx, "a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWrongAPIKeyIsUnauthorized(t *testing.T) {
	srv := newGateway(t, blobclient.NewMemoryBlobClient(blobclient.MemorySettings{}))
	c := newClient(t, srv, "default", "wrong-key")

	_, err := c.Exists(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, errors.IsUnauthorized(err), "got %v", err)

	err = c.Write(context.Background(), "a", "text/plain", []byte("x"))
	assert.True(t, errors.IsUnauthorized(err), "got %v", err)
}

// failingBackend fails writes of one key with UNAVAILABLE.
type failingBackend struct {
	blobclient.BlobClient
	key string
}

func (f failingBackend) Write(ctx context.Context, key, contentType string, data []byte) error {
	if strings.HasSuffix(key, f.key) {
		return errors.NewUnavailableError("backend down")
	}
	return f.BlobClient.Write(ctx, key, contentType, data)
}

func (f failingBackend) WriteMany(ctx context.Context, requests []blobclient.WriteRequest) error {
	return blobclient.WriteBatch(ctx, f, requests)
}

func TestBatchFailureCrossesTheWire(t *testing.T) {
	ctx := context.Background()
	memory := blobclient.NewMemoryBlobClient(blobclient.MemorySettings{})
	srv := newGateway(t, failingBackend{BlobClient: memory, key: "b/2"})
	c := newClient(t, srv, "default", testAPIKey)

	err := c.WriteMany(ctx, []blobclient.WriteRequest{
		blobclient.NewBytesRequest("b/1", "text/plain", []byte("one")),
		blobclient.NewBytesRequest("b/2", "text/plain", []byte("two")),
		blobclient.NewBytesRequest("b/3", "text/plain", []byte("three")),
	})
	require.Error(t, err)
	assert.True(t, errors.IsUnavailable(err), "got %v", err)

	var batchErr *blobclient.BatchError
	require.True(t, stderrors.As(err, &batchErr), "expected *BatchError, got %T", err)
	assert.Equal(t, 1, batchErr.Index)
	assert.Equal(t, "b/2", batchErr.Key)
	assert.Equal(t, 1, batchErr.Committed)

	ok, err := c.Exists(ctx, "b/1")
	require.NoError(t, err)
	assert.True(t, ok, "requests before the failure stay committed")

	ok, err = c.Exists(ctx, "b/3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamsAreBufferedForBatches(t *testing.T) {
	ctx := context.Background()
	srv := newGateway(t, blobclient.NewMemoryBlobClient(blobclient.MemorySettings{}))
	c := newClient(t, srv, "default", testAPIKey)

	err := c.WriteMany(ctx, []blobclient.WriteRequest{
		blobclient.NewStreamRequest("s", "text/plain", 3, strings.NewReader("abcdef")),
	})
	require.NoError(t, err)

	data, err := c.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	err = c.WriteMany(ctx, []blobclient.WriteRequest{
		blobclient.NewStreamRequest("short", "text/plain", 10, strings.NewReader("abc")),
	})
	var batchErr *blobclient.BatchError
	require.True(t, stderrors.As(err, &batchErr), "expected *BatchError, got %T", err)
	assert.True(t, errors.IsInvalidArgument(err))
	assert.Equal(t, 0, batchErr.Committed)
}
