package kvpbase

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

func validSettings() Settings {
	return Settings{
		Endpoint:  "https://blobs.example.com/",
		UserGUID:  "user-1",
		Container: "photos",
		APIKey:    "key",
	}
}

func TestNewValidatesSettings(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
	}{
		{"missing endpoint", func(s *Settings) { s.Endpoint = "" }},
		{"endpoint not a URL", func(s *Settings) { s.Endpoint = "blobs" }},
		{"missing user", func(s *Settings) { s.UserGUID = "" }},
		{"missing key", func(s *Settings) { s.APIKey = "" }},
		{"negative timeout", func(s *Settings) { s.Timeout = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.modify(&s)
			_, err := New(s, logging.NewNopLogger())
			assert.True(t, errors.IsInvalidArgument(err), "got %v", err)
		})
	}
}

func TestEmptyContainerUsesDefault(t *testing.T) {
	s := validSettings()
	s.Container = ""
	c, err := New(s, nil)
	require.NoError(t, err)

	url, err := c.GenerateURL(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example.com/v1/user-1/default/blobs/a.txt", url)
}

func TestGenerateURL(t *testing.T) {
	c, err := New(validSettings(), nil)
	require.NoError(t, err)

	url, err := c.GenerateURL(context.Background(), "albums/summer 2024/a#1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example.com/v1/user-1/photos/blobs/albums/summer%202024/a%231.jpg", url)

	_, err = c.GenerateURL(context.Background(), "")
	assert.True(t, errors.IsInvalidArgument(err))
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestDecodeError(t *testing.T) {
	err := decodeError(response(http.StatusNotFound, `{"code":"NOT_FOUND","message":"blob not found"}`), "get")
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "blob not found")

	err = decodeError(response(http.StatusBadGateway, "<html>proxy</html>"), "get")
	assert.True(t, errors.IsUnavailable(err))

	err = decodeError(response(http.StatusForbidden, ""), "get")
	assert.True(t, errors.IsUnauthorized(err))
}

func TestBatchErrorFrom(t *testing.T) {
	body := `{"code":"UNAVAILABLE","message":"down","details":{"index":2,"key":"c","committed":2}}`
	err := batchErrorFrom(decodeError(response(http.StatusServiceUnavailable, body), "batch"), 3)

	batchErr, ok := err.(*blobclient.BatchError)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, 2, batchErr.Index)
	assert.Equal(t, "c", batchErr.Key)
	assert.Equal(t, 2, batchErr.Committed)
	assert.True(t, errors.IsUnavailable(err))

	// An index outside the batch is not trusted.
	body = `{"code":"INTERNAL_ERROR","message":"x","details":{"index":7}}`
	err = batchErrorFrom(decodeError(response(http.StatusInternalServerError, body), "batch"), 3)
	_, ok = err.(*blobclient.BatchError)
	assert.False(t, ok)
}

func TestKeyFromParam(t *testing.T) {
	assert.Equal(t, "a/b.txt", KeyFromParam("/a/b.txt"))
	assert.Equal(t, "", KeyFromParam("/"))
	assert.Equal(t, "/v1/u/c/blobs/a%20b/c", BlobPath("u", "c", "a b/c"))
}
