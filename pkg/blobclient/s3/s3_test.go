package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

func testSettings() Settings {
	return Settings{
		AccessKey: "test",
		SecretKey: "test",
		Region:    "us-east-1",
		Bucket:    "media",
	}
}

func TestNewValidatesSettings(t *testing.T) {
	s := testSettings()
	s.Bucket = ""
	_, err := New(context.Background(), s, logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))

	s = testSettings()
	s.Endpoint = "not a url"
	_, err = New(context.Background(), s, logging.NewNopLogger())
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
		want   string
	}{
		{"virtual hosted", func(s *Settings) {}, "https://media.s3.us-east-1.amazonaws.com"},
		{"path style", func(s *Settings) { s.UsePathStyle = true }, "https://s3.us-east-1.amazonaws.com/media"},
		{"custom endpoint path style", func(s *Settings) {
			s.Endpoint = "http://localhost:4566/"
			s.UsePathStyle = true
		}, "http://localhost:4566/media"},
		{"custom endpoint virtual hosted", func(s *Settings) { s.Endpoint = "https://r2.example.com" }, "https://media.r2.example.com"},
		{"explicit base url", func(s *Settings) { s.BaseURL = "https://cdn.example.com/" }, "https://cdn.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.modify(&s)
			assert.Equal(t, tt.want, baseURL(s))
		})
	}
}

func TestGenerateURLMakesNoRequest(t *testing.T) {
	s := testSettings()
	s.Endpoint = "http://127.0.0.1:1"
	s.UsePathStyle = true
	c, err := New(context.Background(), s, logging.NewNopLogger())
	require.NoError(t, err)

	u, err := c.GenerateURL(context.Background(), "photos/summer trip/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:1/media/photos/summer%20trip/1.jpg", u)

	_, err = c.GenerateURL(context.Background(), "")
	assert.True(t, errors.IsInvalidArgument(err))
}

// recordingEndpoint accepts every request and remembers PUT bodies by path.
type recordingEndpoint struct {
	mu   sync.Mutex
	puts map[string]string
}

func newRecordingEndpoint(t *testing.T) (*recordingEndpoint, *httptest.Server) {
	rec := &recordingEndpoint{puts: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method == http.MethodPut {
			rec.mu.Lock()
			rec.puts[r.URL.Path] = string(body)
			rec.mu.Unlock()
		}
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func TestWriteStreamUploadsThroughUploader(t *testing.T) {
	rec, srv := newRecordingEndpoint(t)
	s := testSettings()
	s.Endpoint = srv.URL
	s.UsePathStyle = true
	c, err := New(context.Background(), s, logging.NewNopLogger())
	require.NoError(t, err)

	err = c.WriteStream(context.Background(), "logs/today.txt", "text/plain", 11, strings.NewReader("hello world"))
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Contains(t, rec.puts, "/media/logs/today.txt")
	assert.Contains(t, rec.puts["/media/logs/today.txt"], "hello world")
}

func TestWriteStreamRejectsLongStreamBeforeSending(t *testing.T) {
	rec, srv := newRecordingEndpoint(t)
	s := testSettings()
	s.Endpoint = srv.URL
	s.UsePathStyle = true
	c, err := New(context.Background(), s, logging.NewNopLogger())
	require.NoError(t, err)

	err = c.WriteStream(context.Background(), "logs/today.txt", "text/plain", 5, strings.NewReader("hello world"))
	assert.True(t, errors.IsInvalidArgument(err), "long stream: %v", err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.puts)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		code string
		want errors.ErrorCode
	}{
		{"NoSuchKey", errors.ErrorCodeNotFound},
		{"NoSuchBucket", errors.ErrorCodeNotFound},
		{"AccessDenied", errors.ErrorCodeUnauthorized},
		{"SignatureDoesNotMatch", errors.ErrorCodeUnauthorized},
		{"SlowDown", errors.ErrorCodeUnavailable},
		{"KeyTooLongError", errors.ErrorCodeInvalidArgument},
		{"NotImplemented", errors.ErrorCodeUnsupported},
		{"Mystery", errors.ErrorCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			apiErr := &smithy.GenericAPIError{Code: tt.code, Message: "boom"}
			err := translate(fmt.Errorf("operation error S3: %w", apiErr), "failed")
			assert.Equal(t, tt.want, errors.CodeOf(err))
		})
	}

	assert.ErrorIs(t, translate(context.DeadlineExceeded, "x"), context.DeadlineExceeded)
	bodyErr := fmt.Errorf("read upload data failed: %w", errors.NewInvalidArgumentError("short stream"))
	assert.True(t, errors.IsInvalidArgument(translate(bodyErr, "x")))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
}
