package blobclient

import (
	"context"
	"io"

	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/utils"
)

// RetryingClient retries UNAVAILABLE failures of an inner client with exponential backoff.
// Streaming writes are passed through once since the reader may already be consumed.
type RetryingClient struct {
	inner  BlobClient
	config utils.RetryConfig
}

// NewRetryingClient wraps inner. Only errors.IsRetryable failures are retried.
func NewRetryingClient(inner BlobClient, config utils.RetryConfig) *RetryingClient {
	config.ShouldRetry = errors.IsRetryable
	return &RetryingClient{inner: inner, config: config}
}

var _ BlobClient = (*RetryingClient)(nil)

// Unwrap returns the wrapped client.
func (r *RetryingClient) Unwrap() BlobClient {
	return r.inner
}

func (r *RetryingClient) Get(ctx context.Context, key string) ([]byte, error) {
	return utils.RetryWithResult(ctx, r.config, func() ([]byte, error) {
		return r.inner.Get(ctx, key)
	})
}

func (r *RetryingClient) GetStream(ctx context.Context, key string) (*BlobData, error) {
	return utils.RetryWithResult(ctx, r.config, func() (*BlobData, error) {
		return r.inner.GetStream(ctx, key)
	})
}

func (r *RetryingClient) GetMetadata(ctx context.Context, key string) (*BlobMetadata, error) {
	return utils.RetryWithResult(ctx, r.config, func() (*BlobMetadata, error) {
		return r.inner.GetMetadata(ctx, key)
	})
}

func (r *RetryingClient) Write(ctx context.Context, key, contentType string, data []byte) error {
	return utils.Retry(ctx, r.config, func() error {
		return r.inner.Write(ctx, key, contentType, data)
	})
}

func (r *RetryingClient) WriteStream(ctx context.Context, key, contentType string, contentLength int64, rd io.Reader) error {
	return r.inner.WriteStream(ctx, key, contentType, contentLength, rd)
}

// WriteMany applies the batch through the retrying Write and WriteStream.
func (r *RetryingClient) WriteMany(ctx context.Context, requests []WriteRequest) error {
	return WriteBatch(ctx, r, requests)
}

func (r *RetryingClient) Delete(ctx context.Context, key string) error {
	return utils.Retry(ctx, r.config, func() error {
		return r.inner.Delete(ctx, key)
	})
}

func (r *RetryingClient) Exists(ctx context.Context, key string) (bool, error) {
	return utils.RetryWithResult(ctx, r.config, func() (bool, error) {
		return r.inner.Exists(ctx, key)
	})
}

func (r *RetryingClient) GenerateURL(ctx context.Context, key string) (string, error) {
	return r.inner.GenerateURL(ctx, key)
}

func (r *RetryingClient) Enumerate(ctx context.Context, opts EnumerateOptions) (*EnumerationResult, error) {
	return utils.RetryWithResult(ctx, r.config, func() (*EnumerationResult, error) {
		return r.inner.Enumerate(ctx, opts)
	})
}

// Empty reports the removals of every attempt, including ones that failed part way.
func (r *RetryingClient) Empty(ctx context.Context) (*EmptyResult, error) {
	total := &EmptyResult{Blobs: []BlobMetadata{}}
	_, err := utils.RetryWithResult(ctx, r.config, func() (*EmptyResult, error) {
		res, err := r.inner.Empty(ctx)
		if res != nil {
			total.Blobs = append(total.Blobs, res.Blobs...)
			total.Count += res.Count
			total.Bytes += res.Bytes
		}
		return res, err
	})
	return total, err
}
