package blobclient

import (
	"context"
	"io"
	"time"
)

// UnknownLength is reported as BlobData.ContentLength when the provider cannot size the body up front.
const UnknownLength int64 = -1

// DefaultPageSize is the enumeration page size used when a provider is not configured with one.
const DefaultPageSize = 1000

// BlobClient defines the interface for blob storage operations against a single container.
// Implementations must be safe for concurrent use.
type BlobClient interface {
	// Get retrieves the full content of a blob. Fails with NOT_FOUND when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetStream retrieves a blob as a stream. The caller must close BlobData.Body.
	GetStream(ctx context.Context, key string) (*BlobData, error)

	// GetMetadata retrieves blob attributes without transferring the body.
	GetMetadata(ctx context.Context, key string) (*BlobMetadata, error)

	// Write stores data under key, overwriting any existing blob.
	Write(ctx context.Context, key, contentType string, data []byte) error

	// WriteStream stores exactly contentLength bytes read from r under key.
	WriteStream(ctx context.Context, key, contentType string, contentLength int64, r io.Reader) error

	// WriteMany stores a batch of blobs. The batch is not atomic, see BatchError.
	WriteMany(ctx context.Context, requests []WriteRequest) error

	// Delete removes a blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a blob is present. A missing key yields false, not an error.
	Exists(ctx context.Context, key string) (bool, error)

	// GenerateURL builds a locator for key without performing I/O.
	// Providers without direct addressing fail with UNSUPPORTED.
	GenerateURL(ctx context.Context, key string) (string, error)

	// Enumerate lists one page of blobs in key order.
	Enumerate(ctx context.Context, opts EnumerateOptions) (*EnumerationResult, error)

	// Empty deletes every blob in the container.
	Empty(ctx context.Context) (*EmptyResult, error)
}

// BlobData is a blob being read. Body is owned by the caller.
type BlobData struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
}

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	Key           string    `json:"key"`
	ContentType   string    `json:"content_type"`
	ContentLength int64     `json:"content_length"`
	ETag          string    `json:"etag,omitempty"`
	CreatedUTC    time.Time `json:"created_utc,omitempty"`
	LastUpdateUTC time.Time `json:"last_update_utc,omitempty"`
}

// EnumerateOptions narrows an enumeration.
type EnumerateOptions struct {
	Prefix            string
	ContinuationToken string
}

// EnumerationResult is one page of an enumeration.
// An empty NextContinuationToken means there are no further pages.
type EnumerationResult struct {
	Blobs                 []BlobMetadata `json:"blobs"`
	NextContinuationToken string         `json:"next_continuation_token,omitempty"`
	Count                 int64          `json:"count"`
	Bytes                 int64          `json:"bytes"`
}

// HasMore reports whether another page can be requested.
func (r *EnumerationResult) HasMore() bool {
	return r.NextContinuationToken != ""
}

// EmptyResult describes the blobs actually removed by Empty.
type EmptyResult struct {
	Blobs []BlobMetadata `json:"blobs"`
	Count int64          `json:"count"`
	Bytes int64          `json:"bytes"`
}

// WriteString stores a UTF-8 string under key.
func WriteString(ctx context.Context, client BlobClient, key, contentType, data string) error {
	return client.Write(ctx, key, contentType, []byte(data))
}

// EnumerateAll follows continuation tokens until the listing is exhausted.
func EnumerateAll(ctx context.Context, client BlobClient, prefix string) ([]BlobMetadata, error) {
	var all []BlobMetadata
	opts := EnumerateOptions{Prefix: prefix}
	for {
		page, err := client.Enumerate(ctx, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Blobs...)
		if !page.HasMore() {
			return all, nil
		}
		opts.ContinuationToken = page.NextContinuationToken
	}
}

// NewEnumerationResult builds a page and fills in Count and Bytes.
func NewEnumerationResult(blobs []BlobMetadata, next string) *EnumerationResult {
	if blobs == nil {
		blobs = []BlobMetadata{}
	}
	res := &EnumerationResult{Blobs: blobs, NextContinuationToken: next}
	for _, b := range blobs {
		res.Count++
		res.Bytes += b.ContentLength
	}
	return res
}

// Add records a removed blob.
func (r *EmptyResult) Add(md BlobMetadata) {
	r.Blobs = append(r.Blobs, md)
	r.Count++
	r.Bytes += md.ContentLength
}
