package blobclient

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/yourorg/go-blob-kit/pkg/errors"
)

// MemorySettings configures a MemoryBlobClient.
type MemorySettings struct {
	PageSize int
}

type memoryEntry struct {
	data        []byte
	contentType string
	etag        string
	created     time.Time
	updated     time.Time
}

// MemoryBlobClient is an in-process BlobClient backed by a map.
type MemoryBlobClient struct {
	mu       sync.RWMutex
	blobs    map[string]*memoryEntry
	pageSize int
	now      func() time.Time
}

// NewMemoryBlobClient creates an empty in-memory blob client.
func NewMemoryBlobClient(settings MemorySettings) *MemoryBlobClient {
	pageSize := settings.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &MemoryBlobClient{
		blobs:    make(map[string]*memoryEntry),
		pageSize: pageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ BlobClient = (*MemoryBlobClient)(nil)

func (m *MemoryBlobClient) lookup(ctx context.Context, key string) (*memoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.blobs[key]
	if !ok {
		return nil, errors.Errorf(errors.ErrorCodeNotFound, "blob not found: %s", key)
	}
	return entry, nil
}

// Get returns a copy of the blob content.
func (m *MemoryBlobClient) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := m.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(entry.data), nil
}

// GetStream returns the blob content as a reader.
func (m *MemoryBlobClient) GetStream(ctx context.Context, key string) (*BlobData, error) {
	entry, err := m.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	return &BlobData{
		Body:          io.NopCloser(bytes.NewReader(entry.data)),
		ContentLength: int64(len(entry.data)),
		ContentType:   entry.contentType,
	}, nil
}

// GetMetadata returns the blob attributes.
func (m *MemoryBlobClient) GetMetadata(ctx context.Context, key string) (*BlobMetadata, error) {
	entry, err := m.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	md := entry.metadata(key)
	return &md, nil
}

func (e *memoryEntry) metadata(key string) BlobMetadata {
	return BlobMetadata{
		Key:           key,
		ContentType:   e.contentType,
		ContentLength: int64(len(e.data)),
		ETag:          e.etag,
		CreatedUTC:    e.created,
		LastUpdateUTC: e.updated,
	}
}

// Write stores a copy of data under key.
func (m *MemoryBlobClient) Write(ctx context.Context, key, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.put(key, contentType, bytes.Clone(data))
	return nil
}

// WriteStream buffers exactly contentLength bytes from r and stores them under key.
func (m *MemoryBlobClient) WriteStream(ctx context.Context, key, contentType string, contentLength int64, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateStream(key, contentLength, r); err != nil {
		return err
	}

	data, err := ReadExact(r, contentLength)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.put(key, contentType, data)
	return nil
}

func (m *MemoryBlobClient) put(key, contentType string, data []byte) {
	if data == nil {
		data = []byte{}
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	created := now
	if existing, ok := m.blobs[key]; ok {
		created = existing.created
	}
	m.blobs[key] = &memoryEntry{
		data:        data,
		contentType: contentType,
		etag:        ComputeETag(data),
		created:     created,
		updated:     now,
	}
}

// WriteMany applies requests in order, stopping at the first failure.
func (m *MemoryBlobClient) WriteMany(ctx context.Context, requests []WriteRequest) error {
	return WriteBatch(ctx, m, requests)
}

// Delete removes key. Missing keys are ignored.
func (m *MemoryBlobClient) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, key)
	return nil
}

// Exists reports whether key is stored.
func (m *MemoryBlobClient) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.lookup(ctx, key)
	if errors.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// GenerateURL is unsupported: in-memory blobs have no external address.
func (m *MemoryBlobClient) GenerateURL(ctx context.Context, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return "", errors.NewUnsupportedError("in-memory blobs cannot be addressed by URL")
}

// Enumerate lists a page of blobs in key order.
func (m *MemoryBlobClient) Enumerate(ctx context.Context, opts EnumerateOptions) (*EnumerationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}

	page, next, err := PageKeys(keys, opts.Prefix, opts.ContinuationToken, m.pageSize)
	if err != nil {
		return nil, err
	}

	blobs := make([]BlobMetadata, 0, len(page))
	for _, k := range page {
		blobs = append(blobs, m.blobs[k].metadata(k))
	}
	return NewEnumerationResult(blobs, next), nil
}

// Empty removes every blob.
func (m *MemoryBlobClient) Empty(ctx context.Context) (*EmptyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}
	sorted, _, _ := PageKeys(keys, "", "", len(keys)+1)

	res := &EmptyResult{Blobs: []BlobMetadata{}}
	for _, k := range sorted {
		res.Add(m.blobs[k].metadata(k))
		delete(m.blobs, k)
	}
	return res, nil
}
