package blobclient

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
)

// PrefixedClient confines an inner client to the keys under a fixed prefix.
// Callers see keys relative to the prefix.
type PrefixedClient struct {
	inner  BlobClient
	prefix string
}

// WithPrefix returns a client that stores every key as prefix+key in inner.
func WithPrefix(inner BlobClient, prefix string) *PrefixedClient {
	return &PrefixedClient{inner: inner, prefix: prefix}
}

var _ BlobClient = (*PrefixedClient)(nil)

// Unwrap returns the wrapped client.
func (p *PrefixedClient) Unwrap() BlobClient {
	return p.inner
}

func (p *PrefixedClient) full(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return p.prefix + key, nil
}

func (p *PrefixedClient) strip(md BlobMetadata) BlobMetadata {
	md.Key = strings.TrimPrefix(md.Key, p.prefix)
	return md
}

func (p *PrefixedClient) Get(ctx context.Context, key string) ([]byte, error) {
	full, err := p.full(key)
	if err != nil {
		return nil, err
	}
	return p.inner.Get(ctx, full)
}

func (p *PrefixedClient) GetStream(ctx context.Context, key string) (*BlobData, error) {
	full, err := p.full(key)
	if err != nil {
		return nil, err
	}
	return p.inner.GetStream(ctx, full)
}

func (p *PrefixedClient) GetMetadata(ctx context.Context, key string) (*BlobMetadata, error) {
	full, err := p.full(key)
	if err != nil {
		return nil, err
	}
	md, err := p.inner.GetMetadata(ctx, full)
	if err != nil {
		return nil, err
	}
	stripped := p.strip(*md)
	return &stripped, nil
}

func (p *PrefixedClient) Write(ctx context.Context, key, contentType string, data []byte) error {
	full, err := p.full(key)
	if err != nil {
		return err
	}
	return p.inner.Write(ctx, full, contentType, data)
}

func (p *PrefixedClient) WriteStream(ctx context.Context, key, contentType string, contentLength int64, r io.Reader) error {
	full, err := p.full(key)
	if err != nil {
		return err
	}
	return p.inner.WriteStream(ctx, full, contentType, contentLength, r)
}

func (p *PrefixedClient) WriteMany(ctx context.Context, requests []WriteRequest) error {
	if err := ValidateBatch(requests); err != nil {
		return err
	}

	mapped := make([]WriteRequest, len(requests))
	for i, req := range requests {
		req.Key = p.prefix + req.Key
		mapped[i] = req
	}

	err := p.inner.WriteMany(ctx, mapped)
	var batchErr *BatchError
	if stderrors.As(err, &batchErr) {
		relative := *batchErr
		relative.Key = strings.TrimPrefix(batchErr.Key, p.prefix)
		return &relative
	}
	return err
}

func (p *PrefixedClient) Delete(ctx context.Context, key string) error {
	full, err := p.full(key)
	if err != nil {
		return err
	}
	return p.inner.Delete(ctx, full)
}

func (p *PrefixedClient) Exists(ctx context.Context, key string) (bool, error) {
	full, err := p.full(key)
	if err != nil {
		return false, err
	}
	return p.inner.Exists(ctx, full)
}

func (p *PrefixedClient) GenerateURL(ctx context.Context, key string) (string, error) {
	full, err := p.full(key)
	if err != nil {
		return "", err
	}
	return p.inner.GenerateURL(ctx, full)
}

// Enumerate lists the namespace. Continuation tokens are the inner client's.
func (p *PrefixedClient) Enumerate(ctx context.Context, opts EnumerateOptions) (*EnumerationResult, error) {
	res, err := p.inner.Enumerate(ctx, EnumerateOptions{
		Prefix:            p.prefix + opts.Prefix,
		ContinuationToken: opts.ContinuationToken,
	})
	if err != nil {
		return nil, err
	}

	blobs := make([]BlobMetadata, 0, len(res.Blobs))
	for _, md := range res.Blobs {
		blobs = append(blobs, p.strip(md))
	}
	return NewEnumerationResult(blobs, res.NextContinuationToken), nil
}

// Empty deletes the blobs under the prefix one by one. Blobs outside it are untouched.
// On failure the result lists what was removed before the error.
func (p *PrefixedClient) Empty(ctx context.Context) (*EmptyResult, error) {
	blobs, err := EnumerateAll(ctx, p.inner, p.prefix)
	if err != nil {
		return nil, err
	}

	res := &EmptyResult{Blobs: []BlobMetadata{}}
	for _, md := range blobs {
		if err := p.inner.Delete(ctx, md.Key); err != nil {
			return res, err
		}
		res.Add(p.strip(md))
	}
	return res, nil
}
