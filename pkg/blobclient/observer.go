package blobclient

import (
	"context"
	stderrors "errors"
	"io"
)

// Operation names a BlobClient method in observer calls, logs and spans.
type Operation string

const (
	OpGet         Operation = "blob.get"
	OpGetStream   Operation = "blob.get_stream"
	OpGetMetadata Operation = "blob.get_metadata"
	OpWrite       Operation = "blob.write"
	OpWriteStream Operation = "blob.write_stream"
	OpWriteMany   Operation = "blob.write_many"
	OpDelete      Operation = "blob.delete"
	OpExists      Operation = "blob.exists"
	OpGenerateURL Operation = "blob.generate_url"
	OpEnumerate   Operation = "blob.enumerate"
	OpEmpty       Operation = "blob.empty"
)

// IsMutation reports whether the operation changes stored blobs.
func (o Operation) IsMutation() bool {
	switch o {
	case OpWrite, OpWriteStream, OpWriteMany, OpDelete, OpEmpty:
		return true
	}
	return false
}

// Call describes one BlobClient invocation.
// The result fields are set after the inner call returns and before observers finish.
type Call struct {
	Operation   Operation
	Key         string
	Keys        []string
	ContentType string
	Prefix      string

	// results
	Bytes     int64
	Count     int64
	Committed []string
}

// Observer is notified when a call starts. It may return a derived context, which is
// passed to the inner client, and a function invoked with the call's outcome.
type Observer func(ctx context.Context, call *Call) (context.Context, func(err error))

// ObservedClient runs observers around every call of an inner client.
type ObservedClient struct {
	inner     BlobClient
	observers []Observer
}

// WithObservers wraps inner so that each call is reported to observers.
// Observers start in order and finish in reverse order.
func WithObservers(inner BlobClient, observers ...Observer) *ObservedClient {
	return &ObservedClient{inner: inner, observers: observers}
}

var _ BlobClient = (*ObservedClient)(nil)

// Unwrap returns the wrapped client.
func (o *ObservedClient) Unwrap() BlobClient {
	return o.inner
}

func (o *ObservedClient) start(ctx context.Context, call *Call) (context.Context, func(error)) {
	finishers := make([]func(error), 0, len(o.observers))
	for _, observe := range o.observers {
		var done func(error)
		ctx, done = observe(ctx, call)
		if done != nil {
			finishers = append(finishers, done)
		}
	}
	return ctx, func(err error) {
		for i := len(finishers) - 1; i >= 0; i-- {
			finishers[i](err)
		}
	}
}

func (o *ObservedClient) Get(ctx context.Context, key string) ([]byte, error) {
	call := &Call{Operation: OpGet, Key: key}
	ctx, done := o.start(ctx, call)
	data, err := o.inner.Get(ctx, key)
	call.Bytes = int64(len(data))
	done(err)
	return data, err
}

func (o *ObservedClient) GetStream(ctx context.Context, key string) (*BlobData, error) {
	call := &Call{Operation: OpGetStream, Key: key}
	ctx, done := o.start(ctx, call)
	data, err := o.inner.GetStream(ctx, key)
	if data != nil {
		call.Bytes = data.ContentLength
		call.ContentType = data.ContentType
	}
	done(err)
	return data, err
}

func (o *ObservedClient) GetMetadata(ctx context.Context, key string) (*BlobMetadata, error) {
	call := &Call{Operation: OpGetMetadata, Key: key}
	ctx, done := o.start(ctx, call)
	md, err := o.inner.GetMetadata(ctx, key)
	if md != nil {
		call.Bytes = md.ContentLength
		call.ContentType = md.ContentType
	}
	done(err)
	return md, err
}

func (o *ObservedClient) Write(ctx context.Context, key, contentType string, data []byte) error {
	call := &Call{Operation: OpWrite, Key: key, ContentType: contentType, Bytes: int64(len(data))}
	ctx, done := o.start(ctx, call)
	err := o.inner.Write(ctx, key, contentType, data)
	if err == nil {
		call.Committed = []string{key}
	}
	done(err)
	return err
}

func (o *ObservedClient) WriteStream(ctx context.Context, key, contentType string, contentLength int64, r io.Reader) error {
	call := &Call{Operation: OpWriteStream, Key: key, ContentType: contentType, Bytes: contentLength}
	ctx, done := o.start(ctx, call)
	err := o.inner.WriteStream(ctx, key, contentType, contentLength, r)
	if err == nil {
		call.Committed = []string{key}
	}
	done(err)
	return err
}

func (o *ObservedClient) WriteMany(ctx context.Context, requests []WriteRequest) error {
	call := &Call{Operation: OpWriteMany, Keys: make([]string, 0, len(requests))}
	for _, req := range requests {
		call.Keys = append(call.Keys, req.Key)
		if req.Payload != nil {
			call.Bytes += req.Payload.Len()
		}
	}
	call.Count = int64(len(requests))

	ctx, done := o.start(ctx, call)
	err := o.inner.WriteMany(ctx, requests)

	committed := len(requests)
	if err != nil {
		committed = 0
		var batchErr *BatchError
		if stderrors.As(err, &batchErr) {
			committed = min(batchErr.Committed, len(call.Keys))
		}
	}
	call.Committed = call.Keys[:committed]
	done(err)
	return err
}

func (o *ObservedClient) Delete(ctx context.Context, key string) error {
	call := &Call{Operation: OpDelete, Key: key}
	ctx, done := o.start(ctx, call)
	err := o.inner.Delete(ctx, key)
	if err == nil {
		call.Committed = []string{key}
	}
	done(err)
	return err
}

func (o *ObservedClient) Exists(ctx context.Context, key string) (bool, error) {
	call := &Call{Operation: OpExists, Key: key}
	ctx, done := o.start(ctx, call)
	ok, err := o.inner.Exists(ctx, key)
	if ok {
		call.Count = 1
	}
	done(err)
	return ok, err
}

func (o *ObservedClient) GenerateURL(ctx context.Context, key string) (string, error) {
	call := &Call{Operation: OpGenerateURL, Key: key}
	ctx, done := o.start(ctx, call)
	url, err := o.inner.GenerateURL(ctx, key)
	done(err)
	return url, err
}

func (o *ObservedClient) Enumerate(ctx context.Context, opts EnumerateOptions) (*EnumerationResult, error) {
	call := &Call{Operation: OpEnumerate, Prefix: opts.Prefix}
	ctx, done := o.start(ctx, call)
	res, err := o.inner.Enumerate(ctx, opts)
	if res != nil {
		call.Count = res.Count
		call.Bytes = res.Bytes
	}
	done(err)
	return res, err
}

func (o *ObservedClient) Empty(ctx context.Context) (*EmptyResult, error) {
	call := &Call{Operation: OpEmpty}
	ctx, done := o.start(ctx, call)
	res, err := o.inner.Empty(ctx)
	if res != nil {
		call.Count = res.Count
		call.Bytes = res.Bytes
		call.Committed = make([]string, 0, len(res.Blobs))
		for _, b := range res.Blobs {
			call.Committed = append(call.Committed, b.Key)
		}
	}
	done(err)
	return res, err
}
