package blobclient

import (
	"context"
	"fmt"

	"github.com/yourorg/go-blob-kit/pkg/errors"
)

// BatchError reports the request that stopped a WriteMany.
// Committed is the number of leading requests that were stored: zero when the
// batch failed validation, Index when request Index failed while being written.
type BatchError struct {
	Index     int
	Key       string
	Committed int
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("write batch stopped at request %d (%s): %v", e.Index, e.Key, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ValidateBatch checks every request before anything is written.
func ValidateBatch(requests []WriteRequest) error {
	for i, req := range requests {
		if err := validateRequest(req); err != nil {
			return &BatchError{Index: i, Key: req.Key, Err: err}
		}
	}
	return nil
}

func validateRequest(req WriteRequest) error {
	if err := ValidateKey(req.Key); err != nil {
		return err
	}
	switch p := req.Payload.(type) {
	case Bytes:
		return nil
	case Stream:
		if p.Reader == nil {
			return errors.NewInvalidArgumentError("stream payload has no reader")
		}
		return ValidateStream(req.Key, p.Length, p.Reader)
	default:
		return errors.NewInvalidArgumentError("write request has no payload")
	}
}

// WriteBatch validates requests, then applies them in order through client,
// stopping at the first failure.
func WriteBatch(ctx context.Context, client BlobClient, requests []WriteRequest) error {
	if err := ValidateBatch(requests); err != nil {
		return err
	}

	for i, req := range requests {
		if err := ctx.Err(); err != nil {
			return &BatchError{Index: i, Key: req.Key, Committed: i, Err: err}
		}

		var err error
		switch p := req.Payload.(type) {
		case Bytes:
			err = client.Write(ctx, req.Key, req.ContentType, p)
		case Stream:
			err = client.WriteStream(ctx, req.Key, req.ContentType, p.Length, p.Reader)
		}
		if err != nil {
			return &BatchError{Index: i, Key: req.Key, Committed: i, Err: err}
		}
	}
	return nil
}
