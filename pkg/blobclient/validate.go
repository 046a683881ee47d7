package blobclient

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/yourorg/go-blob-kit/pkg/errors"
)

// ValidateKey rejects keys no provider can address.
func ValidateKey(key string) error {
	if key == "" {
		return errors.NewInvalidArgumentError("blob key must not be empty")
	}
	return nil
}

// ValidateStream checks the arguments of a streaming write.
func ValidateStream(key string, contentLength int64, r io.Reader) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if contentLength < 0 {
		return errors.Errorf(errors.ErrorCodeInvalidArgument, "content length must not be negative: %d", contentLength)
	}
	if r == nil && contentLength > 0 {
		return errors.NewInvalidArgumentError("stream must not be nil")
	}
	return nil
}

// ExactReader yields exactly length bytes from r. A stream that ends early or
// carries more than length bytes fails with INVALID_ARGUMENT. The final chunk
// is only handed out once r is known to end there.
func ExactReader(r io.Reader, length int64) io.Reader {
	if r == nil {
		r = eofReader{}
	}
	return &exactReader{r: r, length: length, remaining: length}
}

type exactReader struct {
	r         io.Reader
	length    int64
	remaining int64
	drained   bool
}

func (e *exactReader) Read(p []byte) (int, error) {
	if e.remaining <= 0 {
		if err := e.checkDrained(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	if int64(len(p)) > e.remaining {
		p = p[:e.remaining]
	}
	n, err := e.r.Read(p)
	e.remaining -= int64(n)
	if err == io.EOF && e.remaining > 0 {
		return n, errors.Errorf(errors.ErrorCodeInvalidArgument,
			"stream ended %d bytes short of its declared content length", e.remaining)
	}
	if e.remaining > 0 {
		return n, err
	}
	if err == io.EOF {
		e.drained = true
		return n, io.EOF
	}
	if err != nil {
		return n, err
	}
	if err := e.checkDrained(); err != nil {
		return 0, err
	}
	return n, io.EOF
}

// checkDrained reads past the declared length and fails if anything is there.
func (e *exactReader) checkDrained() error {
	if e.drained {
		return nil
	}
	var b [1]byte
	n, err := io.ReadAtLeast(e.r, b[:], 1)
	if n > 0 {
		return errors.Errorf(errors.ErrorCodeInvalidArgument,
			"stream is longer than its declared content length of %d bytes", e.length)
	}
	if err != nil && err != io.EOF {
		return err
	}
	e.drained = true
	return nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// ReadExact buffers exactly length bytes from r.
func ReadExact(r io.Reader, length int64) ([]byte, error) {
	return io.ReadAll(ExactReader(r, length))
}

// ContextReader stops reading from r once ctx is done.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r}
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// ComputeETag returns the hex MD5 of data, matching what S3 reports for single part uploads.
func ComputeETag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
