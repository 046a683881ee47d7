package blobclient

import (
	"bytes"
	"io"
)

// Payload is the content of a WriteRequest. It is either Bytes or Stream.
type Payload interface {
	// Len is the number of bytes the payload will write.
	Len() int64
	isPayload()
}

// Bytes is an in-memory payload.
type Bytes []byte

// Len implements Payload.
func (b Bytes) Len() int64 { return int64(len(b)) }

func (Bytes) isPayload() {}

// Stream is a payload read from Reader. Reader must yield at least Length bytes.
type Stream struct {
	Length int64
	Reader io.Reader
}

// Len implements Payload.
func (s Stream) Len() int64 { return s.Length }

func (Stream) isPayload() {}

// WriteRequest is a single unit of a batched write.
type WriteRequest struct {
	Key         string
	ContentType string
	Payload     Payload
}

// NewBytesRequest builds a WriteRequest carrying raw bytes.
func NewBytesRequest(key, contentType string, data []byte) WriteRequest {
	return WriteRequest{Key: key, ContentType: contentType, Payload: Bytes(data)}
}

// NewStreamRequest builds a WriteRequest carrying a stream of known length.
func NewStreamRequest(key, contentType string, length int64, r io.Reader) WriteRequest {
	return WriteRequest{Key: key, ContentType: contentType, Payload: Stream{Length: length, Reader: r}}
}

// Reader returns the payload as a reader together with its length.
func (w WriteRequest) Reader() (io.Reader, int64) {
	switch p := w.Payload.(type) {
	case Bytes:
		return bytes.NewReader(p), int64(len(p))
	case Stream:
		return p.Reader, p.Length
	default:
		return nil, 0
	}
}
