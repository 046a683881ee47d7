package csvutil

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
)

// Writer handles CSV writing.
type Writer struct {
	writer *csv.Writer
}

// NewWriter creates a new CSV writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		writer: csv.NewWriter(w),
	}
}

// WriteRow writes a single CSV row.
func (w *Writer) WriteRow(row []string) error {
	return w.writer.Write(row)
}

// Flush flushes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	w.writer.Flush()
	return w.writer.Error()
}

// ListingHeader is the header row written by WriteListing.
var ListingHeader = []string{"key", "content_type", "content_length", "etag", "created_utc", "last_update_utc"}

// WriteListing writes blobs as CSV rows under ListingHeader.
func WriteListing(w io.Writer, blobs []blobclient.BlobMetadata) error {
	cw := NewWriter(w)
	if err := cw.WriteRow(ListingHeader); err != nil {
		return err
	}
	for _, b := range blobs {
		if err := cw.WriteRow([]string{
			b.Key,
			b.ContentType,
			strconv.FormatInt(b.ContentLength, 10),
			b.ETag,
			formatTime(b.CreatedUTC),
			formatTime(b.LastUpdateUTC),
		}); err != nil {
			return err
		}
	}
	return cw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
