package csvutil

import (
	"io"

	"github.com/yourorg/go-blob-kit/pkg/errors"
)

// ManifestEntry is one line of a put-many manifest: upload the file at Path as Key.
type ManifestEntry struct {
	Key         string
	ContentType string
	Path        string
}

// ParseManifest reads a CSV manifest with the columns key, content_type and path.
// Column order follows the header. Keys are kept verbatim.
func ParseManifest(r io.Reader) ([]ManifestEntry, error) {
	parser := NewParser(ParserConfig{
		RequiredHeaders: []string{"key", "content_type", "path"},
		SkipEmptyRows:   true,
	})

	var entries []ManifestEntry
	err := parser.Parse(r, func(rowNum int, headers []string, row []string) error {
		cell := func(name string) string {
			for i, h := range headers {
				if h == name && i < len(row) {
					return row[i]
				}
			}
			return ""
		}

		entry := ManifestEntry{Key: cell("key"), ContentType: cell("content_type"), Path: cell("path")}
		if entry.Key == "" || entry.Path == "" {
			return errors.NewInvalidArgumentError("key and path are required")
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrorCodeInvalidArgument, "invalid manifest", err)
	}
	return entries, nil
}
