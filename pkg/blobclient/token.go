package blobclient

import (
	"encoding/base64"
	"sort"
	"strings"

	"github.com/yourorg/go-blob-kit/pkg/errors"
)

// EncodeToken turns the last key of a page into a continuation token.
func EncodeToken(lastKey string) string {
	if lastKey == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(lastKey))
}

// DecodeToken recovers the key a continuation token resumes after.
func DecodeToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) == 0 {
		return "", errors.NewInvalidArgumentError("malformed continuation token")
	}
	return string(raw), nil
}

// PageKeys selects the page of keys matching prefix that follows the key encoded in token.
// keys need not be sorted. The returned token is empty on the last page.
func PageKeys(keys []string, prefix, token string, pageSize int) ([]string, string, error) {
	after, err := DecodeToken(token)
	if err != nil {
		return nil, "", err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	matched := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) && k > after {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)

	if len(matched) <= pageSize {
		return matched, "", nil
	}
	page := matched[:pageSize]
	return page, EncodeToken(page[len(page)-1]), nil
}
