package blobclient

import (
	"net/url"
	"strings"
)

// JoinURL appends key to base, escaping each path segment of the key.
func JoinURL(base, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segs, "/")
}
