package kvpbase

import (
	"net/url"
	"strings"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
)

// Headers shared by the gateway and the client.
const (
	HeaderAPIKey        = "x-api-key"
	HeaderCreatedUTC    = "X-Created-Utc"
	HeaderLastUpdateUTC = "X-Last-Update-Utc"
)

// Detail keys of an errors.ErrorResponse describing a stopped batch.
const (
	DetailIndex     = "index"
	DetailKey       = "key"
	DetailCommitted = "committed"
)

// MaxBatchItems caps the requests accepted by one batch call.
const MaxBatchItems = 1000

// BatchItem is one blob of a batch write. Data is base64 in JSON.
type BatchItem struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// BatchRequest is the body of POST /v1/:user/:container/batch.
type BatchRequest struct {
	Requests []BatchItem `json:"requests" validate:"lte=1000"`
}

// ContainerPath is the path of a container: /v1/{user}/{container}.
func ContainerPath(user, container string) string {
	return "/v1/" + url.PathEscape(user) + "/" + url.PathEscape(container)
}

// BlobPath is the path of a blob with each key segment escaped.
func BlobPath(user, container, key string) string {
	return blobclient.JoinURL(ContainerPath(user, container)+"/blobs", key)
}

// KeyFromParam turns a gin catch-all parameter ("/a/b") into a blob key ("a/b").
func KeyFromParam(param string) string {
	return strings.TrimPrefix(param, "/")
}
