package httpservice

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/jwt"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestRouter(t *testing.T, backend blobclient.BlobClient, auth AuthConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := NewRouter(ServerConfig{ServiceName: "test", Logger: logging.NewNopLogger()})
	NewBlobHandler(PrefixResolver{Backend: backend}, auth).Register(router)
	return router
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) errors.ErrorResponse {
	t.Helper()
	var resp errors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestPutAndGetBlob(t *testing.T) {
	router := newTestRouter(t, blobclient.NewMemoryBlobClient(blobclient.MemorySettings{}), AuthConfig{})

	req := httptest.NewRequest(http.MethodPut, "/v1/u1/docs/blobs/notes/today.txt", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	w := serve(router, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = serve(router, httptest.NewRequest(http.MethodGet, "/v1/u1/docs/blobs/notes/today.txt", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "5", w.Header().Get("Content-Length"))
	assert.NotEmpty(t, w.Header().Get("ETag"))
	assert.NotEmpty(t, w.Header().Get("X-Created-Utc"))

	w = serve(router, httptest.NewRequest(http.MethodGet, "/v1/u1/docs/blobs/notes/today.txt?metadata=true", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var md blobclient.BlobMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &md))
	assert.Equal(t, "notes/today.txt", md.Key)
	assert.Equal(t, int64(5), md.ContentLength)
}

func TestPutDefaultsContentType(t *testing.T) {
	backend := blobclient.NewMemoryBlobClient(blobclient.MemorySettings{})
	router := newTestRouter(t, backend, AuthConfig{})

	w := serve(router, httptest.NewRequest(http.MethodPut, "/v1/u1/docs/blobs/raw", strings.NewReader("x")))
	require.Equal(t, http.StatusCreated, w.Code)

	md, err := backend.GetMetadata(context.Background(), "u1/docs/raw")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", md.ContentType)
}

func TestPutRequiresContentLength(t *testing.T) {
	router := newTestRouter(t, blobclient.NewMemoryBlobClient(blobclient.MemorySettings{}), AuthConfig{})

	req := httptest.NewRequest(http.MethodPut, "/v1/u1/docs/blobs/a", strings.NewReader("chunked"))
	req.ContentLength = -1
	w := serve(router, req)

	assert.Equal(t, http.StatusLengthRequired, w.Code)
	assert.Equal(t, errors.ErrorCodeInvalidArgument, decodeErrorBody(t, w).Code)
}

func TestHeadBlob(t *testing.T) {
	backend := blobclient.NewMemoryBlobClient(blobclient.MemorySettings{})
	require.NoError(t, backend.Write(context.Background(), "u1/docs/a.json", "application/json", []byte(`{}`)))
	router := newTestRouter(t, backend, AuthConfig{})

	w := serve(router, httptest.NewRequest(http.MethodHead, "/v1/u1/docs/blobs/a.json", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("Content-Length"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Empty(t, w.Body.String())

	w = serve(router, httptest.NewRequest(http.MethodHead, "/v1/u1/docs/blobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetMissingBlob(t *testing.T) {
	router := newTestRouter(t, blobclient.NewMemoryBlobClient(blobclient.MemorySettings{}), AuthConfig{})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/v1/u1/docs/blobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.ErrorCodeNotFound, decodeErrorBody(t, w).Code)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/v1/u1/docs/blobs/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteBlobAndEmpty(t *testing.T) {
	ctx := context.Background()
	backend := blobclient.NewMemoryBlobClient(blobclient.MemorySettings{})
	for _, key := range []string{"u1/docs/a", "u1/docs/b", "u1/other/c"} {
		require.NoError(t, backend.Write(ctx, key, "text/plain", []byte("abc")))
	}
	router := newTestRouter(t, backend, AuthConfig{})

	w := serve(router, httptest.NewRequest(http.MethodDelete, "/v1/u1/docs/blobs/a", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = serve(router, httptest.NewRequest(http.MethodDelete, "/v1/u1/docs/blobs/a", nil))
	assert.Equal(t, http.StatusNoContent, w.Code, "deleting a missing blob succeeds")

	w = serve(router, httptest.NewRequest(http.MethodDelete, "/v1/u1/docs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var res blobclient.EmptyResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(1), res.Count)
	assert.Equal(t, int64(3), res.Bytes)

	ok, err := backend.Exists(ctx, "u1/other/c")
	require.NoError(t, err)
	assert.True(t, ok, "other containers are untouched")
}

func TestListFormats(t *testing.T) {
	ctx := context.Background()
	backend := blobclient.NewMemoryBlobClient(blobclient.MemorySettings{PageSize: 2})
	for _, key := range []string{"u1/docs/a", "u1/docs/b", "u1/docs/c"} {
		require.NoError(t, backend.Write(ctx, key, "text/plain", []byte("x")))
	}
	router := newTestRouter(t, backend, AuthConfig{})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/v1/u1/docs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var page blobclient.EnumerationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Blobs, 2)
	assert.Equal(t, "a", page.Blobs[0].Key)
	require.NotEmpty(t, page.NextContinuationToken)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/v1/u1/docs?format=csv&token="+page.NextContinuationToken, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	rows, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[1][0])
	assert.Empty(t, w.Header().Get(HeaderContinuationToken))

	w = serve(router, httptest.NewRequest(http.MethodGet, "/v1/u1/docs?format=xml", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/v1/u1/docs?token=!!!", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteBatchReportsFailure(t *testing.T) {
	router := newTestRouter(t, blobclient.NewMemoryBlobClient(blobclient.MemorySettings{}), AuthConfig{})

	body := `{"requests":[{"key":"a","content_type":"text/plain","data":"b25l"},{"key":"","data":"dHdv"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/u1/docs/batch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := serve(router, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeErrorBody(t, w)
	assert.Equal(t, errors.ErrorCodeInvalidArgument, resp.Code)
	assert.Equal(t, float64(1), resp.Details["index"])
	assert.Equal(t, float64(0), resp.Details["committed"])

	body = `{"requests":[{"key":"a","content_type":"text/plain","data":"b25l"}]}`
	req = httptest.NewRequest(http.MethodPost, "/v1/u1/docs/batch", strings.NewReader(body))
	w = serve(router, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(router, httptest.NewRequest(http.MethodGet, "/v1/u1/docs/blobs/a", nil))
	assert.Equal(t, "one", w.Body.String())
}

func TestAPIKeyAuth(t *testing.T) {
	router := newTestRouter(t, blobclient.NewMemoryBlobClient(blobclient.MemorySettings{}), AuthConfig{APIKeys: []string{"k1", "k2"}})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/v1/u1/docs", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, errors.ErrorCodeUnauthorized, decodeErrorBody(t, w).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/u1/docs", nil)
	req.Header.Set("x-api-key", "nope")
	assert.Equal(t, http.StatusUnauthorized, serve(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/u1/docs", nil)
	req.Header.Set("x-api-key", "k2")
	assert.Equal(t, http.StatusOK, serve(router, req).Code)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, "health is not authenticated")
}

func TestJWTAuth(t *testing.T) {
	svc, err := jwt.NewJWTService(testSecret, jwt.DefaultIssuer, time.Hour, logging.NewNopLogger())
	require.NoError(t, err)
	router := newTestRouter(t, blobclient.NewMemoryBlobClient(blobclient.MemorySettings{}), AuthConfig{JWT: svc})

	token := func(user string, containers []string, readOnly bool) string {
		tok, err := svc.GenerateAccessToken(user, containers, readOnly)
		require.NoError(t, err)
		return "Bearer " + tok
	}
	put := func(path, auth string) int {
		req := httptest.NewRequest(http.MethodPut, path, strings.NewReader("x"))
		req.Header.Set("Authorization", auth)
		return serve(router, req).Code
	}

	assert.Equal(t, http.StatusCreated, put("/v1/u1/docs/blobs/a", token("u1", nil, false)))
	assert.Equal(t, http.StatusCreated, put("/v1/u1/docs/blobs/a", token("u1", []string{"docs"}, false)))
	assert.Equal(t, http.StatusUnauthorized, put("/v1/u1/photos/blobs/a", token("u1", []string{"docs"}, false)))
	assert.Equal(t, http.StatusUnauthorized, put("/v1/u2/docs/blobs/a", token("u1", nil, false)))
	assert.Equal(t, http.StatusUnauthorized, put("/v1/u1/docs/blobs/a", token("u1", nil, true)))
	assert.Equal(t, http.StatusUnauthorized, put("/v1/u1/docs/blobs/a", "Bearer not.a.token"))

	req := httptest.NewRequest(http.MethodGet, "/v1/u1/docs/blobs/a", nil)
	req.Header.Set("Authorization", token("u1", nil, true))
	w := serve(router, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "x", w.Body.String())
}

func TestPrefixResolverRejectsTraversal(t *testing.T) {
	r := PrefixResolver{Backend: blobclient.NewMemoryBlobClient(blobclient.MemorySettings{})}

	_, err := r.Resolve("..", "docs")
	assert.True(t, errors.IsInvalidArgument(err))
	_, err = r.Resolve("u1", `a\b`)
	assert.True(t, errors.IsInvalidArgument(err))

	c, err := r.Resolve("u1", "docs")
	require.NoError(t, err)
	assert.NotNil(t, c)
}
