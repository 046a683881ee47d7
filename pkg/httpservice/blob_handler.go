package httpservice

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/blobclient/kvpbase"
	"github.com/yourorg/go-blob-kit/pkg/csvutil"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// HeaderContinuationToken carries the next page token of a CSV listing.
const HeaderContinuationToken = "X-Continuation-Token"

const defaultContentType = "application/octet-stream"

// BlobHandler exposes containers over REST:
//
//	GET    /v1/:user/:container             list one page (?prefix, ?token, ?format=csv)
//	DELETE /v1/:user/:container             empty the container
//	POST   /v1/:user/:container/batch       write many blobs
//	GET    /v1/:user/:container/blobs/*key  read a blob (?metadata=true for attributes)
//	HEAD   /v1/:user/:container/blobs/*key  existence and attributes
//	PUT    /v1/:user/:container/blobs/*key  write a blob, Content-Length required
//	DELETE /v1/:user/:container/blobs/*key  delete a blob
type BlobHandler struct {
	resolver ContainerResolver
	auth     AuthConfig
}

// NewBlobHandler creates the gateway handler.
func NewBlobHandler(resolver ContainerResolver, auth AuthConfig) *BlobHandler {
	return &BlobHandler{resolver: resolver, auth: auth}
}

// Register implements Handler.
func (h *BlobHandler) Register(router *gin.Engine) {
	container := router.Group("/v1/:user/:container", AuthMiddleware(h.auth))

	container.GET("", Wrap("ListBlobs", h.list))
	container.DELETE("", Wrap("EmptyContainer", h.empty))
	container.POST("/batch", Wrap("WriteBatch", h.writeBatch))

	container.GET("/blobs/*key", Wrap("GetBlob", h.get))
	container.HEAD("/blobs/*key", Wrap("HeadBlob", h.head))
	container.PUT("/blobs/*key", Wrap("PutBlob", h.put))
	container.DELETE("/blobs/*key", Wrap("DeleteBlob", h.delete))
}

type containerURI struct {
	User      string `uri:"user" validate:"required,max=128"`
	Container string `uri:"container" validate:"required,max=128"`
}

type listQuery struct {
	Prefix string `form:"prefix"`
	Token  string `form:"token"`
	Format string `form:"format" validate:"omitempty,oneof=json csv"`
}

func (h *BlobHandler) client(c *gin.Context) (blobclient.BlobClient, error) {
	var uri containerURI
	if err := BindURI(c, &uri); err != nil {
		return nil, err
	}
	return h.resolver.Resolve(uri.User, uri.Container)
}

func blobKey(c *gin.Context) string {
	return kvpbase.KeyFromParam(c.Param("key"))
}

func setMetadataHeaders(c *gin.Context, md *blobclient.BlobMetadata) {
	if md.ETag != "" {
		c.Header("ETag", strconv.Quote(md.ETag))
	}
	if !md.CreatedUTC.IsZero() {
		c.Header(kvpbase.HeaderCreatedUTC, md.CreatedUTC.UTC().Format(time.RFC3339Nano))
	}
	if !md.LastUpdateUTC.IsZero() {
		c.Header(kvpbase.HeaderLastUpdateUTC, md.LastUpdateUTC.UTC().Format(time.RFC3339Nano))
	}
}

func (h *BlobHandler) get(c *gin.Context) error {
	client, err := h.client(c)
	if err != nil {
		return err
	}
	ctx := c.Request.Context()
	key := blobKey(c)

	md, err := client.GetMetadata(ctx, key)
	if err != nil {
		return err
	}
	if c.Query("metadata") == "true" {
		c.JSON(http.StatusOK, md)
		return nil
	}

	data, err := client.GetStream(ctx, key)
	if err != nil {
		return err
	}
	defer data.Body.Close()

	setMetadataHeaders(c, md)
	contentType := data.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	c.DataFromReader(http.StatusOK, data.ContentLength, contentType, data.Body, nil)
	return nil
}

func (h *BlobHandler) head(c *gin.Context) error {
	client, err := h.client(c)
	if err != nil {
		return err
	}

	md, err := client.GetMetadata(c.Request.Context(), blobKey(c))
	if err != nil {
		return err
	}

	setMetadataHeaders(c, md)
	c.Header("Content-Type", md.ContentType)
	c.Header("Content-Length", strconv.FormatInt(md.ContentLength, 10))
	c.Status(http.StatusOK)
	return nil
}

func (h *BlobHandler) put(c *gin.Context) error {
	client, err := h.client(c)
	if err != nil {
		return err
	}

	length := c.Request.ContentLength
	if length < 0 {
		appErr := errors.NewInvalidArgumentError("Content-Length is required")
		appErr.HTTPStatus = http.StatusLengthRequired
		return appErr
	}
	contentType := c.GetHeader("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	key := blobKey(c)
	if err := client.WriteStream(c.Request.Context(), key, contentType, length, c.Request.Body); err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			return errors.Wrap(errors.ErrorCodeInvalidArgument, "request body too large", err)
		}
		return err
	}

	LogDebug(c, "Blob stored", logging.NewField("blob", key), logging.NewField("bytes", length))
	c.Status(http.StatusCreated)
	return nil
}

func (h *BlobHandler) delete(c *gin.Context) error {
	client, err := h.client(c)
	if err != nil {
		return err
	}
	if err := client.Delete(c.Request.Context(), blobKey(c)); err != nil {
		return err
	}
	c.Status(http.StatusNoContent)
	return nil
}

func (h *BlobHandler) list(c *gin.Context) error {
	client, err := h.client(c)
	if err != nil {
		return err
	}
	var q listQuery
	if err := BindQuery(c, &q); err != nil {
		return err
	}

	res, err := client.Enumerate(c.Request.Context(), blobclient.EnumerateOptions{
		Prefix:            q.Prefix,
		ContinuationToken: q.Token,
	})
	if err != nil {
		return err
	}

	if q.Format != "csv" {
		c.JSON(http.StatusOK, res)
		return nil
	}

	if res.NextContinuationToken != "" {
		c.Header(HeaderContinuationToken, res.NextContinuationToken)
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	return csvutil.WriteListing(c.Writer, res.Blobs)
}

func (h *BlobHandler) writeBatch(c *gin.Context) error {
	client, err := h.client(c)
	if err != nil {
		return err
	}
	var body kvpbase.BatchRequest
	if err := BindJSON(c, &body); err != nil {
		return err
	}

	requests := make([]blobclient.WriteRequest, len(body.Requests))
	for i, item := range body.Requests {
		contentType := item.ContentType
		if contentType == "" {
			contentType = defaultContentType
		}
		requests[i] = blobclient.NewBytesRequest(item.Key, contentType, item.Data)
	}

	if err := client.WriteMany(c.Request.Context(), requests); err != nil {
		return batchFailure(err)
	}

	c.JSON(http.StatusOK, gin.H{"count": len(requests)})
	return nil
}

// batchFailure keeps the code of the failed write and records where the batch stopped.
func batchFailure(err error) error {
	var batchErr *blobclient.BatchError
	if !stderrors.As(err, &batchErr) {
		return err
	}
	inner := errors.FromError(batchErr.Err)
	appErr := errors.Wrap(inner.Code, inner.Message, err)
	appErr.HTTPStatus = inner.HTTPStatus
	return appErr.WithDetails(map[string]interface{}{
		kvpbase.DetailIndex:     batchErr.Index,
		kvpbase.DetailKey:       batchErr.Key,
		kvpbase.DetailCommitted: batchErr.Committed,
	})
}

func (h *BlobHandler) empty(c *gin.Context) error {
	client, err := h.client(c)
	if err != nil {
		return err
	}
	res, err := client.Empty(c.Request.Context())
	if err != nil {
		return err
	}
	if res.Blobs == nil {
		res.Blobs = []blobclient.BlobMetadata{}
	}
	c.JSON(http.StatusOK, res)
	return nil
}
