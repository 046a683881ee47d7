// Package gcs implements BlobClient over a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/config"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

const publicBaseURL = "https://storage.googleapis.com"

// Settings configures a GCS Client.
type Settings struct {
	Bucket string `validate:"required"`
	// CredentialsJSON is a base64 encoded service account key. Empty uses
	// application default credentials, or no auth when Endpoint is set.
	CredentialsJSON string `validate:"omitempty,base64"`
	// Endpoint points the client at an emulator such as fake-gcs-server.
	Endpoint string `validate:"omitempty,url"`
	BaseURL  string `validate:"omitempty,url"`
	PageSize int    `validate:"gte=0"`
}

// Client is a BlobClient backed by a GCS bucket.
type Client struct {
	client   *storage.Client
	bucket   *storage.BucketHandle
	baseURL  string
	pageSize int
	logger   logging.Logger
}

var _ blobclient.BlobClient = (*Client)(nil)

// validateCredentials checks the decoded credentials look like a Google credential file.
func validateCredentials(decoded []byte) error {
	var creds map[string]interface{}
	if err := json.Unmarshal(decoded, &creds); err != nil {
		return errors.Errorf(errors.ErrorCodeInvalidArgument, "credentials are not valid JSON: %v", err)
	}

	credType, ok := creds["type"].(string)
	if !ok {
		return errors.NewInvalidArgumentError("credentials missing 'type' field")
	}
	switch credType {
	case "service_account", "authorized_user", "external_account", "impersonated_service_account":
		return nil
	}
	return errors.Errorf(errors.ErrorCodeInvalidArgument, "unsupported credential type: %s", credType)
}

// New creates a GCS client for settings.Bucket.
func New(ctx context.Context, settings Settings, logger logging.Logger) (*Client, error) {
	if err := config.ValidateStruct(settings); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	switch {
	case settings.CredentialsJSON != "":
		decoded, err := base64.StdEncoding.DecodeString(settings.CredentialsJSON)
		if err != nil {
			return nil, errors.Wrap(errors.ErrorCodeInvalidArgument, "failed to decode credentials", err)
		}
		if err := validateCredentials(decoded); err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentialsJSON(decoded))
	case settings.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	}
	if settings.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(settings.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorCodeUnauthorized, "failed to create GCS client", err)
	}

	base := publicBaseURL + "/" + settings.Bucket
	if settings.BaseURL != "" {
		base = strings.TrimRight(settings.BaseURL, "/")
	}
	pageSize := settings.PageSize
	if pageSize <= 0 {
		pageSize = blobclient.DefaultPageSize
	}

	return &Client{
		client:   client,
		bucket:   client.Bucket(settings.Bucket),
		baseURL:  base,
		pageSize: pageSize,
		logger:   logger.With(logging.NewField("provider", "gcs"), logging.NewField("container", settings.Bucket)),
	}, nil
}

// Close closes the GCS client.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) object(ctx context.Context, key string) (*storage.ObjectHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := blobclient.ValidateKey(key); err != nil {
		return nil, err
	}
	return c.bucket.Object(key), nil
}

func (c *Client) opLogger(op, key string) logging.Logger {
	return c.logger.With(logging.NewField("operation", op), logging.NewField("blob", key))
}

// Get downloads the full object.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer data.Body.Close()

	b, err := io.ReadAll(data.Body)
	if err != nil {
		return nil, translate(err, "failed to read blob "+key)
	}
	return b, nil
}

// GetStream opens a reader on the object.
func (c *Client) GetStream(ctx context.Context, key string) (*blobclient.BlobData, error) {
	obj, err := c.object(ctx, key)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		if !stderrors.Is(err, storage.ErrObjectNotExist) {
			c.opLogger("blob.get", key).Error("Failed to download blob", logging.NewField("error", err))
		}
		return nil, translate(err, "failed to download blob "+key)
	}
	return &blobclient.BlobData{
		Body:          r,
		ContentLength: r.Attrs.Size,
		ContentType:   r.Attrs.ContentType,
	}, nil
}

// GetMetadata reads the object attributes.
func (c *Client) GetMetadata(ctx context.Context, key string) (*blobclient.BlobMetadata, error) {
	obj, err := c.object(ctx, key)
	if err != nil {
		return nil, err
	}
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, translate(err, "failed to read blob attributes "+key)
	}
	md := attrsMetadata(attrs)
	return &md, nil
}

// Write uploads data with a single writer.
func (c *Client) Write(ctx context.Context, key, contentType string, data []byte) error {
	return c.WriteStream(ctx, key, contentType, int64(len(data)), bytes.NewReader(data))
}

// WriteStream uploads exactly contentLength bytes from r. A failed copy
// cancels the writer's context so the upload is aborted instead of committed.
func (c *Client) WriteStream(ctx context.Context, key, contentType string, contentLength int64, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := blobclient.ValidateStream(key, contentLength, r); err != nil {
		return err
	}
	logger := c.opLogger("blob.upload", key)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := c.bucket.Object(key).NewWriter(wctx)
	w.ContentType = contentType
	if contentLength < googleapi.DefaultUploadChunkSize {
		w.ChunkSize = 0
	}

	if _, err := io.Copy(w, blobclient.ExactReader(r, contentLength)); err != nil {
		cancel()
		_ = w.Close()
		logger.Error("Failed to upload blob", logging.NewField("error", err))
		return translate(err, "failed to write blob "+key)
	}
	if err := w.Close(); err != nil {
		logger.Error("Failed to upload blob", logging.NewField("error", err))
		return translate(err, "failed to close blob writer "+key)
	}

	logger.Debug("Blob upload successful", logging.NewField("size", contentLength))
	return nil
}

// WriteMany uploads each request in order, stopping at the first failure.
func (c *Client) WriteMany(ctx context.Context, requests []blobclient.WriteRequest) error {
	return blobclient.WriteBatch(ctx, c, requests)
}

// Delete removes the object. Missing objects are ignored.
func (c *Client) Delete(ctx context.Context, key string) error {
	obj, err := c.object(ctx, key)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !stderrors.Is(err, storage.ErrObjectNotExist) {
		c.opLogger("blob.delete", key).Error("Failed to delete blob", logging.NewField("error", err))
		return translate(err, "failed to delete blob "+key)
	}
	return nil
}

// Exists reads the object attributes.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	obj, err := c.object(ctx, key)
	if err != nil {
		return false, err
	}
	_, err = obj.Attrs(ctx)
	if stderrors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, translate(err, "failed to check blob existence "+key)
	}
	return true, nil
}

// GenerateURL returns the public object URL.
func (c *Client) GenerateURL(ctx context.Context, key string) (string, error) {
	if err := blobclient.ValidateKey(key); err != nil {
		return "", err
	}
	return blobclient.JoinURL(c.baseURL, key), nil
}

func (c *Client) query(prefix string) *storage.Query {
	q := &storage.Query{Prefix: prefix}
	_ = q.SetAttrSelection([]string{"Name", "ContentType", "Size", "Etag", "Created", "Updated"})
	return q
}

// Enumerate lists one page. The continuation token wraps the service page token.
func (c *Client) Enumerate(ctx context.Context, opts blobclient.EnumerateOptions) (*blobclient.EnumerationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pageToken, err := blobclient.DecodeToken(opts.ContinuationToken)
	if err != nil {
		return nil, err
	}

	var items []*storage.ObjectAttrs
	pager := iterator.NewPager(c.bucket.Objects(ctx, c.query(opts.Prefix)), c.pageSize, pageToken)
	next, err := pager.NextPage(&items)
	if err != nil {
		c.logger.Error("Failed to list blobs", logging.NewField("prefix", opts.Prefix), logging.NewField("error", err))
		return nil, translate(err, "failed to list blobs")
	}

	blobs := make([]blobclient.BlobMetadata, 0, len(items))
	for _, attrs := range items {
		blobs = append(blobs, attrsMetadata(attrs))
	}
	if next != "" {
		next = blobclient.EncodeToken(next)
	}
	return blobclient.NewEnumerationResult(blobs, next), nil
}

// Empty deletes every object in the bucket.
func (c *Client) Empty(ctx context.Context) (*blobclient.EmptyResult, error) {
	res := &blobclient.EmptyResult{Blobs: []blobclient.BlobMetadata{}}

	it := c.bucket.Objects(ctx, c.query(""))
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return res, translate(err, "failed to list blobs")
		}
		if err := c.bucket.Object(attrs.Name).Delete(ctx); err != nil {
			if stderrors.Is(err, storage.ErrObjectNotExist) {
				continue
			}
			c.logger.Error("Failed to empty container", logging.NewField("deleted", res.Count), logging.NewField("error", err))
			return res, translate(err, "failed to delete blob "+attrs.Name)
		}
		res.Add(attrsMetadata(attrs))
	}

	c.logger.Info("Container emptied", logging.NewField("count", res.Count))
	return res, nil
}

func attrsMetadata(attrs *storage.ObjectAttrs) blobclient.BlobMetadata {
	return blobclient.BlobMetadata{
		Key:           attrs.Name,
		ContentType:   attrs.ContentType,
		ContentLength: attrs.Size,
		ETag:          attrs.Etag,
		CreatedUTC:    attrs.Created.UTC(),
		LastUpdateUTC: attrs.Updated.UTC(),
	}
}

// translate maps client errors onto the error taxonomy.
func translate(err error, msg string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	if stderrors.Is(err, storage.ErrObjectNotExist) || stderrors.Is(err, storage.ErrBucketNotExist) {
		return errors.Wrap(errors.ErrorCodeNotFound, msg, err)
	}

	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		return errors.Wrap(errors.FromHTTPStatus(apiErr.Code), msg, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.Wrap(errors.ErrorCodeUnavailable, msg, err)
	}
	return errors.Wrap(errors.ErrorCodeInternal, msg, err)
}
