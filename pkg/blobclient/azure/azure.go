// Package azure implements BlobClient over a single Azure Blob Storage container.
package azure

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/config"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

const maxRetries = 3

// Settings configures an Azure Client.
type Settings struct {
	AccountName string `validate:"required"`
	// AccountKey is required unless UseManagedIdentity is set.
	AccountKey string `validate:"required_unless=UseManagedIdentity true"`
	Container  string `validate:"required"`
	// Endpoint overrides the service URL, e.g. http://127.0.0.1:10000/devstoreaccount1 for Azurite.
	Endpoint           string `validate:"omitempty,url"`
	UseManagedIdentity bool
	PageSize           int `validate:"gte=0,lte=5000"`
}

// Client is a BlobClient backed by Azure Blob Storage.
type Client struct {
	container  *container.Client
	serviceURL string
	name       string
	pageSize   int32
	logger     logging.Logger
}

var _ blobclient.BlobClient = (*Client)(nil)

// New creates an Azure Blob Storage client.
// With UseManagedIdentity the default Azure credential chain is used instead of the account key.
func New(ctx context.Context, settings Settings, logger logging.Logger) (*Client, error) {
	if err := config.ValidateStruct(settings); err != nil {
		return nil, err
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", settings.AccountName)
	if settings.Endpoint != "" {
		serviceURL = strings.TrimRight(settings.Endpoint, "/") + "/"
	}

	opts := &azblob.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: maxRetries},
		},
	}

	var client *azblob.Client
	if settings.UseManagedIdentity {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, errors.Wrap(errors.ErrorCodeUnauthorized, "failed to create Azure credential", err)
		}
		client, err = azblob.NewClient(serviceURL, cred, opts)
		if err != nil {
			return nil, errors.Wrap(errors.ErrorCodeInvalidArgument, "failed to create Azure blob client", err)
		}
	} else {
		cred, err := azblob.NewSharedKeyCredential(settings.AccountName, settings.AccountKey)
		if err != nil {
			return nil, errors.Wrap(errors.ErrorCodeInvalidArgument, "failed to create shared key credential", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, opts)
		if err != nil {
			return nil, errors.Wrap(errors.ErrorCodeInvalidArgument, "failed to create Azure blob client", err)
		}
	}

	pageSize := settings.PageSize
	if pageSize <= 0 {
		pageSize = blobclient.DefaultPageSize
	}

	return &Client{
		container:  client.ServiceClient().NewContainerClient(settings.Container),
		serviceURL: serviceURL,
		name:       settings.Container,
		pageSize:   int32(pageSize),
		logger: logger.With(
			logging.NewField("provider", "azure"),
			logging.NewField("container", settings.Container),
		),
	}, nil
}

func (c *Client) opLogger(op, key string) logging.Logger {
	return c.logger.With(logging.NewField("operation", op), logging.NewField("blob", key))
}

func (c *Client) blob(ctx context.Context, key string) (*blockblob.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := blobclient.ValidateKey(key); err != nil {
		return nil, err
	}
	return c.container.NewBlockBlobClient(key), nil
}

// EnsureContainer creates the container if it does not exist.
func (c *Client) EnsureContainer(ctx context.Context) error {
	_, err := c.container.Create(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return translate(err, "failed to create container")
	}
	return nil
}

// Get downloads the full blob.
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

// GetStream returns the download body. The SDK retries interrupted reads.
func (c *Client) GetStream(ctx context.Context, key string) (*blobclient.BlobData, error) {
	bb, err := c.blob(ctx, key)
	if err != nil {
		return nil, err
	}

	resp, err := bb.DownloadStream(ctx, nil)
	if err != nil {
		if !bloberror.HasCode(err, bloberror.BlobNotFound) {
			c.opLogger("blob.get", key).Error("Failed to download blob", logging.NewField("error", err))
		}
		return nil, translate(err, "failed to download blob "+key)
	}

	length := blobclient.UnknownLength
	if resp.ContentLength != nil {
		length = *resp.ContentLength
	}
	return &blobclient.BlobData{
		Body:          resp.Body,
		ContentLength: length,
		ContentType:   deref(resp.ContentType),
	}, nil
}

// GetMetadata reads the blob properties.
func (c *Client) GetMetadata(ctx context.Context, key string) (*blobclient.BlobMetadata, error) {
	bb, err := c.blob(ctx, key)
	if err != nil {
		return nil, err
	}

	props, err := bb.GetProperties(ctx, nil)
	if err != nil {
		return nil, translate(err, "failed to read blob properties "+key)
	}

	md := &blobclient.BlobMetadata{
		Key:           key,
		ContentType:   deref(props.ContentType),
		ContentLength: deref(props.ContentLength),
	}
	if props.ETag != nil {
		md.ETag = strings.Trim(string(*props.ETag), `"`)
	}
	if props.LastModified != nil {
		md.LastUpdateUTC = props.LastModified.UTC()
	}
	md.CreatedUTC = md.LastUpdateUTC
	if props.CreationTime != nil {
		md.CreatedUTC = props.CreationTime.UTC()
	}
	return md, nil
}

// Write uploads data as a block blob, creating the container on first use.
func (c *Client) Write(ctx context.Context, key, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := blobclient.ValidateKey(key); err != nil {
		return err
	}
	logger := c.opLogger("blob.upload", key)

	err := c.upload(ctx, key, contentType, bytes.NewReader(data))
	if bloberror.HasCode(err, bloberror.ContainerNotFound) {
		logger.Info("Container missing, creating it")
		if cerr := c.EnsureContainer(ctx); cerr != nil {
			return cerr
		}
		err = c.upload(ctx, key, contentType, bytes.NewReader(data))
	}
	if err != nil {
		logger.Error("Failed to upload blob", logging.NewField("error", err))
		return translate(err, "failed to upload blob "+key)
	}

	logger.Debug("Blob upload successful", logging.NewField("size", len(data)))
	return nil
}

// WriteStream uploads exactly contentLength bytes from r in blocks. Blocks are
// only committed once the whole stream has been read, so a short or
// cancelled stream leaves no blob behind.
func (c *Client) WriteStream(ctx context.Context, key, contentType string, contentLength int64, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := blobclient.ValidateStream(key, contentLength, r); err != nil {
		return err
	}
	logger := c.opLogger("blob.upload", key)

	body := blobclient.ContextReader(ctx, blobclient.ExactReader(r, contentLength))
	if err := c.upload(ctx, key, contentType, body); err != nil {
		logger.Error("Failed to upload blob", logging.NewField("error", err))
		return translate(err, "failed to upload blob "+key)
	}

	logger.Debug("Blob upload successful", logging.NewField("size", contentLength))
	return nil
}

func (c *Client) upload(ctx context.Context, key, contentType string, body io.Reader) error {
	_, err := c.container.NewBlockBlobClient(key).UploadStream(ctx, body, &blockblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
	})
	return err
}

// WriteMany uploads each request in order, stopping at the first failure.
func (c *Client) WriteMany(ctx context.Context, requests []blobclient.WriteRequest) error {
	return blobclient.WriteBatch(ctx, c, requests)
}

// Delete removes the blob and its snapshots. Missing blobs are ignored.
func (c *Client) Delete(ctx context.Context, key string) error {
	bb, err := c.blob(ctx, key)
	if err != nil {
		return err
	}
	_, err = bb.Delete(ctx, &blob.DeleteOptions{
		DeleteSnapshots: to.Ptr(blob.DeleteSnapshotsOptionTypeInclude),
	})
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		c.opLogger("blob.delete", key).Error("Failed to delete blob", logging.NewField("error", err))
		return translate(err, "failed to delete blob "+key)
	}
	return nil
}

// Exists reads the blob properties.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	bb, err := c.blob(ctx, key)
	if err != nil {
		return false, err
	}
	_, err = bb.GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) || isStatus(err, 404) {
		return false, nil
	}
	return false, translate(err, "failed to check blob existence "+key)
}

// GenerateURL returns the unsigned blob URL.
func (c *Client) GenerateURL(ctx context.Context, key string) (string, error) {
	if err := blobclient.ValidateKey(key); err != nil {
		return "", err
	}
	return blobclient.JoinURL(c.serviceURL+c.name, key), nil
}

// Enumerate lists one page. The continuation token wraps the service marker.
func (c *Client) Enumerate(ctx context.Context, opts blobclient.EnumerateOptions) (*blobclient.EnumerationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	marker, err := blobclient.DecodeToken(opts.ContinuationToken)
	if err != nil {
		return nil, err
	}

	listOpts := &container.ListBlobsFlatOptions{MaxResults: to.Ptr(c.pageSize)}
	if opts.Prefix != "" {
		listOpts.Prefix = to.Ptr(opts.Prefix)
	}
	if marker != "" {
		listOpts.Marker = to.Ptr(marker)
	}

	pager := c.container.NewListBlobsFlatPager(listOpts)
	page, err := pager.NextPage(ctx)
	if err != nil {
		if bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return blobclient.NewEnumerationResult(nil, ""), nil
		}
		c.logger.Error("Failed to list blobs", logging.NewField("prefix", opts.Prefix), logging.NewField("error", err))
		return nil, translate(err, "failed to list blobs")
	}

	blobs := make([]blobclient.BlobMetadata, 0, len(page.Segment.BlobItems))
	for _, item := range page.Segment.BlobItems {
		blobs = append(blobs, itemMetadata(item))
	}

	next := ""
	if m := deref(page.NextMarker); m != "" {
		next = blobclient.EncodeToken(m)
	}
	return blobclient.NewEnumerationResult(blobs, next), nil
}

// Empty deletes every blob in the container.
func (c *Client) Empty(ctx context.Context) (*blobclient.EmptyResult, error) {
	res := &blobclient.EmptyResult{Blobs: []blobclient.BlobMetadata{}}

	pager := c.container.NewListBlobsFlatPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				break
			}
			return res, translate(err, "failed to list blobs")
		}
		for _, item := range page.Segment.BlobItems {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			md := itemMetadata(item)
			_, err := c.container.NewBlobClient(md.Key).Delete(ctx, nil)
			if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
				c.logger.Error("Failed to empty container", logging.NewField("deleted", res.Count), logging.NewField("error", err))
				return res, translate(err, "failed to delete blob "+md.Key)
			}
			if err == nil {
				res.Add(md)
			}
		}
	}

	c.logger.Info("Container emptied", logging.NewField("count", res.Count))
	return res, nil
}

func itemMetadata(item *container.BlobItem) blobclient.BlobMetadata {
	md := blobclient.BlobMetadata{Key: deref(item.Name)}
	if p := item.Properties; p != nil {
		md.ContentType = deref(p.ContentType)
		md.ContentLength = deref(p.ContentLength)
		if p.ETag != nil {
			md.ETag = strings.Trim(string(*p.ETag), `"`)
		}
		if p.LastModified != nil {
			md.LastUpdateUTC = p.LastModified.UTC()
		}
		md.CreatedUTC = md.LastUpdateUTC
		if p.CreationTime != nil {
			md.CreatedUTC = p.CreationTime.UTC()
		}
	}
	return md
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func isStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return stderrors.As(err, &respErr) && respErr.StatusCode == status
}

// translate maps SDK errors onto the error taxonomy.
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

	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound):
		return errors.Wrap(errors.ErrorCodeNotFound, msg, err)
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.AuthorizationFailure,
		bloberror.AuthorizationPermissionMismatch, bloberror.InsufficientAccountPermissions, bloberror.AccountIsDisabled):
		return errors.Wrap(errors.ErrorCodeUnauthorized, msg, err)
	case bloberror.HasCode(err, bloberror.ServerBusy, bloberror.OperationTimedOut, bloberror.InternalError):
		return errors.Wrap(errors.ErrorCodeUnavailable, msg, err)
	case bloberror.HasCode(err, bloberror.InvalidResourceName, bloberror.InvalidBlobOrBlock, bloberror.RequestBodyTooLarge,
		bloberror.InvalidHeaderValue, bloberror.OutOfRangeInput):
		return errors.Wrap(errors.ErrorCodeInvalidArgument, msg, err)
	case bloberror.HasCode(err, bloberror.UnsupportedHeader, bloberror.FeatureVersionMismatch):
		return errors.Wrap(errors.ErrorCodeUnsupported, msg, err)
	}

	var respErr *azcore.ResponseError
	if stderrors.As(err, &respErr) {
		return errors.Wrap(errors.FromHTTPStatus(respErr.StatusCode), msg, err)
	}
	var authErr *azidentity.AuthenticationFailedError
	if stderrors.As(err, &authErr) {
		return errors.Wrap(errors.ErrorCodeUnauthorized, msg, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.Wrap(errors.ErrorCodeUnavailable, msg, err)
	}
	return errors.Wrap(errors.ErrorCodeInternal, msg, err)
}
