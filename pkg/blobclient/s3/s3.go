// Package s3 implements BlobClient over AWS S3 and S3-compatible stores
// (MinIO, LocalStack, Cloudflare R2).
package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/config"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// maxDeleteBatch is the DeleteObjects limit.
const maxDeleteBatch = 1000

// Settings configures an S3 Client.
type Settings struct {
	AccessKey string `validate:"required"`
	SecretKey string `validate:"required"`
	Region    string `validate:"required"`
	Bucket    string `validate:"required"`
	// Endpoint overrides the AWS endpoint, e.g. http://localhost:4566.
	Endpoint string `validate:"omitempty,url"`
	// BaseURL is used by GenerateURL instead of the endpoint-derived URL.
	BaseURL      string `validate:"omitempty,url"`
	UsePathStyle bool
	PageSize     int `validate:"gte=0,lte=1000"`
}

// Client is a BlobClient backed by a single S3 bucket.
type Client struct {
	api      *s3.Client
	uploader *manager.Uploader
	bucket   string
	baseURL  string
	pageSize int32
	logger   logging.Logger
}

var _ blobclient.BlobClient = (*Client)(nil)

// New creates an S3 client for settings.Bucket. No request is made.
func New(ctx context.Context, settings Settings, logger logging.Logger) (*Client, error) {
	if err := config.ValidateStruct(settings); err != nil {
		return nil, err
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(settings.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(settings.AccessKey, settings.SecretKey, "")),
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorCodeInvalidArgument, "unable to load SDK config", err)
	}

	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
		o.UsePathStyle = settings.UsePathStyle
	})

	return newClient(api, settings, logger), nil
}

func newClient(api *s3.Client, settings Settings, logger logging.Logger) *Client {
	pageSize := settings.PageSize
	if pageSize <= 0 {
		pageSize = blobclient.DefaultPageSize
	}
	return &Client{
		api:      api,
		uploader: manager.NewUploader(api),
		bucket:   settings.Bucket,
		baseURL:  baseURL(settings),
		pageSize: int32(pageSize),
		logger:   logger.With(logging.NewField("provider", "s3"), logging.NewField("container", settings.Bucket)),
	}
}

// baseURL derives the public address of the bucket.
func baseURL(s Settings) string {
	switch {
	case s.BaseURL != "":
		return strings.TrimRight(s.BaseURL, "/")
	case s.Endpoint != "" && s.UsePathStyle:
		return strings.TrimRight(s.Endpoint, "/") + "/" + s.Bucket
	case s.Endpoint != "":
		scheme, host, ok := strings.Cut(s.Endpoint, "://")
		if !ok {
			return strings.TrimRight(s.Endpoint, "/") + "/" + s.Bucket
		}
		return scheme + "://" + s.Bucket + "." + strings.TrimRight(host, "/")
	case s.UsePathStyle:
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s", s.Region, s.Bucket)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.Bucket, s.Region)
	}
}

func (c *Client) opLogger(op, key string) logging.Logger {
	return c.logger.With(logging.NewField("operation", op), logging.NewField("blob", key))
}

func (c *Client) getObject(ctx context.Context, key string) (*s3.GetObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := blobclient.ValidateKey(key); err != nil {
		return nil, err
	}
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if !isNotFound(err) {
			c.opLogger("blob.get", key).Error("Failed to download blob", logging.NewField("error", err))
		}
		return nil, translate(err, "failed to download blob "+key)
	}
	return out, nil
}

// Get downloads the full object.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.getObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, translate(err, "failed to read blob "+key)
	}
	return data, nil
}

// GetStream returns the object body without buffering it.
func (c *Client) GetStream(ctx context.Context, key string) (*blobclient.BlobData, error) {
	out, err := c.getObject(ctx, key)
	if err != nil {
		return nil, err
	}
	length := blobclient.UnknownLength
	if out.ContentLength != nil {
		length = *out.ContentLength
	}
	return &blobclient.BlobData{
		Body:          out.Body,
		ContentLength: length,
		ContentType:   aws.ToString(out.ContentType),
	}, nil
}

func (c *Client) headObject(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := blobclient.ValidateKey(key); err != nil {
		return nil, err
	}
	return c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
}

// GetMetadata issues a HEAD request. S3 keeps no creation time, so both
// timestamps report the last modification.
func (c *Client) GetMetadata(ctx context.Context, key string) (*blobclient.BlobMetadata, error) {
	out, err := c.headObject(ctx, key)
	if err != nil {
		return nil, translate(err, "failed to read blob metadata "+key)
	}
	modified := aws.ToTime(out.LastModified).UTC()
	return &blobclient.BlobMetadata{
		Key:           key,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		ETag:          trimETag(out.ETag),
		CreatedUTC:    modified,
		LastUpdateUTC: modified,
	}, nil
}

// Write uploads data with a single PutObject.
func (c *Client) Write(ctx context.Context, key, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := blobclient.ValidateKey(key); err != nil {
		return err
	}
	return c.put(ctx, key, contentType, data)
}

// WriteStream uploads exactly contentLength bytes from r. Bodies larger than
// one part go up as a multipart upload, which is aborted on failure.
func (c *Client) WriteStream(ctx context.Context, key, contentType string, contentLength int64, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := blobclient.ValidateStream(key, contentLength, r); err != nil {
		return err
	}
	logger := c.opLogger("blob.upload", key)

	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   blobclient.ContextReader(ctx, blobclient.ExactReader(r, contentLength)),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.uploader.Upload(ctx, input); err != nil {
		logger.Error("Failed to upload blob", logging.NewField("error", err))
		return translate(err, "failed to upload blob "+key)
	}
	logger.Debug("Blob upload successful", logging.NewField("size", contentLength))
	return nil
}

func (c *Client) put(ctx context.Context, key, contentType string, data []byte) error {
	logger := c.opLogger("blob.upload", key)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.api.PutObject(ctx, input); err != nil {
		logger.Error("Failed to upload blob", logging.NewField("error", err))
		return translate(err, "failed to upload blob "+key)
	}
	logger.Debug("Blob upload successful", logging.NewField("size", len(data)))
	return nil
}

// WriteMany uploads each request in order, stopping at the first failure.
func (c *Client) WriteMany(ctx context.Context, requests []blobclient.WriteRequest) error {
	return blobclient.WriteBatch(ctx, c, requests)
}

// Delete removes the object. S3 reports success for missing keys.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := blobclient.ValidateKey(key); err != nil {
		return err
	}
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		c.opLogger("blob.delete", key).Error("Failed to delete blob", logging.NewField("error", err))
		return translate(err, "failed to delete blob "+key)
	}
	return nil
}

// Exists issues a HEAD request.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.headObject(ctx, key)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, translate(err, "failed to check blob existence "+key)
}

// GenerateURL returns the unsigned object URL.
func (c *Client) GenerateURL(ctx context.Context, key string) (string, error) {
	if err := blobclient.ValidateKey(key); err != nil {
		return "", err
	}
	return blobclient.JoinURL(c.baseURL, key), nil
}

// Enumerate lists one page with ListObjectsV2. The continuation token carries
// the last key returned and is passed back as StartAfter.
func (c *Client) Enumerate(ctx context.Context, opts blobclient.EnumerateOptions) (*blobclient.EnumerationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	after, err := blobclient.DecodeToken(opts.ContinuationToken)
	if err != nil {
		return nil, err
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		MaxKeys: aws.Int32(c.pageSize),
	}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if after != "" {
		input.StartAfter = aws.String(after)
	}

	out, err := c.api.ListObjectsV2(ctx, input)
	if err != nil {
		c.logger.Error("Failed to list blobs", logging.NewField("prefix", opts.Prefix), logging.NewField("error", err))
		return nil, translate(err, "failed to list blobs")
	}

	blobs := make([]blobclient.BlobMetadata, 0, len(out.Contents))
	for _, obj := range out.Contents {
		blobs = append(blobs, objectMetadata(obj))
	}

	next := ""
	if aws.ToBool(out.IsTruncated) && len(blobs) > 0 {
		next = blobclient.EncodeToken(blobs[len(blobs)-1].Key)
	}
	return blobclient.NewEnumerationResult(blobs, next), nil
}

// Empty deletes every object in the bucket in batches of up to 1000 keys.
func (c *Client) Empty(ctx context.Context) (*blobclient.EmptyResult, error) {
	res := &blobclient.EmptyResult{Blobs: []blobclient.BlobMetadata{}}

	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		MaxKeys: aws.Int32(maxDeleteBatch),
	})
	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return res, translate(err, "failed to list blobs")
		}
		if len(page.Contents) == 0 {
			continue
		}
		if err := c.deleteBatch(ctx, page.Contents, res); err != nil {
			c.logger.Error("Failed to empty container", logging.NewField("deleted", res.Count), logging.NewField("error", err))
			return res, err
		}
	}

	c.logger.Info("Container emptied", logging.NewField("count", res.Count))
	return res, nil
}

func (c *Client) deleteBatch(ctx context.Context, objects []types.Object, res *blobclient.EmptyResult) error {
	ids := make([]types.ObjectIdentifier, 0, len(objects))
	byKey := make(map[string]types.Object, len(objects))
	for _, obj := range objects {
		ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		byKey[aws.ToString(obj.Key)] = obj
	}

	out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(c.bucket),
		Delete: &types.Delete{Objects: ids},
	})
	if err != nil {
		return translate(err, "failed to delete blobs")
	}

	for _, d := range out.Deleted {
		if obj, ok := byKey[aws.ToString(d.Key)]; ok {
			res.Add(objectMetadata(obj))
		}
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return errors.Errorf(codeFor(aws.ToString(first.Code), 0), "failed to delete blob %s: %s",
			aws.ToString(first.Key), aws.ToString(first.Message))
	}
	return nil
}

func objectMetadata(obj types.Object) blobclient.BlobMetadata {
	modified := aws.ToTime(obj.LastModified).UTC()
	return blobclient.BlobMetadata{
		Key:           aws.ToString(obj.Key),
		ContentLength: aws.ToInt64(obj.Size),
		ETag:          trimETag(obj.ETag),
		CreatedUTC:    modified,
		LastUpdateUTC: modified,
	}
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	return stderrors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

// codeFor maps S3 API error codes, falling back to the HTTP status.
func codeFor(apiCode string, status int) errors.ErrorCode {
	switch apiCode {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return errors.ErrorCodeNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken", "AllAccessDisabled":
		return errors.ErrorCodeUnauthorized
	case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout", "RequestTimeTooSkewed":
		return errors.ErrorCodeUnavailable
	case "InvalidArgument", "KeyTooLongError", "InvalidObjectName", "EntityTooLarge", "InvalidBucketName":
		return errors.ErrorCodeInvalidArgument
	case "NotImplemented", "MethodNotAllowed":
		return errors.ErrorCodeUnsupported
	}
	if status > 0 {
		return errors.FromHTTPStatus(status)
	}
	return errors.ErrorCodeInternal
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

	status := 0
	var respErr *awshttp.ResponseError
	if stderrors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return errors.Wrap(codeFor(apiErr.ErrorCode(), status), msg, err)
	}
	if status > 0 {
		return errors.Wrap(errors.FromHTTPStatus(status), msg, err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.Wrap(errors.ErrorCodeUnavailable, msg, err)
	}
	return errors.Wrap(errors.ErrorCodeInternal, msg, err)
}

// EnsureBucket creates the bucket if it does not exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if stderrors.As(err, &owned) || stderrors.As(err, &exists) {
		return nil
	}
	return translate(err, "failed to create bucket")
}
