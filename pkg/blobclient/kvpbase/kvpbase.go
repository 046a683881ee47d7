// Package kvpbase implements BlobClient over the blob gateway's REST dialect.
package kvpbase

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/config"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// DefaultContainer is used when Settings.Container is empty.
const DefaultContainer = "default"

// Settings configures a Client.
type Settings struct {
	Endpoint string `validate:"required,url"`
	UserGUID string `validate:"required"`
	// Container defaults to DefaultContainer.
	Container string
	APIKey    string `validate:"required"`
	// Timeout bounds requests that do not stream a body. Zero means 30 seconds.
	Timeout time.Duration `validate:"gte=0"`
}

// Client talks to a blob gateway for one user container.
type Client struct {
	http      *http.Client
	endpoint  string
	user      string
	container string
	apiKey    string
	timeout   time.Duration
	logger    logging.Logger
}

var _ blobclient.BlobClient = (*Client)(nil)

// New creates a gateway client. No request is made.
func New(settings Settings, logger logging.Logger) (*Client, error) {
	return NewWithHTTPClient(settings, http.DefaultClient, logger)
}

// NewWithHTTPClient creates a gateway client that sends requests through hc.
func NewWithHTTPClient(settings Settings, hc *http.Client, logger logging.Logger) (*Client, error) {
	if err := config.ValidateStruct(settings); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	timeout := settings.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	container := settings.Container
	if container == "" {
		container = DefaultContainer
	}

	return &Client{
		http:      hc,
		endpoint:  strings.TrimRight(settings.Endpoint, "/"),
		user:      settings.UserGUID,
		container: container,
		apiKey:    settings.APIKey,
		timeout:   timeout,
		logger: logger.With(
			logging.NewField("provider", "kvpbase"),
			logging.NewField("container", container),
		),
	}, nil
}

func (c *Client) blobURL(key string) string {
	return c.endpoint + BlobPath(c.user, c.container, key)
}

func (c *Client) containerURL(query url.Values) string {
	u := c.endpoint + ContainerPath(c.user, c.container)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorCodeInvalidArgument, "unable to build request", err)
	}
	req.Header.Set(HeaderAPIKey, c.apiKey)
	return req, nil
}

// do sends req and turns error responses into AppErrors. The caller closes the body of a
// successful response.
func (c *Client) do(req *http.Request, msg string) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, translate(err, msg)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp, msg)
}

// roundTrip performs a bodiless-response call under the client timeout.
func (c *Client) roundTrip(ctx context.Context, method, target string, body io.Reader, contentType, msg string) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, target, body)
	if err != nil {
		return nil, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.do(req, msg)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, translate(err, msg)
	}
	return resp, data, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer data.Body.Close()

	content, err := io.ReadAll(data.Body)
	if err != nil {
		return nil, translate(err, "failed to read blob")
	}
	return content, nil
}

// GetStream returns the response body. The request is bound to ctx, not the client timeout.
func (c *Client) GetStream(ctx context.Context, key string) (*blobclient.BlobData, error) {
	if err := blobclient.ValidateKey(key); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.blobURL(key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, "failed to get blob")
	if err != nil {
		return nil, err
	}

	length := resp.ContentLength
	if length < 0 {
		length = blobclient.UnknownLength
	}
	return &blobclient.BlobData{
		Body:          resp.Body,
		ContentLength: length,
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) GetMetadata(ctx context.Context, key string) (*blobclient.BlobMetadata, error) {
	if err := blobclient.ValidateKey(key); err != nil {
		return nil, err
	}

	_, body, err := c.roundTrip(ctx, http.MethodGet, c.blobURL(key)+"?metadata=true", nil, "", "failed to get blob metadata")
	if err != nil {
		return nil, err
	}

	var md blobclient.BlobMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, errors.Wrap(errors.ErrorCodeInternal, "malformed metadata response", err)
	}
	return &md, nil
}

func (c *Client) Write(ctx context.Context, key, contentType string, data []byte) error {
	return c.WriteStream(ctx, key, contentType, int64(len(data)), bytes.NewReader(data))
}

// WriteStream uploads exactly contentLength bytes from r in one PUT.
func (c *Client) WriteStream(ctx context.Context, key, contentType string, contentLength int64, r io.Reader) error {
	if err := blobclient.ValidateStream(key, contentLength, r); err != nil {
		return err
	}

	body := &trackingReader{r: blobclient.ContextReader(ctx, blobclient.ExactReader(r, contentLength))}
	req, err := c.newRequest(ctx, http.MethodPut, c.blobURL(key), body)
	if err != nil {
		return err
	}
	req.ContentLength = contentLength
	if contentLength == 0 {
		if _, err := blobclient.ReadExact(r, 0); err != nil {
			return err
		}
		req.Body = http.NoBody
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.do(req, "failed to write blob")
	if err != nil {
		// The transport reports a failed body read as its own error.
		if body.err != nil {
			return body.err
		}
		return err
	}
	resp.Body.Close()

	c.logger.DebugWithContext(ctx, "Blob written",
		logging.NewField("blob", key),
		logging.NewField("bytes", contentLength),
	)
	return nil
}

// WriteMany sends the batch in one call. Stream payloads are buffered first.
func (c *Client) WriteMany(ctx context.Context, requests []blobclient.WriteRequest) error {
	if err := blobclient.ValidateBatch(requests); err != nil {
		return err
	}
	if len(requests) > MaxBatchItems {
		return errors.Errorf(errors.ErrorCodeInvalidArgument, "batch holds %d requests, the limit is %d", len(requests), MaxBatchItems)
	}

	batch := BatchRequest{Requests: make([]BatchItem, 0, len(requests))}
	for i, req := range requests {
		item := BatchItem{Key: req.Key, ContentType: req.ContentType}
		switch p := req.Payload.(type) {
		case blobclient.Bytes:
			item.Data = p
		case blobclient.Stream:
			data, err := blobclient.ReadExact(p.Reader, p.Length)
			if err != nil {
				return &blobclient.BatchError{Index: i, Key: req.Key, Err: err}
			}
			item.Data = data
		}
		batch.Requests = append(batch.Requests, item)
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return errors.Wrap(errors.ErrorCodeInternal, "unable to encode batch", err)
	}

	_, _, err = c.roundTrip(ctx, http.MethodPost, c.endpoint+ContainerPath(c.user, c.container)+"/batch",
		bytes.NewReader(body), "application/json", "failed to write batch")
	if err != nil {
		return batchErrorFrom(err, len(requests))
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := blobclient.ValidateKey(key); err != nil {
		return err
	}
	_, _, err := c.roundTrip(ctx, http.MethodDelete, c.blobURL(key), nil, "", "failed to delete blob")
	return err
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if err := blobclient.ValidateKey(key); err != nil {
		return false, err
	}
	_, _, err := c.roundTrip(ctx, http.MethodHead, c.blobURL(key), nil, "", "failed to check blob")
	if errors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GenerateURL returns the gateway URL of the blob. Fetching it requires the API key.
func (c *Client) GenerateURL(ctx context.Context, key string) (string, error) {
	if err := blobclient.ValidateKey(key); err != nil {
		return "", err
	}
	return c.blobURL(key), nil
}

func (c *Client) Enumerate(ctx context.Context, opts blobclient.EnumerateOptions) (*blobclient.EnumerationResult, error) {
	query := url.Values{}
	if opts.Prefix != "" {
		query.Set("prefix", opts.Prefix)
	}
	if opts.ContinuationToken != "" {
		query.Set("token", opts.ContinuationToken)
	}

	_, body, err := c.roundTrip(ctx, http.MethodGet, c.containerURL(query), nil, "", "failed to enumerate blobs")
	if err != nil {
		return nil, err
	}

	var res blobclient.EnumerationResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Wrap(errors.ErrorCodeInternal, "malformed enumeration response", err)
	}
	return blobclient.NewEnumerationResult(res.Blobs, res.NextContinuationToken), nil
}

func (c *Client) Empty(ctx context.Context) (*blobclient.EmptyResult, error) {
	_, body, err := c.roundTrip(ctx, http.MethodDelete, c.containerURL(nil), nil, "", "failed to empty container")
	if err != nil {
		return nil, err
	}

	res := &blobclient.EmptyResult{Blobs: []blobclient.BlobMetadata{}}
	if err := json.Unmarshal(body, res); err != nil {
		return nil, errors.Wrap(errors.ErrorCodeInternal, "malformed empty response", err)
	}
	if res.Blobs == nil {
		res.Blobs = []blobclient.BlobMetadata{}
	}
	return res, nil
}

// trackingReader remembers the first read error other than io.EOF.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

func decodeError(resp *http.Response, msg string) error {
	code := errors.FromHTTPStatus(resp.StatusCode)

	var body errors.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(data) > 0 && json.Unmarshal(data, &body) == nil && body.Code != "" {
		appErr := errors.NewAppError(body.Code, fmt.Sprintf("%s: %s", msg, body.Message))
		appErr.HTTPStatus = resp.StatusCode
		return appErr.WithDetails(body.Details)
	}

	appErr := errors.Errorf(code, "%s: gateway returned %s", msg, resp.Status)
	appErr.HTTPStatus = resp.StatusCode
	return appErr
}

// batchErrorFrom rebuilds the BatchError described by a gateway error response.
func batchErrorFrom(err error, total int) error {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) || appErr.Details == nil {
		return err
	}

	index, ok := detailInt(appErr.Details[DetailIndex])
	if !ok || index < 0 || index >= total {
		return err
	}
	committed, _ := detailInt(appErr.Details[DetailCommitted])
	key, _ := appErr.Details[DetailKey].(string)

	return &blobclient.BatchError{Index: index, Key: key, Committed: committed, Err: err}
}

func detailInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func translate(err error, msg string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.Wrap(errors.ErrorCodeUnavailable, msg, err)
	}
	return errors.Wrap(errors.ErrorCodeInternal, msg, err)
}
