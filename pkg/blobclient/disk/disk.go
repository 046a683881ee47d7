// Package disk stores blobs as files under a local directory.
//
// Layout:
//
//	<dir>/data/<key>        blob content
//	<dir>/meta/<sha256>.json content type, timestamps and etag, named by the key's hash
//	<dir>/tmp/              staging area; writes are committed by rename
package disk

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/config"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

const defaultContentType = "application/octet-stream"

// Settings configures a disk Client.
type Settings struct {
	Directory string `validate:"required"`
	PageSize  int    `validate:"gte=0"`
}

// Client is a BlobClient backed by the local filesystem.
type Client struct {
	root     string
	dataDir  string
	metaDir  string
	tmpDir   string
	pageSize int
	logger   logging.Logger

	// commit guards the data/sidecar pair so readers never pair new data with old metadata.
	commit sync.RWMutex
}

type sidecar struct {
	ContentType   string    `json:"content_type"`
	ETag          string    `json:"etag"`
	CreatedUTC    time.Time `json:"created_utc"`
	LastUpdateUTC time.Time `json:"last_update_utc"`
}

var _ blobclient.BlobClient = (*Client)(nil)

// New creates a disk client rooted at settings.Directory, creating the directory tree if needed.
func New(ctx context.Context, settings Settings, logger logging.Logger) (*Client, error) {
	settings.Directory = strings.TrimSpace(settings.Directory)
	if err := config.ValidateStruct(settings); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(settings.Directory)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorCodeInvalidArgument, "invalid directory", err)
	}

	c := &Client{
		root:     root,
		dataDir:  filepath.Join(root, "data"),
		metaDir:  filepath.Join(root, "meta"),
		tmpDir:   filepath.Join(root, "tmp"),
		pageSize: settings.PageSize,
		logger:   logger.With(logging.NewField("provider", "disk"), logging.NewField("container", root)),
	}
	if c.pageSize <= 0 {
		c.pageSize = blobclient.DefaultPageSize
	}

	for _, dir := range []string{c.dataDir, c.metaDir, c.tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, translate(err, "failed to create storage directory")
		}
	}

	c.logger.Info("Disk blob client initialized")
	return c, nil
}

// validKey rejects keys that cannot be mapped onto a relative file path.
func validKey(key string) error {
	if err := blobclient.ValidateKey(key); err != nil {
		return err
	}
	if strings.ContainsRune(key, 0) || strings.Contains(key, "\\") {
		return errors.Errorf(errors.ErrorCodeInvalidArgument, "blob key contains an illegal character: %q", key)
	}
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return errors.Errorf(errors.ErrorCodeInvalidArgument, "blob key must not start or end with '/': %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return errors.Errorf(errors.ErrorCodeInvalidArgument, "blob key has an empty or relative segment: %q", key)
		}
	}
	return nil
}

func (c *Client) dataPath(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	p, err := securejoin.SecureJoin(c.dataDir, key)
	if err != nil {
		return "", errors.Wrap(errors.ErrorCodeInvalidArgument, "blob key escapes the storage directory", err)
	}
	return p, nil
}

// metaPath names the sidecar after the key's hash so that no key can shadow
// another key's sidecar.
func (c *Client) metaPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.metaDir, hex.EncodeToString(sum[:])+".json")
}

// translate maps filesystem errors onto the error taxonomy.
func translate(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return err
	case stderrors.As(err, new(*errors.AppError)):
		return err
	case stderrors.Is(err, fs.ErrNotExist):
		return errors.Wrap(errors.ErrorCodeNotFound, msg, err)
	case stderrors.Is(err, fs.ErrPermission):
		return errors.Wrap(errors.ErrorCodeUnauthorized, msg, err)
	default:
		return errors.Wrap(errors.ErrorCodeInternal, msg, err)
	}
}

func isNotDir(err error) bool { return stderrors.Is(err, syscall.ENOTDIR) }

func isDirErr(err error) bool { return stderrors.Is(err, syscall.EISDIR) }

func notFound(key string) error {
	return errors.Errorf(errors.ErrorCodeNotFound, "blob not found: %s", key)
}

// stat returns the file info of a stored blob, treating directories as missing.
func (c *Client) stat(key string) (string, fs.FileInfo, error) {
	path, err := c.dataPath(key)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) || isNotDir(err) {
			return "", nil, notFound(key)
		}
		return "", nil, translate(err, "failed to stat blob")
	}
	if !info.Mode().IsRegular() {
		return "", nil, notFound(key)
	}
	return path, info, nil
}

func (c *Client) readSidecar(key string, info fs.FileInfo) blobclient.BlobMetadata {
	md := blobclient.BlobMetadata{
		Key:           key,
		ContentType:   defaultContentType,
		ContentLength: info.Size(),
		LastUpdateUTC: info.ModTime().UTC(),
		CreatedUTC:    info.ModTime().UTC(),
	}

	raw, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		return md
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		c.logger.Warn("Ignoring unreadable metadata sidecar", logging.NewField("blob", key), logging.NewField("error", err))
		return md
	}
	md.ContentType = sc.ContentType
	md.ETag = sc.ETag
	if !sc.CreatedUTC.IsZero() {
		md.CreatedUTC = sc.CreatedUTC
	}
	if !sc.LastUpdateUTC.IsZero() {
		md.LastUpdateUTC = sc.LastUpdateUTC
	}
	return md
}

// Get reads the whole blob.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.commit.RLock()
	defer c.commit.RUnlock()

	path, _, err := c.stat(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, translate(err, "failed to read blob")
	}
	return data, nil
}

// GetStream opens the blob file. The caller closes the returned body.
func (c *Client) GetStream(ctx context.Context, key string) (*blobclient.BlobData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.commit.RLock()
	defer c.commit.RUnlock()

	path, info, err := c.stat(key)
	if err != nil {
		return nil, err
	}
	md := c.readSidecar(key, info)

	f, err := os.Open(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, translate(err, "failed to open blob")
	}
	return &blobclient.BlobData{
		Body:          f,
		ContentLength: info.Size(),
		ContentType:   md.ContentType,
	}, nil
}

// GetMetadata returns the blob attributes from the file and its sidecar.
func (c *Client) GetMetadata(ctx context.Context, key string) (*blobclient.BlobMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.commit.RLock()
	defer c.commit.RUnlock()

	_, info, err := c.stat(key)
	if err != nil {
		return nil, err
	}
	md := c.readSidecar(key, info)
	return &md, nil
}

// Write stores data under key.
func (c *Client) Write(ctx context.Context, key, contentType string, data []byte) error {
	return c.write(ctx, key, contentType, int64(len(data)), bytes.NewReader(data))
}

// WriteStream stores exactly contentLength bytes from r under key.
func (c *Client) WriteStream(ctx context.Context, key, contentType string, contentLength int64, r io.Reader) error {
	if err := blobclient.ValidateStream(key, contentLength, r); err != nil {
		return err
	}
	return c.write(ctx, key, contentType, contentLength, r)
}

func (c *Client) write(ctx context.Context, key, contentType string, length int64, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := c.dataPath(key)
	if err != nil {
		return err
	}
	metaDst := c.metaPath(key)

	logger := c.logger.With(
		logging.NewField("operation", "blob.upload"),
		logging.NewField("blob", key),
	)
	logger.Debug("Starting blob upload", logging.NewField("size", length))

	tmp, err := os.CreateTemp(c.tmpDir, "put-*")
	if err != nil {
		return translate(err, "failed to stage blob")
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	h := md5.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), blobclient.ContextReader(ctx, blobclient.ExactReader(r, length))); err != nil {
		cleanup()
		logger.Warn("Blob upload aborted", logging.NewField("error", err))
		return translate(err, "failed to stage blob")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return translate(err, "failed to stage blob")
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return err
	}

	now := time.Now().UTC()
	sc := sidecar{ContentType: contentType, ETag: hex.EncodeToString(h.Sum(nil)), CreatedUTC: now, LastUpdateUTC: now}

	c.commit.Lock()
	defer c.commit.Unlock()

	if prev, err := os.ReadFile(metaDst); err == nil {
		var old sidecar
		if json.Unmarshal(prev, &old) == nil && !old.CreatedUTC.IsZero() {
			sc.CreatedUTC = old.CreatedUTC
		}
	}

	metaTmp, err := c.stageSidecar(sc)
	if err != nil {
		cleanup()
		logger.Error("Failed to stage blob metadata", logging.NewField("error", err))
		return translate(err, "failed to write blob metadata")
	}
	discard := func() {
		cleanup()
		_ = os.Remove(metaTmp)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		discard()
		return c.conflict(key, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		discard()
		return c.conflict(key, err)
	}
	if err := os.Rename(metaTmp, metaDst); err != nil {
		// The new content must not stay visible without its metadata.
		_ = os.Remove(metaTmp)
		_ = os.Remove(dst)
		c.prune(filepath.Dir(dst), c.dataDir)
		logger.Error("Failed to write blob metadata", logging.NewField("error", err))
		return translate(err, "failed to write blob metadata")
	}

	logger.Info("Blob uploaded successfully", logging.NewField("size", length))
	return nil
}

// conflict reports a key that collides with the directory of another key.
func (c *Client) conflict(key string, err error) error {
	if isNotDir(err) || stderrors.Is(err, fs.ErrExist) || isDirErr(err) {
		return errors.Wrap(errors.ErrorCodeInvalidArgument, "blob key collides with an existing key prefix: "+key, err)
	}
	return translate(err, "failed to commit blob")
}

// stageSidecar writes sc to a temp file and returns its path.
func (c *Client) stageSidecar(sc sidecar) (string, error) {
	raw, err := json.Marshal(sc)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(c.tmpDir, "meta-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// WriteMany applies requests in order, stopping at the first failure.
func (c *Client) WriteMany(ctx context.Context, requests []blobclient.WriteRequest) error {
	return blobclient.WriteBatch(ctx, c, requests)
}

// Delete removes the blob and its sidecar. Missing keys are ignored.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.commit.Lock()
	defer c.commit.Unlock()

	return c.remove(key)
}

func (c *Client) remove(key string) error {
	path, err := c.dataPath(key)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err != nil && (stderrors.Is(err, fs.ErrNotExist) || isNotDir(err)):
		return nil
	case err != nil:
		return translate(err, "failed to delete blob")
	}

	if err := os.Remove(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		c.logger.Error("Failed to delete blob", logging.NewField("blob", key), logging.NewField("error", err))
		return translate(err, "failed to delete blob")
	}
	if err := os.Remove(c.metaPath(key)); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return translate(err, "failed to delete blob metadata")
	}
	c.prune(filepath.Dir(path), c.dataDir)

	c.logger.Info("Blob deleted successfully", logging.NewField("blob", key))
	return nil
}

// prune removes empty directories from dir up to, but excluding, stop.
func (c *Client) prune(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Exists reports whether a blob file is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, _, err := c.stat(key)
	if errors.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// GenerateURL returns a file:// URL for the blob.
func (c *Client) GenerateURL(ctx context.Context, key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(c.dataDir, filepath.FromSlash(key)))}
	return u.String(), nil
}

// keys walks the data tree below the directory part of prefix.
func (c *Client) keys(ctx context.Context, prefix string) ([]string, error) {
	start := c.dataDir
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		if validKey(prefix[:i]) == nil {
			start = filepath.Join(c.dataDir, filepath.FromSlash(prefix[:i]))
		}
	}

	var keys []string
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(c.dataDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "failed to list blobs")
	}
	return keys, nil
}

// Enumerate lists a page of blobs in key order.
func (c *Client) Enumerate(ctx context.Context, opts blobclient.EnumerateOptions) (*blobclient.EnumerationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := blobclient.DecodeToken(opts.ContinuationToken); err != nil {
		return nil, err
	}

	c.commit.RLock()
	defer c.commit.RUnlock()

	keys, err := c.keys(ctx, opts.Prefix)
	if err != nil {
		return nil, err
	}
	page, next, err := blobclient.PageKeys(keys, opts.Prefix, opts.ContinuationToken, c.pageSize)
	if err != nil {
		return nil, err
	}

	blobs := make([]blobclient.BlobMetadata, 0, len(page))
	for _, key := range page {
		_, info, err := c.stat(key)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, c.readSidecar(key, info))
	}
	return blobclient.NewEnumerationResult(blobs, next), nil
}

// Empty removes every blob.
func (c *Client) Empty(ctx context.Context) (*blobclient.EmptyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.commit.Lock()
	defer c.commit.Unlock()

	keys, err := c.keys(ctx, "")
	if err != nil {
		return nil, err
	}
	sorted, _, _ := blobclient.PageKeys(keys, "", "", len(keys)+1)

	res := &blobclient.EmptyResult{Blobs: []blobclient.BlobMetadata{}}
	for _, key := range sorted {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, info, err := c.stat(key)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return res, err
		}
		md := c.readSidecar(key, info)
		if err := c.remove(key); err != nil {
			return res, err
		}
		res.Add(md)
	}

	c.logger.Info("Container emptied", logging.NewField("count", res.Count))
	return res, nil
}
