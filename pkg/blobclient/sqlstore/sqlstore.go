// Package sqlstore keeps blobs as rows of a single SQL table (PostgreSQL or SQLite).
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lib/pq"
	"modernc.org/sqlite"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/config"
	"github.com/yourorg/go-blob-kit/pkg/db"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// Settings configures a sqlstore Client.
type Settings struct {
	Driver   string `validate:"required,oneof=postgres sqlite"`
	DSN      string `validate:"required"`
	Table    string `validate:"required"`
	PageSize int    `validate:"gte=0"`
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Client is a BlobClient storing each blob as a row.
type Client struct {
	db       db.DB
	table    string
	pageSize int
	logger   logging.Logger
	now      func() time.Time
}

var _ blobclient.BlobClient = (*Client)(nil)

// New opens the database named by settings and creates the blob table if needed.
func New(ctx context.Context, settings Settings, logger logging.Logger) (*Client, error) {
	if err := config.ValidateStruct(settings); err != nil {
		return nil, err
	}
	if !tableName.MatchString(settings.Table) {
		return nil, errors.Errorf(errors.ErrorCodeInvalidArgument, "invalid table name: %q", settings.Table)
	}

	conn, err := db.Open(ctx, settings.Driver, settings.DSN)
	if err != nil {
		return nil, translate(err, "failed to open database")
	}

	c, err := NewWithDB(ctx, conn, settings.Table, settings.PageSize, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewWithDB builds a client over an existing connection.
func NewWithDB(ctx context.Context, conn db.DB, table string, pageSize int, logger logging.Logger) (*Client, error) {
	if !tableName.MatchString(table) {
		return nil, errors.Errorf(errors.ErrorCodeInvalidArgument, "invalid table name: %q", table)
	}
	if pageSize <= 0 {
		pageSize = blobclient.DefaultPageSize
	}

	c := &Client{
		db:       conn,
		table:    table,
		pageSize: pageSize,
		logger: logger.With(
			logging.NewField("provider", "sql"),
			logging.NewField("driver", conn.Driver()),
			logging.NewField("container", table),
		),
		now: func() time.Time { return time.Now().UTC() },
	}
	if err := c.migrate(ctx); err != nil {
		return nil, err
	}

	c.logger.Info("SQL blob client initialized")
	return c, nil
}

// Close releases the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) migrate(ctx context.Context) error {
	keyType, dataType := "TEXT", "BLOB"
	if c.db.Driver() == db.DriverPostgres {
		keyType, dataType = `TEXT COLLATE "C"`, "BYTEA"
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	blob_key %s PRIMARY KEY,
	content_type TEXT NOT NULL,
	content_length BIGINT NOT NULL,
	etag TEXT NOT NULL,
	data %s NOT NULL,
	created_utc BIGINT NOT NULL,
	last_update_utc BIGINT NOT NULL
)`, c.table, keyType, dataType)

	if _, err := c.db.Exec(ctx, ddl); err != nil {
		c.logger.Error("Failed to create blob table", logging.NewField("error", err))
		return translate(err, "failed to create blob table")
	}
	return nil
}

const metadataColumns = "blob_key, content_type, content_length, etag, created_utc, last_update_utc"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMetadata(row scanner, extra ...interface{}) (blobclient.BlobMetadata, error) {
	var md blobclient.BlobMetadata
	var created, updated int64
	dest := append([]interface{}{&md.Key, &md.ContentType, &md.ContentLength, &md.ETag, &created, &updated}, extra...)
	if err := row.Scan(dest...); err != nil {
		return md, err
	}
	md.CreatedUTC = time.Unix(0, created).UTC()
	md.LastUpdateUTC = time.Unix(0, updated).UTC()
	return md, nil
}

func (c *Client) fetch(ctx context.Context, key string, withData bool) (blobclient.BlobMetadata, []byte, error) {
	var md blobclient.BlobMetadata
	if err := ctx.Err(); err != nil {
		return md, nil, err
	}
	if err := blobclient.ValidateKey(key); err != nil {
		return md, nil, err
	}

	cols := metadataColumns
	var data []byte
	var extra []interface{}
	if withData {
		cols += ", data"
		extra = append(extra, &data)
	}

	row := c.db.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE blob_key = ?", cols, c.table), key)
	md, err := scanMetadata(row, extra...)
	if stderrors.Is(err, sql.ErrNoRows) {
		return md, nil, errors.Errorf(errors.ErrorCodeNotFound, "blob not found: %s", key)
	}
	if err != nil {
		c.logger.Error("Failed to read blob", logging.NewField("blob", key), logging.NewField("error", err))
		return md, nil, translate(err, "failed to read blob")
	}
	if data == nil {
		data = []byte{}
	}
	return md, data, nil
}

// Get reads the blob row.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	_, data, err := c.fetch(ctx, key, true)
	return data, err
}

// GetStream reads the blob row and serves it from memory.
func (c *Client) GetStream(ctx context.Context, key string) (*blobclient.BlobData, error) {
	md, data, err := c.fetch(ctx, key, true)
	if err != nil {
		return nil, err
	}
	return &blobclient.BlobData{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		ContentType:   md.ContentType,
	}, nil
}

// GetMetadata reads the blob attributes without the data column.
func (c *Client) GetMetadata(ctx context.Context, key string) (*blobclient.BlobMetadata, error) {
	md, _, err := c.fetch(ctx, key, false)
	if err != nil {
		return nil, err
	}
	return &md, nil
}

// Write upserts data under key.
func (c *Client) Write(ctx context.Context, key, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := blobclient.ValidateKey(key); err != nil {
		return err
	}
	return c.upsert(ctx, key, contentType, data)
}

// WriteStream buffers exactly contentLength bytes from r and upserts them.
func (c *Client) WriteStream(ctx context.Context, key, contentType string, contentLength int64, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := blobclient.ValidateStream(key, contentLength, r); err != nil {
		return err
	}
	data, err := blobclient.ReadExact(blobclient.ContextReader(ctx, r), contentLength)
	if err != nil {
		return err
	}
	return c.upsert(ctx, key, contentType, data)
}

func (c *Client) upsert(ctx context.Context, key, contentType string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	now := c.now().UnixNano()

	query := fmt.Sprintf(`INSERT INTO %s (blob_key, content_type, content_length, etag, data, created_utc, last_update_utc)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (blob_key) DO UPDATE SET
	content_type = excluded.content_type,
	content_length = excluded.content_length,
	etag = excluded.etag,
	data = excluded.data,
	last_update_utc = excluded.last_update_utc`, c.table)

	_, err := c.db.Exec(ctx, query, key, contentType, int64(len(data)), blobclient.ComputeETag(data), data, now, now)
	if err != nil {
		c.logger.Error("Failed to write blob", logging.NewField("blob", key), logging.NewField("error", err))
		return translate(err, "failed to write blob")
	}
	c.logger.Debug("Blob written", logging.NewField("blob", key), logging.NewField("size", len(data)))
	return nil
}

// WriteMany upserts each request in order, stopping at the first failure.
func (c *Client) WriteMany(ctx context.Context, requests []blobclient.WriteRequest) error {
	return blobclient.WriteBatch(ctx, c, requests)
}

// Delete removes the row for key. Missing keys are ignored.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := blobclient.ValidateKey(key); err != nil {
		return err
	}
	if _, err := c.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE blob_key = ?", c.table), key); err != nil {
		c.logger.Error("Failed to delete blob", logging.NewField("blob", key), logging.NewField("error", err))
		return translate(err, "failed to delete blob")
	}
	return nil
}

// Exists reports whether a row exists for key.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := blobclient.ValidateKey(key); err != nil {
		return false, err
	}
	var one int
	err := c.db.QueryRow(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE blob_key = ? LIMIT 1", c.table), key).Scan(&one)
	if stderrors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, translate(err, "failed to check blob")
	}
	return true, nil
}

// GenerateURL is unsupported: rows have no external address.
func (c *Client) GenerateURL(ctx context.Context, key string) (string, error) {
	if err := blobclient.ValidateKey(key); err != nil {
		return "", err
	}
	return "", errors.NewUnsupportedError("sql blobs cannot be addressed by URL")
}

// Enumerate lists a page of blobs using keyset pagination on blob_key.
func (c *Client) Enumerate(ctx context.Context, opts blobclient.EnumerateOptions) (*blobclient.EnumerationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	after, err := blobclient.DecodeToken(opts.ContinuationToken)
	if err != nil {
		return nil, err
	}

	var where []string
	var args []interface{}
	if opts.Prefix != "" {
		where = append(where, "substr(blob_key, 1, ?) = ?")
		args = append(args, utf8.RuneCountInString(opts.Prefix), opts.Prefix)
	}
	if after != "" {
		where = append(where, "blob_key > ?")
		args = append(args, after)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", metadataColumns, c.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY blob_key LIMIT ?"
	args = append(args, c.pageSize+1)

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err, "failed to list blobs")
	}
	defer rows.Close()

	blobs := make([]blobclient.BlobMetadata, 0, c.pageSize)
	for rows.Next() {
		md, err := scanMetadata(rows)
		if err != nil {
			return nil, translate(err, "failed to list blobs")
		}
		blobs = append(blobs, md)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "failed to list blobs")
	}

	next := ""
	if len(blobs) > c.pageSize {
		blobs = blobs[:c.pageSize]
		next = blobclient.EncodeToken(blobs[len(blobs)-1].Key)
	}
	return blobclient.NewEnumerationResult(blobs, next), nil
}

// Empty deletes every row and reports the rows actually removed.
func (c *Client) Empty(ctx context.Context) (*blobclient.EmptyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The removals are only committed once every removed row has been reported.
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate(err, "failed to empty container")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := c.deleteAll(ctx, tx)
	if err != nil {
		c.logger.Error("Failed to empty container", logging.NewField("error", err))
		return nil, translate(err, "failed to empty container")
	}
	if err := tx.Commit(); err != nil {
		return nil, translate(err, "failed to empty container")
	}

	c.logger.Info("Container emptied", logging.NewField("count", res.Count))
	return res, nil
}

func (c *Client) deleteAll(ctx context.Context, tx db.Tx) (*blobclient.EmptyResult, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf("DELETE FROM %s RETURNING %s", c.table, metadataColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := &blobclient.EmptyResult{Blobs: []blobclient.BlobMetadata{}}
	for rows.Next() {
		md, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		res.Add(md)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// SQLite primary result codes.
const (
	sqlitePerm   = 3
	sqliteBusy   = 5
	sqliteLocked = 6
	sqliteAuth   = 23
)

// translate maps driver errors onto the error taxonomy.
func translate(err error, msg string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch class := pqErr.Code.Class(); {
		case class == "28" || class == "42" && pqErr.Code == "42501":
			return errors.Wrap(errors.ErrorCodeUnauthorized, msg, err)
		case class == "08" || class == "53" || class == "57" || class == "40":
			return errors.Wrap(errors.ErrorCodeUnavailable, msg, err)
		case class == "22":
			return errors.Wrap(errors.ErrorCodeInvalidArgument, msg, err)
		}
		return errors.Wrap(errors.ErrorCodeInternal, msg, err)
	}

	var liteErr *sqlite.Error
	if stderrors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return errors.Wrap(errors.ErrorCodeUnavailable, msg, err)
		case sqlitePerm, sqliteAuth:
			return errors.Wrap(errors.ErrorCodeUnauthorized, msg, err)
		}
		return errors.Wrap(errors.ErrorCodeInternal, msg, err)
	}

	var netErr net.Error
	if stderrors.Is(err, driver.ErrBadConn) || stderrors.As(err, &netErr) {
		return errors.Wrap(errors.ErrorCodeUnavailable, msg, err)
	}
	return errors.Wrap(errors.ErrorCodeInternal, msg, err)
}
