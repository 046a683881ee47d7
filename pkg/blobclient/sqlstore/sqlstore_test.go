package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/blobclient/blobtest"
	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

func newTestClient(t *testing.T, path string, pageSize int) *Client {
	t.Helper()
	c, err := New(context.Background(), Settings{
		Driver:   "sqlite",
		DSN:      path,
		Table:    "blobs",
		PageSize: pageSize,
	}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSQLiteConformance(t *testing.T) {
	blobtest.RunSuite(t, func(t *testing.T) blobclient.BlobClient {
		return newTestClient(t, filepath.Join(t.TempDir(), "blobs.db"), 3)
	}, blobtest.Options{PageSize: 3})
}

func TestNewValidatesSettings(t *testing.T) {
	ctx := context.Background()
	log := logging.NewNopLogger()

	tests := []struct {
		name     string
		settings Settings
	}{
		{"missing driver", Settings{DSN: "x.db", Table: "blobs"}},
		{"unknown driver", Settings{Driver: "oracle", DSN: "x", Table: "blobs"}},
		{"missing dsn", Settings{Driver: "sqlite", Table: "blobs"}},
		{"injected table", Settings{Driver: "sqlite", DSN: "x.db", Table: "blobs; DROP TABLE users"}},
		{"table starting with digit", Settings{Driver: "sqlite", DSN: "x.db", Table: "1blobs"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(ctx, tt.settings, log)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgument(err), "got %v", err)
		})
	}
}

func TestRowsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.db")
	ctx := context.Background()

	first := newTestClient(t, path, 0)
	require.NoError(t, first.Write(ctx, "a.txt", "text/plain", []byte("one")))
	before, err := first.GetMetadata(ctx, "a.txt")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newTestClient(t, path, 0)
	data, err := second.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	second.now = func() time.Time { return before.LastUpdateUTC.Add(time.Hour) }
	require.NoError(t, second.Write(ctx, "a.txt", "text/markdown", []byte("two")))

	after, err := second.GetMetadata(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", after.ContentType)
	assert.True(t, before.CreatedUTC.Equal(after.CreatedUTC), "upsert keeps created_utc")
	assert.True(t, after.LastUpdateUTC.After(before.LastUpdateUTC))
	assert.Equal(t, blobclient.ComputeETag([]byte("two")), after.ETag)
}

func TestPrefixIsLiteral(t *testing.T) {
	c := newTestClient(t, filepath.Join(t.TempDir(), "blobs.db"), 0)
	ctx := context.Background()

	for _, key := range []string{"a%b/1", "axb/2", "a_b/3", "é/4"} {
		require.NoError(t, c.Write(ctx, key, "text/plain", []byte("x")))
	}

	res, err := c.Enumerate(ctx, blobclient.EnumerateOptions{Prefix: "a%"})
	require.NoError(t, err)
	require.Len(t, res.Blobs, 1)
	assert.Equal(t, "a%b/1", res.Blobs[0].Key)

	res, err = c.Enumerate(ctx, blobclient.EnumerateOptions{Prefix: "é"})
	require.NoError(t, err)
	require.Len(t, res.Blobs, 1)
	assert.Equal(t, "é/4", res.Blobs[0].Key)
}

func TestEmptyKeepsRowsWhenReportingFails(t *testing.T) {
	c := newTestClient(t, filepath.Join(t.TempDir(), "blobs.db"), 0)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, "good", "text/plain", []byte("x")))
	_, err := c.db.Exec(ctx, "INSERT INTO blobs (blob_key, content_type, content_length, etag, data, created_utc, last_update_utc) VALUES (?, ?, ?, ?, ?, ?, ?)",
		"broken", "text/plain", 1, "", []byte("y"), "not a timestamp", 0)
	require.NoError(t, err)

	_, err = c.Empty(ctx)
	require.Error(t, err)

	for _, key := range []string{"good", "broken"} {
		ok, err := c.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "%s survives the rolled back empty", key)
	}
}

func TestGenerateURLUnsupported(t *testing.T) {
	c := newTestClient(t, filepath.Join(t.TempDir(), "blobs.db"), 0)

	_, err := c.GenerateURL(context.Background(), "a")
	assert.True(t, errors.IsUnsupported(err))
}

func TestTranslate(t *testing.T) {
	assert.Nil(t, translate(nil, "x"))
	assert.ErrorIs(t, translate(context.Canceled, "x"), context.Canceled)
	assert.Equal(t, errors.ErrorCodeInternal, errors.CodeOf(translate(assert.AnError, "x")))
}
