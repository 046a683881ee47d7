// Package blobtest holds the behaviour every BlobClient implementation must share.
package blobtest

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/errors"
)

// Options describes provider capabilities the suite adapts to.
type Options struct {
	// PageSize is the enumeration page size the client was built with.
	// When positive, paging tests require more than one page.
	PageSize int

	// URLSupported means GenerateURL returns a locator instead of UNSUPPORTED.
	URLSupported bool
}

// Factory builds a client for one subtest. The suite empties it before use.
type Factory func(t *testing.T) blobclient.BlobClient

// RunSuite runs the shared conformance tests against clients built by newClient.
func RunSuite(t *testing.T, newClient Factory, opts Options) {
	client := func(t *testing.T) blobclient.BlobClient {
		t.Helper()
		c := newClient(t)
		_, err := c.Empty(context.Background())
		require.NoError(t, err, "emptying container before test")
		return c
	}

	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, client(t)) })
	t.Run("ExistsDeleteScenario", func(t *testing.T) { testExistsDeleteScenario(t, client(t)) })
	t.Run("DeleteMissingKey", func(t *testing.T) { testDeleteMissingKey(t, client(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, client(t)) })
	t.Run("BinaryContent", func(t *testing.T) { testBinaryContent(t, client(t)) })
	t.Run("EmptyContent", func(t *testing.T) { testEmptyContent(t, client(t)) })
	t.Run("WriteStream", func(t *testing.T) { testWriteStream(t, client(t)) })
	t.Run("WriteStreamShort", func(t *testing.T) { testWriteStreamShort(t, client(t)) })
	t.Run("InvalidArguments", func(t *testing.T) { testInvalidArguments(t, client(t)) })
	t.Run("NestedKeys", func(t *testing.T) { testNestedKeys(t, client(t)) })
	t.Run("EnumeratePrefix", func(t *testing.T) { testEnumeratePrefix(t, client(t)) })
	t.Run("EnumeratePaging", func(t *testing.T) { testEnumeratePaging(t, client(t), opts) })
	t.Run("EnumerateBadToken", func(t *testing.T) { testEnumerateBadToken(t, client(t)) })
	t.Run("Empty", func(t *testing.T) { testEmpty(t, client(t)) })
	t.Run("WriteMany", func(t *testing.T) { testWriteMany(t, client(t)) })
	t.Run("WriteManyInvalidBatch", func(t *testing.T) { testWriteManyInvalidBatch(t, client(t)) })
	t.Run("GenerateURL", func(t *testing.T) { testGenerateURL(t, client(t), opts) })
	t.Run("CancelledContext", func(t *testing.T) { testCancelledContext(t, client(t)) })
	t.Run("ConcurrentWrites", func(t *testing.T) { testConcurrentWrites(t, client(t)) })
}

func testRoundTrip(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	require.NoError(t, blobclient.WriteString(ctx, c, "a.txt", "text/plain", "hello"))

	data, err := c.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	stream, err := c.GetStream(ctx, "a.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	require.NoError(t, stream.Body.Close())
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "text/plain", stream.ContentType)
	if stream.ContentLength != blobclient.UnknownLength {
		assert.Equal(t, int64(5), stream.ContentLength)
	}

	md, err := c.GetMetadata(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", md.Key)
	assert.Equal(t, int64(5), md.ContentLength)
	assert.Equal(t, "text/plain", md.ContentType)
	assert.False(t, md.LastUpdateUTC.IsZero(), "last update time should be reported")
}

func testExistsDeleteScenario(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	require.NoError(t, blobclient.WriteString(ctx, c, "a.txt", "text/plain", "hello"))

	ok, err := c.Exists(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "a.txt"))

	ok, err = c.Exists(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Get(ctx, "a.txt")
	assert.True(t, errors.IsNotFound(err), "Get: %v", err)
	_, err = c.GetStream(ctx, "a.txt")
	assert.True(t, errors.IsNotFound(err), "GetStream: %v", err)
	_, err = c.GetMetadata(ctx, "a.txt")
	assert.True(t, errors.IsNotFound(err), "GetMetadata: %v", err)
}

func testDeleteMissingKey(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	require.NoError(t, c.Delete(ctx, "never-written"))

	ok, err := c.Exists(ctx, "never-written")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testOverwrite(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	require.NoError(t, c.Write(ctx, "k", "text/plain", []byte("first")))
	require.NoError(t, c.Write(ctx, "k", "application/json", []byte(`{"second":true}`)))

	data, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"second":true}`, string(data))

	md, err := c.GetMetadata(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "application/json", md.ContentType)
	assert.Equal(t, int64(15), md.ContentLength)
}

func testBinaryContent(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	payload := make([]byte, 256*3)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, c.Write(ctx, "bin/all-bytes", "application/octet-stream", payload))

	data, err := c.Get(ctx, "bin/all-bytes")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, data), "binary payload changed in transit")
}

func testEmptyContent(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	require.NoError(t, c.Write(ctx, "zero", "text/plain", nil))

	ok, err := c.Exists(ctx, "zero")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := c.Get(ctx, "zero")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func testWriteStream(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	body := strings.Repeat("stream-data-", 1000)
	require.NoError(t, c.WriteStream(ctx, "streamed", "text/plain", int64(len(body)), strings.NewReader(body)))

	data, err := c.Get(ctx, "streamed")
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	err = c.WriteStream(ctx, "too-long", "text/plain", 5, strings.NewReader("hello world"))
	assert.True(t, errors.IsInvalidArgument(err), "long stream: %v", err)
	ok, err := c.Exists(ctx, "too-long")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testWriteStreamShort(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	err := c.WriteStream(ctx, "short", "text/plain", 100, strings.NewReader("only a few bytes"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err), "short stream: %v", err)

	ok, err := c.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok, "a failed stream write must not leave an object behind")
}

func testInvalidArguments(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()

	err := c.Write(ctx, "", "text/plain", []byte("x"))
	assert.True(t, errors.IsInvalidArgument(err), "empty key write: %v", err)

	err = c.WriteStream(ctx, "neg", "text/plain", -1, strings.NewReader("x"))
	assert.True(t, errors.IsInvalidArgument(err), "negative length: %v", err)

	_, err = c.Get(ctx, "")
	assert.True(t, errors.IsInvalidArgument(err), "empty key get: %v", err)

	_, err = c.Exists(ctx, "")
	assert.True(t, errors.IsInvalidArgument(err), "empty key exists: %v", err)
}

func testNestedKeys(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	key := "dir/sub dir/file name.txt"
	require.NoError(t, c.Write(ctx, key, "text/plain", []byte("nested")))

	data, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))

	all, err := blobclient.EnumerateAll(ctx, c, "dir/")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, key, all[0].Key)
}

func testEnumeratePrefix(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	for _, k := range []string{"logs/1", "logs/2", "other"} {
		require.NoError(t, c.Write(ctx, k, "text/plain", []byte(k)))
	}

	all, err := blobclient.EnumerateAll(ctx, c, "logs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs/1", "logs/2"}, keysOf(all))

	for _, md := range all {
		assert.Equal(t, int64(len(md.Key)), md.ContentLength)
	}

	everything, err := blobclient.EnumerateAll(ctx, c, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs/1", "logs/2", "other"}, keysOf(everything))
}

func testEnumeratePaging(t *testing.T, c blobclient.BlobClient, opts Options) {
	ctx := context.Background()
	var want []string
	for i := 0; i < 7; i++ {
		k := fmt.Sprintf("page/%02d", i)
		want = append(want, k)
		require.NoError(t, c.Write(ctx, k, "text/plain", []byte("x")))
	}

	var got []string
	pages := 0
	req := blobclient.EnumerateOptions{Prefix: "page/"}
	for {
		page, err := c.Enumerate(ctx, req)
		require.NoError(t, err)
		pages++
		assert.Equal(t, int64(len(page.Blobs)), page.Count)
		got = append(got, keysOf(page.Blobs)...)
		if !page.HasMore() {
			break
		}
		require.Less(t, pages, 100, "enumeration does not terminate")
		req.ContinuationToken = page.NextContinuationToken
	}

	assert.Equal(t, want, got, "pages must concatenate to the full ordered listing")
	if opts.PageSize > 0 && opts.PageSize < len(want) {
		assert.Greater(t, pages, 1)
	}

	// Listing again from scratch yields the same order.
	again, err := blobclient.EnumerateAll(ctx, c, "page/")
	require.NoError(t, err)
	assert.Equal(t, got, keysOf(again))
}

func testEnumerateBadToken(t *testing.T, c blobclient.BlobClient) {
	_, err := c.Enumerate(context.Background(), blobclient.EnumerateOptions{ContinuationToken: "%%not a token%%"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err), "bad token: %v", err)
}

func testEmpty(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	keys := []string{"e/1", "e/2", "f"}
	for _, k := range keys {
		require.NoError(t, c.Write(ctx, k, "text/plain", []byte("abc")))
	}

	res, err := c.Empty(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Count)
	assert.Equal(t, int64(9), res.Bytes)
	assert.ElementsMatch(t, keys, keysOf(res.Blobs))

	for _, k := range keys {
		ok, err := c.Exists(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok, k)
	}

	again, err := c.Empty(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Count)
}

func testWriteMany(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	requests := []blobclient.WriteRequest{
		blobclient.NewBytesRequest("batch/1", "text/plain", []byte("one")),
		blobclient.NewBytesRequest("batch/2", "application/json", []byte(`{"n":2}`)),
		blobclient.NewStreamRequest("batch/3", "text/csv", 5, strings.NewReader("a,b,c")),
	}
	require.NoError(t, c.WriteMany(ctx, requests))

	want := map[string][2]string{
		"batch/1": {"one", "text/plain"},
		"batch/2": {`{"n":2}`, "application/json"},
		"batch/3": {"a,b,c", "text/csv"},
	}
	for key, w := range want {
		data, err := c.Get(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, w[0], string(data), key)

		md, err := c.GetMetadata(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, w[1], md.ContentType, key)
	}

	require.NoError(t, c.WriteMany(ctx, nil))
}

func testWriteManyInvalidBatch(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	requests := []blobclient.WriteRequest{
		blobclient.NewBytesRequest("valid/1", "text/plain", []byte("one")),
		blobclient.NewBytesRequest("valid/2", "text/plain", []byte("two")),
		blobclient.NewBytesRequest("", "text/plain", []byte("bad")),
	}

	err := c.WriteMany(ctx, requests)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err), "invalid batch: %v", err)

	var batchErr *blobclient.BatchError
	require.True(t, stderrors.As(err, &batchErr), "expected *BatchError, got %T", err)
	assert.Equal(t, 2, batchErr.Index)
	assert.Equal(t, 0, batchErr.Committed)

	ok, err := c.Exists(ctx, "valid/1")
	require.NoError(t, err)
	assert.False(t, ok, "nothing is written when the batch fails validation")
}

func testGenerateURL(t *testing.T, c blobclient.BlobClient, opts Options) {
	ctx := context.Background()
	url, err := c.GenerateURL(ctx, "docs/readme.txt")
	if !opts.URLSupported {
		assert.True(t, errors.IsUnsupported(err), "expected UNSUPPORTED, got %v", err)
		assert.Empty(t, url)
		return
	}

	require.NoError(t, err)
	assert.Contains(t, url, "readme.txt")

	again, err := c.GenerateURL(ctx, "docs/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, url, again, "URL generation must be deterministic")
}

func testCancelledContext(t *testing.T, c blobclient.BlobClient) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Write(ctx, "cancelled", "text/plain", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	ok, err := c.Exists(context.Background(), "cancelled")
	require.NoError(t, err)
	assert.False(t, ok, "a cancelled write must not be reported or committed")
}

func testConcurrentWrites(t *testing.T, c blobclient.BlobClient) {
	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent/%d", i)
			errs <- c.Write(ctx, key, "text/plain", []byte(key))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for i := 0; i < workers; i++ {
		key := fmt.Sprintf("concurrent/%d", i)
		data, err := c.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, string(data))
	}
}

func keysOf(blobs []blobclient.BlobMetadata) []string {
	keys := make([]string, 0, len(blobs))
	for _, b := range blobs {
		keys = append(keys, b.Key)
	}
	return keys
}
