package blobevents

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/servicebusclient"
)

const queue = "blob-events"

func setup(t *testing.T) (*servicebusclient.MockServiceBusClient, blobclient.BlobClient) {
	t.Helper()
	bus := servicebusclient.NewMockServiceBusClient()
	pub := NewPublisher(bus, queue, "photos", nil)
	pub.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return bus, blobclient.WithObservers(blobclient.NewMemoryBlobClient(blobclient.MemorySettings{}), pub.Observer())
}

func drain(t *testing.T, bus *servicebusclient.MockServiceBusClient) []Event {
	t.Helper()
	msgs, err := bus.Receive(context.Background(), queue, 100)
	require.NoError(t, err)

	events := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		assert.Equal(t, "application/json", m.ContentType)
		var ev Event
		require.NoError(t, json.Unmarshal(m.Body, &ev))
		assert.Equal(t, ev.ID, m.ID)
		assert.Equal(t, ev.Type, m.Properties["event_type"])
		events = append(events, ev)
	}
	return events
}

func TestMutationsPublishEvents(t *testing.T) {
	ctx := context.Background()
	bus, client := setup(t)

	require.NoError(t, client.Write(ctx, "a.txt", "text/plain", []byte("a")))
	require.NoError(t, client.Delete(ctx, "a.txt"))
	require.NoError(t, client.Write(ctx, "b.txt", "text/plain", []byte("bb")))
	_, err := client.Empty(ctx)
	require.NoError(t, err)

	events := drain(t, bus)
	require.Len(t, events, 4)

	assert.Equal(t, TypeBlobWritten, events[0].Type)
	assert.Equal(t, "a.txt", events[0].Key)
	assert.Equal(t, "photos", events[0].Container)
	assert.Equal(t, int64(1), events[0].Count)

	assert.Equal(t, TypeBlobDeleted, events[1].Type)
	assert.Equal(t, TypeBlobWritten, events[2].Type)

	assert.Equal(t, TypeContainerEmptied, events[3].Type)
	assert.Equal(t, []string{"b.txt"}, events[3].Keys)
	assert.Equal(t, int64(1), events[3].Count)
}

func TestReadsAndFailuresPublishNothing(t *testing.T) {
	ctx := context.Background()
	bus, client := setup(t)

	_, err := client.Get(ctx, "missing")
	require.Error(t, err)
	_, err = client.Exists(ctx, "missing")
	require.NoError(t, err)
	require.Error(t, client.Write(ctx, "", "text/plain", []byte("x")))

	assert.Equal(t, 0, bus.Len(queue))
}

func TestPartialWriteManyPublishesCommittedPrefix(t *testing.T) {
	ctx := context.Background()
	bus := servicebusclient.NewMockServiceBusClient()
	pub := NewPublisher(bus, queue, "photos", nil)

	failing := &failOnKey{BlobClient: blobclient.NewMemoryBlobClient(blobclient.MemorySettings{}), key: "c"}
	client := blobclient.WithObservers(failing, pub.Observer())

	err := client.WriteMany(ctx, []blobclient.WriteRequest{
		{Key: "a", ContentType: "text/plain", Payload: blobclient.Bytes("1")},
		{Key: "b", ContentType: "text/plain", Payload: blobclient.Bytes("2")},
		{Key: "c", ContentType: "text/plain", Payload: blobclient.Bytes("3")},
		{Key: "d", ContentType: "text/plain", Payload: blobclient.Bytes("4")},
	})
	var batchErr *blobclient.BatchError
	require.ErrorAs(t, err, &batchErr)

	events := drain(t, bus)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"a", "b"}, events[0].Keys)
	assert.Equal(t, int64(2), events[0].Count)
}

func TestPublishFailureIsNotReturned(t *testing.T) {
	bus := servicebusclient.NewMockServiceBusClient()
	bus.Err = assert.AnError
	pub := NewPublisher(bus, queue, "photos", nil)
	client := blobclient.WithObservers(blobclient.NewMemoryBlobClient(blobclient.MemorySettings{}), pub.Observer())

	assert.NoError(t, client.Write(context.Background(), "a", "text/plain", []byte("x")))
}

// failOnKey fails single writes of one key so WriteMany stops part way.
type failOnKey struct {
	blobclient.BlobClient
	key string
}

func (f *failOnKey) Write(ctx context.Context, key, contentType string, data []byte) error {
	if key == f.key {
		return assert.AnError
	}
	return f.BlobClient.Write(ctx, key, contentType, data)
}

func (f *failOnKey) WriteMany(ctx context.Context, requests []blobclient.WriteRequest) error {
	return blobclient.WriteBatch(ctx, f, requests)
}
