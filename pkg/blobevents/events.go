// Package blobevents publishes blob change notifications to Azure Service Bus.
package blobevents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/logging"
	"github.com/yourorg/go-blob-kit/pkg/servicebusclient"
)

// Event types.
const (
	TypeBlobWritten      = "blob.written"
	TypeBlobDeleted      = "blob.deleted"
	TypeContainerEmptied = "container.emptied"
)

// Event is the JSON body of a change notification.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Container  string    `json:"container"`
	Key        string    `json:"key,omitempty"`
	Keys       []string  `json:"keys,omitempty"`
	Count      int64     `json:"count"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher sends events for one container to a queue or topic.
type Publisher struct {
	bus       servicebusclient.ServiceBusClient
	queue     string
	container string
	logger    logging.Logger
	now       func() time.Time
}

// NewPublisher creates a publisher for container writing to queue.
func NewPublisher(bus servicebusclient.ServiceBusClient, queue, container string, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Publisher{
		bus:       bus,
		queue:     queue,
		container: container,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Observer returns a blobclient.Observer that publishes an event after each
// successful mutation. For a partially applied WriteMany only the committed
// keys are reported. Publish failures are logged and never reach the caller.
func (p *Publisher) Observer() blobclient.Observer {
	return func(ctx context.Context, call *blobclient.Call) (context.Context, func(error)) {
		if !call.Operation.IsMutation() {
			return ctx, nil
		}
		return ctx, func(error) {
			if ev, ok := p.eventFor(call); ok {
				p.Publish(context.WithoutCancel(ctx), ev)
			}
		}
	}
}

func (p *Publisher) eventFor(call *blobclient.Call) (Event, bool) {
	if len(call.Committed) == 0 && call.Operation != blobclient.OpEmpty {
		return Event{}, false
	}

	ev := Event{
		ID:         uuid.New().String(),
		Container:  p.container,
		OccurredAt: p.now(),
		Count:      int64(len(call.Committed)),
	}

	switch call.Operation {
	case blobclient.OpWrite, blobclient.OpWriteStream:
		ev.Type = TypeBlobWritten
		ev.Key = call.Key
	case blobclient.OpWriteMany:
		ev.Type = TypeBlobWritten
		ev.Keys = call.Committed
	case blobclient.OpDelete:
		ev.Type = TypeBlobDeleted
		ev.Key = call.Key
	case blobclient.OpEmpty:
		if call.Committed == nil {
			// Empty failed before removing anything.
			return Event{}, false
		}
		ev.Type = TypeContainerEmptied
		ev.Keys = call.Committed
	default:
		return Event{}, false
	}
	return ev, true
}

// Publish sends ev. Errors are logged.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	logger := p.logger.With(
		logging.NewField("operation", "blobevents.publish"),
		logging.NewField("event_type", ev.Type),
		logging.NewField("container", ev.Container),
	)

	body, err := json.Marshal(ev)
	if err != nil {
		logger.ErrorWithContext(ctx, "Failed to encode blob event", logging.NewField("error", err))
		return
	}

	_, err = p.bus.Send(ctx, p.queue, body,
		servicebusclient.WithContentType("application/json"),
		servicebusclient.WithMessageID(ev.ID),
		servicebusclient.WithProperties(map[string]interface{}{
			"event_type": ev.Type,
			"container":  ev.Container,
		}),
	)
	if err != nil {
		logger.ErrorWithContext(ctx, "Failed to publish blob event", logging.NewField("error", err))
		return
	}
	logger.DebugWithContext(ctx, "Published blob event", logging.NewField("count", ev.Count))
}
