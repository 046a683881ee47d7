package servicebusclient

import (
	"context"
	"time"
)

// ServiceBusClient defines the publishing side of Service Bus used for blob change notifications.
type ServiceBusClient interface {
	// Send sends a message to a queue or topic.
	Send(ctx context.Context, queueOrTopicName string, body []byte, opts ...SendOption) (messageID string, err error)

	// SendBatch sends multiple messages to a queue or topic.
	// Messages that do not fit in one broker batch are split across several.
	SendBatch(ctx context.Context, queueOrTopicName string, messages [][]byte, opts ...SendOption) error

	// Close releases any senders and connections held by the client.
	Close(ctx context.Context) error
}

// Message represents a Service Bus message.
type Message struct {
	ID          string
	Body        []byte
	ContentType string
	Properties  map[string]interface{}
	EnqueuedAt  time.Time
}

// SendOption represents optional parameters for send operations.
type SendOption func(*SendOptions)

// SendOptions contains options for send operations.
type SendOptions struct {
	ContentType string
	Properties  map[string]interface{}
	MessageID   string
}

func newSendOptions(opts []SendOption) *SendOptions {
	sendOptions := &SendOptions{}
	for _, opt := range opts {
		opt(sendOptions)
	}
	return sendOptions
}

// WithContentType sets the content type for a message.
func WithContentType(contentType string) SendOption {
	return func(opts *SendOptions) {
		opts.ContentType = contentType
	}
}

// WithProperties sets custom properties for a message.
func WithProperties(properties map[string]interface{}) SendOption {
	return func(opts *SendOptions) {
		opts.Properties = properties
	}
}

// WithMessageID sets a custom message ID.
func WithMessageID(messageID string) SendOption {
	return func(opts *SendOptions) {
		opts.MessageID = messageID
	}
}
