package servicebusclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockServiceBusClient is an in-memory implementation of ServiceBusClient for testing.
type MockServiceBusClient struct {
	queues map[string][]Message // queueName -> messages
	mu     sync.RWMutex

	// Err, when set, is returned by every send.
	Err error
}

// NewMockServiceBusClient creates a new mock Service Bus client.
func NewMockServiceBusClient() *MockServiceBusClient {
	return &MockServiceBusClient{
		queues: make(map[string][]Message),
	}
}

var _ ServiceBusClient = (*MockServiceBusClient)(nil)

// Send appends a message to the mock queue.
func (m *MockServiceBusClient) Send(ctx context.Context, queueOrTopicName string, body []byte, opts ...SendOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}

	sendOptions := newSendOptions(opts)
	messageID := sendOptions.MessageID
	if messageID == "" {
		messageID = uuid.New().String()
	}

	m.queues[queueOrTopicName] = append(m.queues[queueOrTopicName], Message{
		ID:          messageID,
		Body:        body,
		ContentType: sendOptions.ContentType,
		Properties:  sendOptions.Properties,
		EnqueuedAt:  time.Now().UTC(),
	})

	return messageID, nil
}

// SendBatch sends multiple messages in a batch.
func (m *MockServiceBusClient) SendBatch(ctx context.Context, queueOrTopicName string, messages [][]byte, opts ...SendOption) error {
	opts = append(opts, WithMessageID(""))
	for _, body := range messages {
		if _, err := m.Send(ctx, queueOrTopicName, body, opts...); err != nil {
			return err
		}
	}
	return nil
}

// Receive removes and returns up to maxMessages from the mock queue.
func (m *MockServiceBusClient) Receive(ctx context.Context, queueOrSubscription string, maxMessages int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[queueOrSubscription]
	count := min(maxMessages, len(queue))

	messages := append([]Message(nil), queue[:count]...)
	m.queues[queueOrSubscription] = queue[count:]

	return messages, nil
}

// Len reports how many messages are waiting in a queue.
func (m *MockServiceBusClient) Len(queueOrSubscription string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queues[queueOrSubscription])
}

// Close is a no-op for the mock.
func (m *MockServiceBusClient) Close(ctx context.Context) error {
	return nil
}
