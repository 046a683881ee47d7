package servicebusclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"

	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/logging"
)

// AzureServiceBusClient implements ServiceBusClient using Azure Service Bus.
// Senders are created on first use per queue or topic and reused until Close.
type AzureServiceBusClient struct {
	client *azservicebus.Client
	logger logging.Logger

	mu      sync.Mutex
	senders map[string]*azservicebus.Sender
}

// NewAzureServiceBusClient creates a new Azure Service Bus client.
// namespace: Azure Service Bus namespace name (e.g., "mynamespace")
// keyName: Shared access key name (optional if using managed identity)
// keyValue: Shared access key value (optional if using managed identity)
// useManagedIdentity: if true, uses managed identity instead of shared access key
func NewAzureServiceBusClient(namespace, keyName, keyValue string, useManagedIdentity bool, logger logging.Logger) (*AzureServiceBusClient, error) {
	if namespace == "" {
		return nil, errors.NewInvalidArgumentError("service bus namespace is required")
	}

	var client *azservicebus.Client
	var err error

	if useManagedIdentity || keyName == "" || keyValue == "" {
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, errors.Wrap(errors.ErrorCodeUnauthorized, "failed to create Azure credential", credErr)
		}
		client, err = azservicebus.NewClient(fmt.Sprintf("%s.servicebus.windows.net", namespace), cred, nil)
	} else {
		connStr := fmt.Sprintf("Endpoint=sb://%s.servicebus.windows.net/;SharedAccessKeyName=%s;SharedAccessKey=%s",
			namespace, keyName, keyValue)
		client, err = azservicebus.NewClientFromConnectionString(connStr, nil)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrorCodeInvalidArgument, "failed to create Service Bus client", err)
	}

	return &AzureServiceBusClient{
		client:  client,
		logger:  logger,
		senders: make(map[string]*azservicebus.Sender),
	}, nil
}

func (a *AzureServiceBusClient) sender(name string) (*azservicebus.Sender, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.senders[name]; ok {
		return s, nil
	}
	s, err := a.client.NewSender(name, nil)
	if err != nil {
		return nil, err
	}
	a.senders[name] = s
	return s, nil
}

func newMessage(body []byte, opts *SendOptions) *azservicebus.Message {
	msg := &azservicebus.Message{Body: body}

	if opts.ContentType != "" {
		contentType := opts.ContentType
		msg.ContentType = &contentType
	}

	messageID := opts.MessageID
	if messageID == "" {
		messageID = uuid.New().String()
	}
	msg.MessageID = &messageID

	if opts.Properties != nil {
		msg.ApplicationProperties = make(map[string]interface{}, len(opts.Properties))
		for k, v := range opts.Properties {
			msg.ApplicationProperties[k] = v
		}
	}
	return msg
}

// Send sends a message to a queue or topic.
func (a *AzureServiceBusClient) Send(ctx context.Context, queueOrTopicName string, body []byte, opts ...SendOption) (string, error) {
	logger := a.logger.With(
		logging.NewField("operation", "servicebus.send"),
		logging.NewField("queue", queueOrTopicName),
	)

	sender, err := a.sender(queueOrTopicName)
	if err != nil {
		logger.Error("Failed to create sender", logging.NewField("error", err))
		return "", fmt.Errorf("failed to create sender: %w", err)
	}

	msg := newMessage(body, newSendOptions(opts))
	if err := sender.SendMessage(ctx, msg, nil); err != nil {
		logger.Error("Failed to send message", logging.NewField("error", err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	logger.Debug("Message sent", logging.NewField("messageID", *msg.MessageID))
	return *msg.MessageID, nil
}

// SendBatch sends multiple messages, packing them into as few broker batches as fit.
func (a *AzureServiceBusClient) SendBatch(ctx context.Context, queueOrTopicName string, messages [][]byte, opts ...SendOption) error {
	if len(messages) == 0 {
		return nil
	}

	logger := a.logger.With(
		logging.NewField("operation", "servicebus.sendbatch"),
		logging.NewField("queue", queueOrTopicName),
		logging.NewField("count", len(messages)),
	)

	sender, err := a.sender(queueOrTopicName)
	if err != nil {
		logger.Error("Failed to create sender", logging.NewField("error", err))
		return fmt.Errorf("failed to create sender: %w", err)
	}

	sendOptions := newSendOptions(opts)
	// A fixed message ID would make the broker deduplicate the whole batch.
	sendOptions.MessageID = ""

	batch, err := sender.NewMessageBatch(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to create message batch: %w", err)
	}

	for i, body := range messages {
		msg := newMessage(body, sendOptions)
		err := batch.AddMessage(msg, nil)
		if stderrors.Is(err, azservicebus.ErrMessageTooLarge) && batch.NumMessages() > 0 {
			if err := sender.SendMessageBatch(ctx, batch, nil); err != nil {
				logger.Error("Failed to send message batch", logging.NewField("error", err))
				return fmt.Errorf("failed to send message batch: %w", err)
			}
			if batch, err = sender.NewMessageBatch(ctx, nil); err != nil {
				return fmt.Errorf("failed to create message batch: %w", err)
			}
			err = batch.AddMessage(msg, nil)
		}
		if err != nil {
			logger.Error("Failed to add message to batch", logging.NewField("error", err), logging.NewField("index", i))
			return fmt.Errorf("failed to add message %d to batch: %w", i, err)
		}
	}

	if batch.NumMessages() > 0 {
		if err := sender.SendMessageBatch(ctx, batch, nil); err != nil {
			logger.Error("Failed to send message batch", logging.NewField("error", err))
			return fmt.Errorf("failed to send message batch: %w", err)
		}
	}

	logger.Debug("Batch sent")
	return nil
}

// Close closes every cached sender and the underlying client.
func (a *AzureServiceBusClient) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for name, s := range a.senders {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sender %s: %w", name, err))
		}
		delete(a.senders, name)
	}
	if err := a.client.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}
