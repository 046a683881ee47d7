package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/yourorg/go-blob-kit/pkg/logging"
	"github.com/yourorg/go-blob-kit/pkg/utils"
)

const (
	defaultSlackChannel = "#alerts"
	alertAttempts       = 3
)

// SlackClient handles Slack webhook notifications with rate limiting.
type SlackClient struct {
	webhookURL  string
	serviceName string
	channel     string
	logger      logging.Logger
	enabled     bool
	client      *http.Client
	limiter     *rate.Limiter
}

// SlackConfig holds Slack configuration.
type SlackConfig struct {
	WebhookURL  string
	ServiceName string // Name of the service (e.g., "blob_gateway")
	Channel     string
	Enabled     bool
	// MinInterval is the minimum time between two messages. Defaults to one second.
	MinInterval time.Duration
}

// SlackMessage represents a Slack webhook message.
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment.
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment.
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackClient creates a new Slack client.
func NewSlackClient(cfg SlackConfig, logger logging.Logger) *SlackClient {
	if !cfg.Enabled || cfg.WebhookURL == "" {
		logger.Info("Slack notifications disabled or webhook URL not provided")
		return &SlackClient{
			enabled: false,
			logger:  logger,
		}
	}

	interval := cfg.MinInterval
	if interval <= 0 {
		interval = time.Second
	}
	channel := cfg.Channel
	if channel == "" {
		channel = defaultSlackChannel
	}

	return &SlackClient{
		webhookURL:  cfg.WebhookURL,
		serviceName: cfg.ServiceName,
		channel:     channel,
		logger:      logger,
		enabled:     true,
		client:      &http.Client{Timeout: 10 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
	}
}

// SendMessage posts a message to the webhook, waiting for the rate limiter first.
func (s *SlackClient) SendMessage(ctx context.Context, msg SlackMessage) error {
	if !s.enabled {
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("slack rate limit: %w", err)
	}

	if msg.Channel == "" {
		msg.Channel = s.channel
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *SlackClient) alert(ctx context.Context, color, title, text string, fields []SlackField) error {
	return s.RetrySendMessage(ctx, SlackMessage{
		Text: title,
		Attachments: []SlackAttachment{{
			Color:     color,
			Title:     title,
			Text:      text,
			Fields:    fields,
			Timestamp: time.Now().Unix(),
		}},
	}, alertAttempts)
}

// SendSlowRequestAlert sends a slow request alert to Slack.
func (s *SlackClient) SendSlowRequestAlert(ctx context.Context, path string, durationMs int64, traceID, requestID string) error {
	if !s.enabled {
		return nil
	}

	return s.alert(ctx, "warning",
		fmt.Sprintf("Slow Request Detected - %s", s.serviceName),
		fmt.Sprintf("A slow request was detected in %s", s.serviceName),
		[]SlackField{
			{Title: "Path", Value: path, Short: true},
			{Title: "Service", Value: s.serviceName, Short: true},
			{Title: "Duration", Value: fmt.Sprintf("%d ms", durationMs), Short: true},
			{Title: "Trace ID", Value: traceID, Short: true},
			{Title: "Request ID", Value: requestID, Short: true},
		})
}

// SendErrorAlert sends an error alert to Slack.
func (s *SlackClient) SendErrorAlert(ctx context.Context, path, errorMsg string, statusCode int, traceID, requestID string) error {
	if !s.enabled {
		return nil
	}

	return s.alert(ctx, "danger",
		fmt.Sprintf("Error - %s", s.serviceName),
		fmt.Sprintf("An error occurred in %s", s.serviceName),
		[]SlackField{
			{Title: "Path", Value: path, Short: true},
			{Title: "Service", Value: s.serviceName, Short: true},
			{Title: "Error", Value: errorMsg, Short: false},
			{Title: "Status Code", Value: fmt.Sprintf("%d", statusCode), Short: true},
			{Title: "Trace ID", Value: traceID, Short: true},
			{Title: "Request ID", Value: requestID, Short: true},
		})
}

// RetrySendMessage sends a message with retry logic.
func (s *SlackClient) RetrySendMessage(ctx context.Context, msg SlackMessage, maxAttempts int) error {
	if !s.enabled {
		return nil
	}

	config := utils.DefaultRetryConfig()
	config.MaxAttempts = maxAttempts

	return utils.Retry(ctx, config, func() error {
		return s.SendMessage(ctx, msg)
	})
}
