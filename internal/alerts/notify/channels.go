package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	alerts "homewatch-cloud/internal/alerts/domain"
)

// Channel names used in history metadata and metrics.
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelPush    = "push"
	ChannelWebhook = "webhook"
)

// Channel delivers rendered content to one recipient address.
type Channel interface {
	Name() string
	// Address extracts this channel's contact field from the recipient.
	// ok=false means the recipient cannot be reached on this channel and
	// the attempt is silently skipped.
	Address(recipient alerts.Recipient) (string, bool)
	Send(ctx context.Context, address, content string) error
	// Simulated reports whether Send only pretends to deliver.
	Simulated() bool
}

// channelsBySeverity selects which channels a severity fans out to.
func channelsBySeverity(severity string) []string {
	switch severity {
	case alerts.SeverityCritical:
		return []string{ChannelEmail, ChannelSMS, ChannelPush}
	case alerts.SeverityHigh:
		return []string{ChannelEmail, ChannelPush}
	default:
		return []string{ChannelEmail}
	}
}

// SimulatedChannel logs a send instead of performing one. It stands in for
// the real email/SMS/push providers in every non-production environment.
type SimulatedChannel struct {
	name    string
	address func(alerts.Recipient) (string, bool)
	logger  *zap.Logger
}

// NewSimulatedEmailChannel constructs a pretend email sender.
func NewSimulatedEmailChannel(logger *zap.Logger) *SimulatedChannel {
	return newSimulatedChannel(ChannelEmail, logger, func(recipient alerts.Recipient) (string, bool) {
		return recipient.Email, recipient.Email != ""
	})
}

// NewSimulatedSMSChannel constructs a pretend SMS sender.
func NewSimulatedSMSChannel(logger *zap.Logger) *SimulatedChannel {
	return newSimulatedChannel(ChannelSMS, logger, func(recipient alerts.Recipient) (string, bool) {
		return recipient.Phone, recipient.Phone != ""
	})
}

// NewSimulatedPushChannel constructs a pretend push sender.
func NewSimulatedPushChannel(logger *zap.Logger) *SimulatedChannel {
	return newSimulatedChannel(ChannelPush, logger, func(recipient alerts.Recipient) (string, bool) {
		return recipient.PushToken, recipient.PushToken != ""
	})
}

func newSimulatedChannel(name string, logger *zap.Logger, address func(alerts.Recipient) (string, bool)) *SimulatedChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedChannel{name: name, address: address, logger: logger}
}

// Name implements Channel.
func (c *SimulatedChannel) Name() string { return c.name }

// Address implements Channel.
func (c *SimulatedChannel) Address(recipient alerts.Recipient) (string, bool) {
	return c.address(recipient)
}

// Send logs the would-be delivery.
func (c *SimulatedChannel) Send(ctx context.Context, address, content string) error {
	_ = ctx
	c.logger.Info("simulated notification",
		zap.String("channel", c.name),
		zap.String("address", address),
		zap.Int("content_bytes", len(content)))
	return nil
}

// Simulated implements Channel.
func (c *SimulatedChannel) Simulated() bool { return true }

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookChannel posts notifications to a configured webhook endpoint. It is
// recipient-independent: one post per alert.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Name implements Channel.
func (w *WebhookChannel) Name() string { return ChannelWebhook }

// Address implements Channel. The webhook endpoint is its own address.
func (w *WebhookChannel) Address(alerts.Recipient) (string, bool) {
	return w.url, w.url != ""
}

// Send posts the content as a text payload.
func (w *WebhookChannel) Send(ctx context.Context, _ string, content string) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	payload := webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: content},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}

// Simulated implements Channel.
func (w *WebhookChannel) Simulated() bool { return false }
