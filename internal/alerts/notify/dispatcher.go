package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alerts "homewatch-cloud/internal/alerts/domain"
	"homewatch-cloud/internal/observability/metrics"
)

// RecipientResolver looks up who should be notified for a house.
type RecipientResolver interface {
	ResolveRecipients(ctx context.Context, tenantID, houseID string) ([]alerts.Recipient, error)
}

// HistoryAppender records notification attempts in the alert audit trail.
type HistoryAppender interface {
	Append(ctx context.Context, entry *alerts.HistoryEntry) error
}

// Dispatcher fans a newly accepted alert out to notification channels.
// NotifyNew only enqueues; delivery happens on the Run goroutine so a hung
// provider can never block ingestion. Every attempt, including skips-turned-
// failures and simulated sends, lands in the history ledger.
type Dispatcher struct {
	resolver    RecipientResolver
	history     HistoryAppender
	channels    map[string]Channel
	webhook     Channel
	template    *Template
	logger      *zap.Logger
	queue       chan alerts.Alert
	sendTimeout time.Duration
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithWebhook adds a per-alert webhook channel.
func WithWebhook(channel Channel) Option {
	return func(d *Dispatcher) { d.webhook = channel }
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithQueueSize bounds the pending-alert queue.
func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan alerts.Alert, size)
		}
	}
}

// WithSendTimeout bounds each channel send.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithTemplate overrides the notification template.
func WithTemplate(template *Template) Option {
	return func(d *Dispatcher) {
		if template != nil {
			d.template = template
		}
	}
}

// NewDispatcher constructs a dispatcher over the given per-recipient channels.
func NewDispatcher(resolver RecipientResolver, history HistoryAppender, channels []Channel, opts ...Option) (*Dispatcher, error) {
	if resolver == nil {
		return nil, errors.New("dispatcher: nil recipient resolver")
	}
	if history == nil {
		return nil, errors.New("dispatcher: nil history appender")
	}
	template, err := NewTemplate("")
	if err != nil {
		return nil, err
	}
	dispatcher := &Dispatcher{
		resolver:    resolver,
		history:     history,
		channels:    make(map[string]Channel, len(channels)),
		template:    template,
		logger:      zap.NewNop(),
		queue:       make(chan alerts.Alert, 64),
		sendTimeout: 5 * time.Second,
	}
	for _, channel := range channels {
		if channel != nil {
			dispatcher.channels[channel.Name()] = channel
		}
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher, nil
}

// NotifyNew enqueues one newly accepted alert; it never blocks. When the
// queue is full the alert's notifications are dropped and logged.
func (d *Dispatcher) NotifyNew(alert alerts.Alert) {
	if d == nil {
		return
	}
	select {
	case d.queue <- alert:
	default:
		metrics.IncNotification("queue", "dropped")
		d.logger.Warn("notification queue full, dropping alert",
			zap.String("alert_id", alert.ID))
	}
}

// Run consumes the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	if d == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-d.queue:
			d.Dispatch(ctx, alert)
		}
	}
}

// Dispatch resolves recipients and attempts every applicable channel send.
// Failures are recorded and swallowed; they never propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, alert alerts.Alert) {
	if d == nil {
		return
	}
	content, err := d.template.Render(templateData(alert))
	if err != nil {
		d.logger.Error("render notification", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}

	recipients, err := d.resolver.ResolveRecipients(ctx, alert.TenantID, alert.HouseID)
	if err != nil {
		d.logger.Error("resolve recipients",
			zap.String("alert_id", alert.ID),
			zap.String("house_id", alert.HouseID),
			zap.Error(err))
		recipients = nil
	}

	for _, name := range channelsBySeverity(alert.Severity) {
		channel, ok := d.channels[name]
		if !ok {
			continue
		}
		for _, recipient := range recipients {
			address, ok := channel.Address(recipient)
			if !ok {
				continue
			}
			d.attempt(ctx, alert, channel, recipient.ID, address, content)
		}
	}

	if d.webhook != nil {
		if address, ok := d.webhook.Address(alerts.Recipient{}); ok {
			d.attempt(ctx, alert, d.webhook, ChannelWebhook, address, content)
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, alert alerts.Alert, channel Channel, recipientID, address, content string) {
	sendCtx := ctx
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}

	sendErr := channel.Send(sendCtx, address, content)
	outcome := "delivered"
	if sendErr != nil {
		outcome = "failed"
	} else if channel.Simulated() {
		outcome = "simulated"
	}
	metrics.IncNotification(channel.Name(), outcome)

	meta := map[string]any{
		alerts.MetaChannel:   channel.Name(),
		alerts.MetaRecipient: recipientID,
		alerts.MetaDelivered: sendErr == nil,
		alerts.MetaSimulated: channel.Simulated(),
	}
	if sendErr != nil {
		meta[alerts.MetaError] = sendErr.Error()
		d.logger.Warn("notification send failed",
			zap.String("alert_id", alert.ID),
			zap.String("channel", channel.Name()),
			zap.Error(sendErr))
	}

	entry := &alerts.HistoryEntry{
		ID:      uuid.NewString(),
		AlertID: alert.ID,
		Action:  alerts.ActionNotify,
		Note:    fmt.Sprintf("%s notification %s", channel.Name(), outcome),
		Meta:    meta,
		TS:      time.Now().UTC(),
	}
	if err := d.history.Append(ctx, entry); err != nil {
		d.logger.Error("record notification attempt",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
}

func templateData(alert alerts.Alert) TemplateData {
	return TemplateData{
		HouseID:       alert.HouseID,
		DeviceID:      alert.DeviceID,
		Type:          alert.Type,
		Severity:      alert.Severity,
		SeverityLabel: strings.ToUpper(alert.Severity),
		Score:         fmt.Sprintf("%.2f", alert.Score),
		OccurredAt:    alert.OccurredAt.UTC().Format(time.RFC3339),
		Message:       alert.Message,
		Suggestion:    suggestionFor(alert.Severity),
	}
}

func suggestionFor(severity string) string {
	switch severity {
	case alerts.SeverityCritical, alerts.SeverityHigh:
		return "Check on the resident immediately."
	case alerts.SeverityMedium:
		return "Verify the situation and take action if needed."
	default:
		return "Monitor the situation."
	}
}
