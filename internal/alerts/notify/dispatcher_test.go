package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "homewatch-cloud/internal/alerts/domain"
)

type stubResolver struct {
	recipients []alerts.Recipient
	err        error
}

func (r *stubResolver) ResolveRecipients(_ context.Context, _, _ string) ([]alerts.Recipient, error) {
	return r.recipients, r.err
}

type recordingHistory struct {
	mu      sync.Mutex
	entries []*alerts.HistoryEntry
	err     error
}

func (h *recordingHistory) Append(_ context.Context, entry *alerts.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	return h.err
}

func (h *recordingHistory) all() []*alerts.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*alerts.HistoryEntry(nil), h.entries...)
}

type fakeChannel struct {
	name      string
	address   func(alerts.Recipient) (string, bool)
	sendErr   error
	simulated bool

	mu    sync.Mutex
	sends []string
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Address(recipient alerts.Recipient) (string, bool) {
	return c.address(recipient)
}

func (c *fakeChannel) Send(_ context.Context, address, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, address)
	return c.sendErr
}

func (c *fakeChannel) Simulated() bool { return c.simulated }

func emailFake() *fakeChannel {
	return &fakeChannel{
		name:      ChannelEmail,
		simulated: true,
		address: func(r alerts.Recipient) (string, bool) {
			return r.Email, r.Email != ""
		},
	}
}

func smsFake() *fakeChannel {
	return &fakeChannel{
		name:      ChannelSMS,
		simulated: true,
		address: func(r alerts.Recipient) (string, bool) {
			return r.Phone, r.Phone != ""
		},
	}
}

func pushFake() *fakeChannel {
	return &fakeChannel{
		name:      ChannelPush,
		simulated: true,
		address: func(r alerts.Recipient) (string, bool) {
			return r.PushToken, r.PushToken != ""
		},
	}
}

func testAlert(severity string) alerts.Alert {
	return alerts.Alert{
		ID:         "alert-1",
		TenantID:   "tenant-1",
		HouseID:    "house-1",
		DeviceID:   "dev-1",
		Type:       alerts.TypeSmokeAlarm,
		Severity:   severity,
		Score:      0.97,
		OccurredAt: time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC),
	}
}

func TestDispatchCriticalFansOutToAllChannels(t *testing.T) {
	resolver := &stubResolver{recipients: []alerts.Recipient{
		{ID: "c1", Email: "a@example.com", Phone: "+111", PushToken: "tok-1"},
		{ID: "c2", Email: "b@example.com"},
	}}
	history := &recordingHistory{}
	email, sms, push := emailFake(), smsFake(), pushFake()

	dispatcher, err := NewDispatcher(resolver, history, []Channel{email, sms, push})
	require.NoError(t, err)

	dispatcher.Dispatch(context.Background(), testAlert(alerts.SeverityCritical))

	assert.Equal(t, []string{"a@example.com", "b@example.com"}, email.sends)
	assert.Equal(t, []string{"+111"}, sms.sends)
	assert.Equal(t, []string{"tok-1"}, push.sends)

	// c2 has no phone or push token, so only 4 attempts in total.
	entries := history.all()
	require.Len(t, entries, 4)
	for _, entry := range entries {
		assert.Equal(t, alerts.ActionNotify, entry.Action)
		assert.Equal(t, "alert-1", entry.AlertID)
		assert.Equal(t, true, entry.Meta[alerts.MetaDelivered])
		assert.Equal(t, true, entry.Meta[alerts.MetaSimulated])
	}
}

func TestDispatchLowSeverityUsesEmailOnly(t *testing.T) {
	resolver := &stubResolver{recipients: []alerts.Recipient{
		{ID: "c1", Email: "a@example.com", Phone: "+111", PushToken: "tok-1"},
	}}
	history := &recordingHistory{}
	email, sms, push := emailFake(), smsFake(), pushFake()

	dispatcher, err := NewDispatcher(resolver, history, []Channel{email, sms, push})
	require.NoError(t, err)

	dispatcher.Dispatch(context.Background(), testAlert(alerts.SeverityLow))

	assert.Len(t, email.sends, 1)
	assert.Empty(t, sms.sends)
	assert.Empty(t, push.sends)
}

func TestDispatchRecordsSendFailure(t *testing.T) {
	resolver := &stubResolver{recipients: []alerts.Recipient{
		{ID: "c1", Email: "a@example.com"},
	}}
	history := &recordingHistory{}
	email := emailFake()
	email.sendErr = errors.New("smtp refused")

	dispatcher, err := NewDispatcher(resolver, history, []Channel{email})
	require.NoError(t, err)

	dispatcher.Dispatch(context.Background(), testAlert(alerts.SeverityLow))

	entries := history.all()
	require.Len(t, entries, 1)
	assert.Equal(t, false, entries[0].Meta[alerts.MetaDelivered])
	assert.Equal(t, "smtp refused", entries[0].Meta[alerts.MetaError])
}

func TestDispatchResolverFailureStillPostsWebhook(t *testing.T) {
	resolver := &stubResolver{err: errors.New("db down")}
	history := &recordingHistory{}
	webhook := &fakeChannel{
		name: ChannelWebhook,
		address: func(alerts.Recipient) (string, bool) {
			return "https://hooks.example.com/alerts", true
		},
	}

	dispatcher, err := NewDispatcher(resolver, history, []Channel{emailFake()}, WithWebhook(webhook))
	require.NoError(t, err)

	dispatcher.Dispatch(context.Background(), testAlert(alerts.SeverityCritical))

	assert.Len(t, webhook.sends, 1)
	entries := history.all()
	require.Len(t, entries, 1)
	assert.Equal(t, ChannelWebhook, entries[0].Meta[alerts.MetaChannel])
}

func TestNotifyNewDropsWhenQueueFull(t *testing.T) {
	resolver := &stubResolver{}
	history := &recordingHistory{}

	dispatcher, err := NewDispatcher(resolver, history, nil, WithQueueSize(1))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		dispatcher.NotifyNew(testAlert(alerts.SeverityLow))
		dispatcher.NotifyNew(testAlert(alerts.SeverityLow))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyNew blocked on full queue")
	}
	assert.Len(t, dispatcher.queue, 1)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	resolver := &stubResolver{recipients: []alerts.Recipient{{ID: "c1", Email: "a@example.com"}}}
	history := &recordingHistory{}
	email := emailFake()

	dispatcher, err := NewDispatcher(resolver, history, []Channel{email})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(stopped)
	}()

	dispatcher.NotifyNew(testAlert(alerts.SeverityLow))
	require.Eventually(t, func() bool {
		email.mu.Lock()
		defer email.mu.Unlock()
		return len(email.sends) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
