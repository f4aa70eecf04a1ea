package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alerts "homewatch-cloud/internal/alerts/domain"
	"homewatch-cloud/internal/auth"
	"homewatch-cloud/internal/observability/metrics"
)

// Broadcast event types emitted on accepted transitions.
const (
	EventAlertNew       = "alert.new"
	EventAlertAcked     = "alert.acked"
	EventAlertEscalated = "alert.escalated"
	EventAlertResolved  = "alert.resolved"
)

// Event is the envelope pushed to realtime observers.
type Event struct {
	Type    string       `json:"type"`
	Payload alerts.Alert `json:"payload"`
}

// Broadcaster fans an event out to live observers. Delivery is best-effort;
// implementations must never block the caller on a slow observer.
type Broadcaster interface {
	Publish(ctx context.Context, event Event)
}

// Notifier is handed every newly accepted alert exactly once. It must return
// immediately; actual delivery happens off the request path.
type Notifier interface {
	NotifyNew(alert alerts.Alert)
}

// AlertStore is the persistent alert collaborator. All mutations are single
// conditional operations so concurrent requests serialize on row atomicity.
type AlertStore interface {
	// CreateUnlessDuplicate inserts the alert unless an open alert with the
	// same (device_id, type) has occurred_at within window of it. On
	// suppression it returns the existing alert id and created=false.
	CreateUnlessDuplicate(ctx context.Context, alert *alerts.Alert, window time.Duration) (existingID string, created bool, err error)
	GetByID(ctx context.Context, id string) (*alerts.Alert, error)
	// MarkAcknowledged applies the ack transition conditioned on priorState.
	// A nil alert with nil error means the condition no longer held.
	MarkAcknowledged(ctx context.Context, id, priorState, actor string, at time.Time) (*alerts.Alert, error)
	MarkEscalated(ctx context.Context, id, priorState string, at time.Time) (*alerts.Alert, error)
	MarkResolved(ctx context.Context, id, priorState, actor string, at time.Time) (*alerts.Alert, error)
	Search(ctx context.Context, query alerts.SearchQuery) ([]alerts.Alert, error)
	ListOpen(ctx context.Context, scope alerts.BulkScope) ([]alerts.Alert, error)
	Stats(ctx context.Context, tenantID string) (*alerts.Stats, error)
}

// HistoryStore appends to and reads the immutable audit trail.
type HistoryStore interface {
	Append(ctx context.Context, entry *alerts.HistoryEntry) error
	ListByAlert(ctx context.Context, alertID string) ([]alerts.HistoryEntry, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service owns the alert lifecycle: ingestion, dedup, classification,
// transitions, history and fan-out.
type Service struct {
	store       AlertStore
	history     HistoryStore
	broadcaster Broadcaster
	notifier    Notifier
	clock       Clock
	location    *time.Location
	logger      *zap.Logger
	tenantID    string
}

// ServiceOption customizes the alert service.
type ServiceOption func(*Service)

// WithBroadcaster assigns the realtime broadcaster.
func WithBroadcaster(broadcaster Broadcaster) ServiceOption {
	return func(s *Service) { s.broadcaster = broadcaster }
}

// WithNotifier assigns the notification dispatcher.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(s *Service) { s.notifier = notifier }
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLocation sets the timezone used for quiet-hours evaluation.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs an alert service.
func NewService(store AlertStore, history HistoryStore, tenantID string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("alerts: nil alert store")
	}
	if history == nil {
		return nil, errors.New("alerts: nil history store")
	}
	if tenantID == "" {
		return nil, errors.New("alerts: empty tenant id")
	}
	service := &Service{
		store:    store,
		history:  history,
		clock:    systemClock{},
		location: time.Local,
		logger:   zap.NewNop(),
		tenantID: tenantID,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// IngestInput is one inbound sensor event.
type IngestInput struct {
	HouseID    string
	DeviceID   string
	Type       string
	Message    string
	Score      float64
	Duration   time.Duration
	Severity   string
	OccurredAt time.Time
}

// IngestResult reports the outcome of an ingestion.
type IngestResult struct {
	AlertID      string
	Deduplicated bool
	Alert        *alerts.Alert
}

// Ingest runs the full acceptance path: validation, dedup, classification,
// creation, history, broadcast and notification hand-off. On suppression the
// caller gets the existing alert id and no side effects occur.
func (s *Service) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if strings.TrimSpace(input.HouseID) == "" {
		return nil, alerts.NewValidation("house_id", "required")
	}
	if strings.TrimSpace(input.DeviceID) == "" {
		return nil, alerts.NewValidation("device_id", "required")
	}
	if strings.TrimSpace(input.Type) == "" {
		return nil, alerts.NewValidation("type", "required")
	}
	if input.Severity != "" && !alerts.ValidSeverity(input.Severity) {
		return nil, alerts.NewValidation("severity", "must be one of low, medium, high, critical")
	}

	now := s.clock.Now().UTC()
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	occurredAt = occurredAt.UTC()
	if occurredAt.After(now) {
		occurredAt = now
	}

	score := clampScore(input.Score)
	inQuiet := alerts.InQuietHours(occurredAt, s.location)

	severity := input.Severity
	severitySource := alerts.SeveritySourceManual
	if severity == "" {
		severity = alerts.Classify(input.Type, score, input.Duration, inQuiet)
		severitySource = alerts.SeveritySourceClassified
	}

	alert := &alerts.Alert{
		ID:         uuid.NewString(),
		TenantID:   s.tenant(ctx),
		HouseID:    input.HouseID,
		DeviceID:   input.DeviceID,
		Type:       input.Type,
		Message:    input.Message,
		Severity:   severity,
		Score:      score,
		State:      alerts.StateNew,
		Status:     alerts.StatusLabel(alerts.StateNew),
		OccurredAt: occurredAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	existingID, created, err := s.store.CreateUnlessDuplicate(ctx, alert, alerts.DedupWindow)
	if err != nil {
		metrics.IncIngest("error")
		return nil, err
	}
	if !created {
		metrics.IncIngest("deduplicated")
		return &IngestResult{AlertID: existingID, Deduplicated: true}, nil
	}
	metrics.IncIngest("accepted")

	entry := &alerts.HistoryEntry{
		ID:      uuid.NewString(),
		AlertID: alert.ID,
		Action:  alerts.ActionCreate,
		Note:    input.Message,
		Meta: map[string]any{
			alerts.MetaSeverity:       alert.Severity,
			alerts.MetaSeveritySource: severitySource,
			alerts.MetaScore:          alert.Score,
			alerts.MetaOccurredAt:     alert.OccurredAt.Format(time.RFC3339Nano),
		},
		TS: now,
	}
	if err := s.history.Append(ctx, entry); err != nil {
		return nil, err
	}

	s.publish(ctx, EventAlertNew, *alert)
	if s.notifier != nil {
		s.notifier.NotifyNew(*alert)
	}
	return &IngestResult{AlertID: alert.ID, Alert: alert}, nil
}

// Acknowledge moves an alert to acked. Allowed from new or escalated.
func (s *Service) Acknowledge(ctx context.Context, id, actor, note string) (*alerts.Alert, error) {
	return s.transition(ctx, id, actor, note, alerts.ActionAck, alerts.AckAllowedFrom, EventAlertAcked,
		func(ctx context.Context, priorState string, at time.Time) (*alerts.Alert, error) {
			return s.store.MarkAcknowledged(ctx, id, priorState, actor, at)
		})
}

// Escalate bumps the escalation level. Allowed from any non-resolved state.
func (s *Service) Escalate(ctx context.Context, id, actor, note string) (*alerts.Alert, error) {
	return s.transition(ctx, id, actor, note, alerts.ActionEscalate, alerts.EscalateAllowedFrom, EventAlertEscalated,
		func(ctx context.Context, priorState string, at time.Time) (*alerts.Alert, error) {
			return s.store.MarkEscalated(ctx, id, priorState, at)
		})
}

// Resolve closes the alert. The note is mandatory and checked before any
// store access.
func (s *Service) Resolve(ctx context.Context, id, actor, note string) (*alerts.Alert, error) {
	if strings.TrimSpace(note) == "" {
		return nil, alerts.NewValidation("note", "required to resolve an alert")
	}
	return s.transition(ctx, id, actor, note, alerts.ActionResolve, alerts.ResolveAllowedFrom, EventAlertResolved,
		func(ctx context.Context, priorState string, at time.Time) (*alerts.Alert, error) {
			return s.store.MarkResolved(ctx, id, priorState, actor, at)
		})
}

type applyFunc func(ctx context.Context, priorState string, at time.Time) (*alerts.Alert, error)

func (s *Service) transition(ctx context.Context, id, actor, note, action string, allowedFrom []string, eventType string, apply applyFunc) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if id == "" {
		return nil, alerts.NewValidation("id", "required")
	}

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, alerts.ErrNotFound
	}
	if tenantID := s.tenant(ctx); tenantID != "" && current.TenantID != tenantID {
		return nil, auth.ErrTenantMismatch
	}
	if !stateAllowed(current.State, allowedFrom) {
		metrics.IncTransition(action, "conflict")
		return nil, alerts.NewConflict(action, current.State)
	}

	// The store write is conditioned on the state just read, so a losing
	// racer updates zero rows instead of double-applying.
	updated, err := apply(ctx, current.State, s.clock.Now().UTC())
	if err != nil {
		metrics.IncTransition(action, "error")
		return nil, err
	}
	if updated == nil {
		reread, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if reread == nil {
			return nil, alerts.ErrNotFound
		}
		metrics.IncTransition(action, "conflict")
		return nil, alerts.NewConflict(action, reread.State)
	}
	metrics.IncTransition(action, "accepted")

	entry := &alerts.HistoryEntry{
		ID:      uuid.NewString(),
		AlertID: id,
		Action:  action,
		Actor:   actor,
		Note:    note,
		Meta:    map[string]any{alerts.MetaPriorState: current.State},
		TS:      updated.UpdatedAt,
	}
	if err := s.history.Append(ctx, entry); err != nil {
		return nil, err
	}

	s.publish(ctx, eventType, *updated)
	return updated, nil
}

// BulkAckResult summarizes a bulk acknowledge pass.
type BulkAckResult struct {
	Acknowledged []string `json:"acknowledged"`
	Skipped      int      `json:"skipped"`
}

// BulkAcknowledge acknowledges every open alert in scope. Each alert is
// handled independently; one failure never blocks the rest.
func (s *Service) BulkAcknowledge(ctx context.Context, scope alerts.BulkScope, actor, note string) (*BulkAckResult, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	scope.TenantID = s.tenant(ctx)
	open, err := s.store.ListOpen(ctx, scope)
	if err != nil {
		return nil, err
	}
	result := &BulkAckResult{Acknowledged: []string{}}
	for _, alert := range open {
		if _, err := s.Acknowledge(ctx, alert.ID, actor, note); err != nil {
			result.Skipped++
			if !alerts.IsConflict(err) && !errors.Is(err, alerts.ErrNotFound) {
				s.logger.Warn("bulk ack skipped alert",
					zap.String("alert_id", alert.ID),
					zap.Error(err))
			}
			continue
		}
		result.Acknowledged = append(result.Acknowledged, alert.ID)
	}
	return result, nil
}

// Get returns an alert with its full history.
func (s *Service) Get(ctx context.Context, id string) (*alerts.Alert, []alerts.HistoryEntry, error) {
	if s == nil {
		return nil, nil, errors.New("alerts: nil service")
	}
	alert, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if alert == nil {
		return nil, nil, alerts.ErrNotFound
	}
	if tenantID := s.tenant(ctx); tenantID != "" && alert.TenantID != tenantID {
		return nil, nil, auth.ErrTenantMismatch
	}
	history, err := s.history.ListByAlert(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return alert, history, nil
}

// Search lists alerts matching the query, tenant-scoped.
func (s *Service) Search(ctx context.Context, query alerts.SearchQuery) ([]alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	query.TenantID = s.tenant(ctx)
	if query.Severity != "" && !alerts.ValidSeverity(query.Severity) {
		return nil, alerts.NewValidation("severity", "unknown severity")
	}
	if query.State != "" {
		query.State = alerts.StateFromStatus(query.State)
		if !alerts.ValidState(query.State) {
			return nil, alerts.NewValidation("state", "unknown state")
		}
	}
	if query.Limit <= 0 {
		query.Limit = 100
	}
	if query.Limit > 500 {
		query.Limit = 500
	}
	return s.store.Search(ctx, query)
}

// Stats aggregates open counts, MTTA/MTTR and distributions.
func (s *Service) Stats(ctx context.Context) (*alerts.Stats, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	return s.store.Stats(ctx, s.tenant(ctx))
}

func (s *Service) publish(ctx context.Context, eventType string, alert alerts.Alert) {
	metrics.IncBroadcast(eventType)
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(ctx, Event{Type: eventType, Payload: alert})
}

func (s *Service) tenant(ctx context.Context) string {
	if tenantID := auth.TenantIDFromContext(ctx); tenantID != "" {
		return tenantID
	}
	return s.tenantID
}

func stateAllowed(state string, allowed []string) bool {
	for _, candidate := range allowed {
		if state == candidate {
			return true
		}
	}
	return false
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// MultiBroadcaster fans one event out to several broadcasters.
type MultiBroadcaster struct {
	broadcasters []Broadcaster
}

// NewMultiBroadcaster constructs a MultiBroadcaster.
func NewMultiBroadcaster(broadcasters ...Broadcaster) *MultiBroadcaster {
	return &MultiBroadcaster{broadcasters: broadcasters}
}

// Publish forwards the event to all broadcasters.
func (m *MultiBroadcaster) Publish(ctx context.Context, event Event) {
	if m == nil {
		return
	}
	for _, broadcaster := range m.broadcasters {
		if broadcaster != nil {
			broadcaster.Publish(ctx, event)
		}
	}
}
