package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	alerts "homewatch-cloud/internal/alerts/domain"
)

// AlertRepository is an in-memory alert store for demo/testing. It mirrors
// the conditional semantics of the Postgres repository, including the
// state-conditioned transition writes.
type AlertRepository struct {
	mu   sync.RWMutex
	data map[string]*alerts.Alert
}

// NewAlertRepository constructs a repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{data: make(map[string]*alerts.Alert)}
}

// CreateUnlessDuplicate inserts unless an open (device, type) duplicate
// exists within the window.
func (r *AlertRepository) CreateUnlessDuplicate(ctx context.Context, alert *alerts.Alert, window time.Duration) (string, bool, error) {
	_ = ctx
	if alert == nil {
		return "", false, errors.New("memory alert repo: nil alert")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.data {
		if existing.TenantID != alert.TenantID || existing.DeviceID != alert.DeviceID || existing.Type != alert.Type {
			continue
		}
		if !existing.Open() {
			continue
		}
		gap := alert.OccurredAt.Sub(existing.OccurredAt)
		if gap < 0 {
			gap = -gap
		}
		if gap < window {
			return existing.ID, false, nil
		}
	}

	clone := *alert
	r.data[alert.ID] = &clone
	return alert.ID, true, nil
}

// GetByID fetches an alert, nil when absent.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	existing, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	clone := *existing
	return &clone, nil
}

// MarkAcknowledged applies ack when the stored state still matches priorState.
func (r *AlertRepository) MarkAcknowledged(ctx context.Context, id, priorState, actor string, at time.Time) (*alerts.Alert, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[id]
	if !ok || existing.State != priorState {
		return nil, nil
	}
	existing.State = alerts.StateAcked
	existing.Status = alerts.StatusLabel(alerts.StateAcked)
	if existing.AcknowledgedBy == "" {
		existing.AcknowledgedBy = actor
	}
	if existing.AcknowledgedAt.IsZero() {
		existing.AcknowledgedAt = at
	}
	existing.UpdatedAt = at
	clone := *existing
	return &clone, nil
}

// MarkEscalated bumps the escalation level when the state still matches.
func (r *AlertRepository) MarkEscalated(ctx context.Context, id, priorState string, at time.Time) (*alerts.Alert, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[id]
	if !ok || existing.State != priorState {
		return nil, nil
	}
	existing.State = alerts.StateEscalated
	existing.Status = alerts.StatusLabel(alerts.StateEscalated)
	existing.EscalationLevel++
	existing.EscalatedAt = at
	existing.UpdatedAt = at
	clone := *existing
	return &clone, nil
}

// MarkResolved closes the alert when the state still matches.
func (r *AlertRepository) MarkResolved(ctx context.Context, id, priorState, actor string, at time.Time) (*alerts.Alert, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[id]
	if !ok || existing.State != priorState {
		return nil, nil
	}
	existing.State = alerts.StateResolved
	existing.Status = alerts.StatusLabel(alerts.StateResolved)
	existing.ResolvedBy = actor
	existing.ResolvedAt = at
	existing.UpdatedAt = at
	clone := *existing
	return &clone, nil
}

// Search lists matching alerts, newest first.
func (r *AlertRepository) Search(ctx context.Context, query alerts.SearchQuery) ([]alerts.Alert, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []alerts.Alert
	for _, existing := range r.data {
		if query.TenantID != "" && existing.TenantID != query.TenantID {
			continue
		}
		if query.HouseID != "" && existing.HouseID != query.HouseID {
			continue
		}
		if query.DeviceID != "" && existing.DeviceID != query.DeviceID {
			continue
		}
		if query.Type != "" && existing.Type != query.Type {
			continue
		}
		if query.Severity != "" && existing.Severity != query.Severity {
			continue
		}
		if query.State != "" && existing.State != query.State {
			continue
		}
		if !query.Since.IsZero() && existing.OccurredAt.Before(query.Since) {
			continue
		}
		result = append(result, *existing)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.After(result[j].OccurredAt)
	})
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

// ListOpen returns non-terminal alerts in scope, oldest first.
func (r *AlertRepository) ListOpen(ctx context.Context, scope alerts.BulkScope) ([]alerts.Alert, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []alerts.Alert
	for _, existing := range r.data {
		if scope.TenantID != "" && existing.TenantID != scope.TenantID {
			continue
		}
		if !existing.Open() {
			continue
		}
		if scope.HouseID != "" && existing.HouseID != scope.HouseID {
			continue
		}
		if scope.Severity != "" && existing.Severity != scope.Severity {
			continue
		}
		result = append(result, *existing)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}

// Stats aggregates the tenant's alerts.
func (r *AlertRepository) Stats(ctx context.Context, tenantID string) (*alerts.Stats, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &alerts.Stats{
		BySeverity: make(map[string]int),
		ByState:    make(map[string]int),
	}
	var ackedSum, resolvedSum float64
	var ackedCount, resolvedCount int
	for _, existing := range r.data {
		if tenantID != "" && existing.TenantID != tenantID {
			continue
		}
		stats.BySeverity[existing.Severity]++
		stats.ByState[existing.State]++
		if existing.Open() {
			stats.Open++
		}
		if !existing.AcknowledgedAt.IsZero() {
			ackedSum += existing.AcknowledgedAt.Sub(existing.OccurredAt).Seconds()
			ackedCount++
		}
		if !existing.ResolvedAt.IsZero() {
			resolvedSum += existing.ResolvedAt.Sub(existing.OccurredAt).Seconds()
			resolvedCount++
		}
	}
	if ackedCount > 0 {
		stats.MTTASeconds = ackedSum / float64(ackedCount)
	}
	if resolvedCount > 0 {
		stats.MTTRSeconds = resolvedSum / float64(resolvedCount)
	}
	return stats, nil
}

// HistoryRepository is an in-memory append-only history store.
type HistoryRepository struct {
	mu      sync.RWMutex
	entries map[string][]alerts.HistoryEntry
}

// NewHistoryRepository constructs a repository.
func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{entries: make(map[string][]alerts.HistoryEntry)}
}

// Append stores one entry in arrival order.
func (r *HistoryRepository) Append(ctx context.Context, entry *alerts.HistoryEntry) error {
	_ = ctx
	if entry == nil {
		return errors.New("memory history repo: nil entry")
	}
	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}
	r.mu.Lock()
	r.entries[entry.AlertID] = append(r.entries[entry.AlertID], *entry)
	r.mu.Unlock()
	return nil
}

// ListByAlert returns entries ordered by timestamp ascending.
func (r *HistoryRepository) ListByAlert(ctx context.Context, alertID string) ([]alerts.HistoryEntry, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := append([]alerts.HistoryEntry(nil), r.entries[alertID]...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TS.Before(entries[j].TS)
	})
	return entries, nil
}
