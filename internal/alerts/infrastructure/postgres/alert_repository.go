package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	alerts "homewatch-cloud/internal/alerts/domain"
)

const alertColumns = `id, tenant_id, house_id, device_id, type, message, severity, score,
	state, status, occurred_at, acknowledged_by, acknowledged_at, escalated_at,
	escalation_level, resolved_by, resolved_at, created_at, updated_at`

// AlertRepository is a Postgres repository for alerts.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// CreateUnlessDuplicate inserts the alert as a single conditional statement:
// the row is only written when no open alert with the same (device_id, type)
// occurred within the window. This keeps the dedup check-then-act atomic
// under concurrent ingestion of the same event.
func (r *AlertRepository) CreateUnlessDuplicate(ctx context.Context, alert *alerts.Alert, window time.Duration) (string, bool, error) {
	if r == nil || r.db == nil {
		return "", false, errors.New("alert repo: nil db")
	}
	if alert == nil {
		return "", false, errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.TenantID == "" || alert.DeviceID == "" || alert.Type == "" {
		return "", false, errors.New("alert repo: missing fields")
	}

	windowStart := alert.OccurredAt.Add(-window)
	windowEnd := alert.OccurredAt.Add(window)

	for attempt := 0; attempt < 2; attempt++ {
		result, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, tenant_id, house_id, device_id, type, message, severity, score,
	state, status, occurred_at, escalation_level, created_at, updated_at
)
SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, $13
WHERE NOT EXISTS (
	SELECT 1 FROM alerts
	WHERE tenant_id = $2 AND device_id = $4 AND type = $5
		AND state IN ('new', 'escalated')
		AND occurred_at > $14 AND occurred_at < $15
)`,
			alert.ID,
			alert.TenantID,
			alert.HouseID,
			alert.DeviceID,
			alert.Type,
			alert.Message,
			alert.Severity,
			alert.Score,
			alert.State,
			alert.Status,
			alert.OccurredAt,
			alert.CreatedAt,
			alert.UpdatedAt,
			windowStart,
			windowEnd,
		)
		if err != nil {
			return "", false, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return "", false, err
		}
		if affected > 0 {
			return alert.ID, true, nil
		}

		var existingID string
		err = r.db.QueryRowContext(ctx, `
SELECT id FROM alerts
WHERE tenant_id = $1 AND device_id = $2 AND type = $3
	AND state IN ('new', 'escalated')
	AND occurred_at > $4 AND occurred_at < $5
ORDER BY occurred_at DESC
LIMIT 1`,
			alert.TenantID, alert.DeviceID, alert.Type, windowStart, windowEnd).Scan(&existingID)
		if err == nil {
			return existingID, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", false, err
		}
		// The blocking duplicate was closed between insert and lookup; retry
		// the conditional insert once.
	}
	return "", false, errors.New("alert repo: dedup insert did not converge")
}

// GetByID fetches an alert by id, nil when absent.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE id = $1`, id)
	return scanAlert(row)
}

// MarkAcknowledged applies the ack transition conditioned on the prior
// state. acknowledged_by/at are only written on the first acknowledgement.
func (r *AlertRepository) MarkAcknowledged(ctx context.Context, id, priorState, actor string, at time.Time) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
UPDATE alerts
SET state = $1, status = $2,
	acknowledged_by = CASE WHEN acknowledged_by IS NULL OR acknowledged_by = '' THEN $3 ELSE acknowledged_by END,
	acknowledged_at = COALESCE(acknowledged_at, $4),
	updated_at = $4
WHERE id = $5 AND state = $6
RETURNING `+alertColumns,
		alerts.StateAcked, alerts.StatusLabel(alerts.StateAcked), actor, at, id, priorState)
	return scanAlert(row)
}

// MarkEscalated bumps the escalation level, conditioned on the prior state.
func (r *AlertRepository) MarkEscalated(ctx context.Context, id, priorState string, at time.Time) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
UPDATE alerts
SET state = $1, status = $2,
	escalation_level = escalation_level + 1,
	escalated_at = $3,
	updated_at = $3
WHERE id = $4 AND state = $5
RETURNING `+alertColumns,
		alerts.StateEscalated, alerts.StatusLabel(alerts.StateEscalated), at, id, priorState)
	return scanAlert(row)
}

// MarkResolved closes the alert, conditioned on the prior state.
func (r *AlertRepository) MarkResolved(ctx context.Context, id, priorState, actor string, at time.Time) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
UPDATE alerts
SET state = $1, status = $2,
	resolved_by = $3,
	resolved_at = $4,
	updated_at = $4
WHERE id = $5 AND state = $6
RETURNING `+alertColumns,
		alerts.StateResolved, alerts.StatusLabel(alerts.StateResolved), actor, at, id, priorState)
	return scanAlert(row)
}

// Search lists alerts matching the query, newest first.
func (r *AlertRepository) Search(ctx context.Context, query alerts.SearchQuery) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if query.TenantID == "" {
		return nil, errors.New("alert repo: tenant id required")
	}

	var builder strings.Builder
	builder.WriteString("SELECT " + alertColumns + "\nFROM alerts\nWHERE tenant_id = $1")
	args := []any{query.TenantID}

	addFilter := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		builder.WriteString(fmt.Sprintf(" AND %s = $%d", column, len(args)))
	}
	addFilter("house_id", query.HouseID)
	addFilter("device_id", query.DeviceID)
	addFilter("type", query.Type)
	addFilter("severity", query.Severity)
	addFilter("state", query.State)
	if !query.Since.IsZero() {
		args = append(args, query.Since)
		builder.WriteString(fmt.Sprintf(" AND occurred_at >= $%d", len(args)))
	}
	builder.WriteString(" ORDER BY occurred_at DESC")
	if query.Limit > 0 {
		args = append(args, query.Limit)
		builder.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	rows, err := r.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListOpen returns every non-terminal alert in scope, oldest first so a bulk
// acknowledge works through the backlog in arrival order.
func (r *AlertRepository) ListOpen(ctx context.Context, scope alerts.BulkScope) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if scope.TenantID == "" {
		return nil, errors.New("alert repo: tenant id required")
	}

	query := "SELECT " + alertColumns + "\nFROM alerts\nWHERE tenant_id = $1 AND state IN ('new', 'escalated')"
	args := []any{scope.TenantID}
	if scope.HouseID != "" {
		args = append(args, scope.HouseID)
		query += fmt.Sprintf(" AND house_id = $%d", len(args))
	}
	if scope.Severity != "" {
		args = append(args, scope.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	query += " ORDER BY occurred_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Stats aggregates the tenant's alert population.
func (r *AlertRepository) Stats(ctx context.Context, tenantID string) (*alerts.Stats, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if tenantID == "" {
		return nil, errors.New("alert repo: tenant id required")
	}

	stats := &alerts.Stats{
		BySeverity: make(map[string]int),
		ByState:    make(map[string]int),
	}

	err := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*) FILTER (WHERE state IN ('new', 'escalated')),
	COALESCE(AVG(EXTRACT(EPOCH FROM (acknowledged_at - occurred_at))) FILTER (WHERE acknowledged_at IS NOT NULL), 0),
	COALESCE(AVG(EXTRACT(EPOCH FROM (resolved_at - occurred_at))) FILTER (WHERE resolved_at IS NOT NULL), 0)
FROM alerts
WHERE tenant_id = $1`, tenantID).Scan(&stats.Open, &stats.MTTASeconds, &stats.MTTRSeconds)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT severity, COUNT(*) FROM alerts WHERE tenant_id = $1 GROUP BY severity`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, err
		}
		stats.BySeverity[severity] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stateRows, err := r.db.QueryContext(ctx, `
SELECT state, COUNT(*) FROM alerts WHERE tenant_id = $1 GROUP BY state`, tenantID)
	if err != nil {
		return nil, err
	}
	defer stateRows.Close()
	for stateRows.Next() {
		var state string
		var count int
		if err := stateRows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats.ByState[state] = count
	}
	if err := stateRows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerts.Alert, error) {
	var alert alerts.Alert
	var message sql.NullString
	var acknowledgedBy sql.NullString
	var resolvedBy sql.NullString
	var acknowledgedAt sql.NullTime
	var escalatedAt sql.NullTime
	var resolvedAt sql.NullTime
	if err := row.Scan(
		&alert.ID,
		&alert.TenantID,
		&alert.HouseID,
		&alert.DeviceID,
		&alert.Type,
		&message,
		&alert.Severity,
		&alert.Score,
		&alert.State,
		&alert.Status,
		&alert.OccurredAt,
		&acknowledgedBy,
		&acknowledgedAt,
		&escalatedAt,
		&alert.EscalationLevel,
		&resolvedBy,
		&resolvedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.OccurredAt = alert.OccurredAt.UTC()
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	if message.Valid {
		alert.Message = message.String
	}
	if acknowledgedBy.Valid {
		alert.AcknowledgedBy = acknowledgedBy.String
	}
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = acknowledgedAt.Time.UTC()
	}
	if escalatedAt.Valid {
		alert.EscalatedAt = escalatedAt.Time.UTC()
	}
	if resolvedBy.Valid {
		alert.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = resolvedAt.Time.UTC()
	}
	return &alert, nil
}
