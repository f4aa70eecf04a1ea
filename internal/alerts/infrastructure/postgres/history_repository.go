package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	alerts "homewatch-cloud/internal/alerts/domain"
)

// HistoryRepository is the append-only Postgres store for the alert audit
// trail. Rows are never updated or deleted.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository constructs a repository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append writes one history entry.
func (r *HistoryRepository) Append(ctx context.Context, entry *alerts.HistoryEntry) error {
	if r == nil || r.db == nil {
		return errors.New("history repo: nil db")
	}
	if entry == nil {
		return errors.New("history repo: nil entry")
	}
	if entry.AlertID == "" || entry.Action == "" {
		return errors.New("history repo: missing fields")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}

	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	if entry.Meta == nil {
		meta = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO alert_history (id, alert_id, action, actor, note, meta, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.AlertID, entry.Action, entry.Actor, entry.Note, meta, entry.TS)
	return err
}

// ListByAlert returns all entries for an alert ordered by timestamp
// ascending, the order transitions were accepted in.
func (r *HistoryRepository) ListByAlert(ctx context.Context, alertID string) ([]alerts.HistoryEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("history repo: nil db")
	}
	if alertID == "" {
		return nil, errors.New("history repo: alert id required")
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, alert_id, action, actor, note, meta, ts
FROM alert_history
WHERE alert_id = $1
ORDER BY ts ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.HistoryEntry
	for rows.Next() {
		var entry alerts.HistoryEntry
		var actor sql.NullString
		var note sql.NullString
		var meta []byte
		if err := rows.Scan(&entry.ID, &entry.AlertID, &entry.Action, &actor, &note, &meta, &entry.TS); err != nil {
			return nil, err
		}
		if actor.Valid {
			entry.Actor = actor.String
		}
		if note.Valid {
			entry.Note = note.String
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &entry.Meta); err != nil {
				return nil, err
			}
		}
		entry.TS = entry.TS.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
