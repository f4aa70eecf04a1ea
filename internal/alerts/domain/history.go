package alerts

import "time"

const (
	ActionCreate   = "create"
	ActionAck      = "ack"
	ActionEscalate = "escalate"
	ActionResolve  = "resolve"
	ActionNotify   = "notify"
)

// Keys used inside HistoryEntry.Meta.
const (
	MetaSeverity       = "severity"
	MetaSeveritySource = "severity_source"
	MetaScore          = "score"
	MetaOccurredAt     = "occurred_at"
	MetaPriorState     = "prior_state"
	MetaChannel        = "channel"
	MetaRecipient      = "recipient"
	MetaDelivered      = "delivered"
	MetaSimulated      = "simulated"
	MetaError          = "error"
)

// Severity source values recorded on the create entry.
const (
	SeveritySourceManual     = "manual"
	SeveritySourceClassified = "classified"
)

// HistoryEntry is one immutable record of the alert audit trail. Entries are
// never updated or deleted; folding them in ts order reconstructs the alert.
type HistoryEntry struct {
	ID      string         `json:"id"`
	AlertID string         `json:"alert_id"`
	Action  string         `json:"action"`
	Actor   string         `json:"actor,omitempty"`
	Note    string         `json:"note,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	TS      time.Time      `json:"ts"`
}

// Replay folds history entries in order into the alert state they describe.
// Notify entries are observations and do not mutate the alert.
func Replay(entries []HistoryEntry) Alert {
	var alert Alert
	for _, entry := range entries {
		switch entry.Action {
		case ActionCreate:
			alert.ID = entry.AlertID
			alert.State = StateNew
			alert.OccurredAt = entry.TS
			alert.CreatedAt = entry.TS
			alert.UpdatedAt = entry.TS
			if severity, ok := entry.Meta[MetaSeverity].(string); ok {
				alert.Severity = severity
			}
			if score, ok := entry.Meta[MetaScore].(float64); ok {
				alert.Score = score
			}
			if raw, ok := entry.Meta[MetaOccurredAt].(string); ok {
				if occurredAt, err := time.Parse(time.RFC3339Nano, raw); err == nil {
					alert.OccurredAt = occurredAt.UTC()
				}
			}
		case ActionAck:
			alert.State = StateAcked
			alert.AcknowledgedBy = entry.Actor
			alert.AcknowledgedAt = entry.TS
			alert.UpdatedAt = entry.TS
		case ActionEscalate:
			alert.State = StateEscalated
			alert.EscalationLevel++
			alert.EscalatedAt = entry.TS
			alert.UpdatedAt = entry.TS
		case ActionResolve:
			alert.State = StateResolved
			alert.ResolvedBy = entry.Actor
			alert.ResolvedAt = entry.TS
			alert.UpdatedAt = entry.TS
		}
	}
	return alert
}
