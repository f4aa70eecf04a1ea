package alerts

import "time"

const (
	StateNew       = "new"
	StateAcked     = "acked"
	StateEscalated = "escalated"
	StateResolved  = "resolved"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert represents a single classified occurrence of a monitored event.
type Alert struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	HouseID         string    `json:"house_id"`
	DeviceID        string    `json:"device_id"`
	Type            string    `json:"type"`
	Message         string    `json:"message,omitempty"`
	Severity        string    `json:"severity"`
	Score           float64   `json:"score"`
	State           string    `json:"state"`
	Status          string    `json:"status"`
	OccurredAt      time.Time `json:"occurred_at"`
	AcknowledgedBy  string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  time.Time `json:"acknowledged_at,omitempty"`
	EscalatedAt     time.Time `json:"escalated_at,omitempty"`
	EscalationLevel int       `json:"escalation_level"`
	ResolvedBy      string    `json:"resolved_by,omitempty"`
	ResolvedAt      time.Time `json:"resolved_at,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Open reports whether the alert is still in a non-terminal state
// eligible for dedup collapsing (new or escalated).
func (a Alert) Open() bool {
	return a.State == StateNew || a.State == StateEscalated
}

// Terminal reports whether the alert reached its final state.
func (a Alert) Terminal() bool {
	return a.State == StateResolved
}

// StatusLabel maps a lifecycle state to the human-facing status string
// carried alongside it in API responses.
func StatusLabel(state string) string {
	switch state {
	case StateNew:
		return "open"
	case StateAcked:
		return "acknowledged"
	case StateEscalated:
		return "escalated"
	case StateResolved:
		return "resolved"
	default:
		return state
	}
}

// StateFromStatus maps a status label back to its lifecycle state. Unknown
// labels are returned unchanged so callers can pass states directly.
func StateFromStatus(status string) string {
	switch status {
	case "open":
		return StateNew
	case "acknowledged":
		return StateAcked
	case "escalated":
		return StateEscalated
	case "resolved":
		return StateResolved
	default:
		return status
	}
}

// ValidSeverity returns true for one of the four severity labels.
func ValidSeverity(value string) bool {
	switch value {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// ValidState returns true for a known lifecycle state.
func ValidState(value string) bool {
	switch value {
	case StateNew, StateAcked, StateEscalated, StateResolved:
		return true
	default:
		return false
	}
}

// AckAllowedFrom lists states the acknowledge transition accepts.
var AckAllowedFrom = []string{StateNew, StateEscalated}

// EscalateAllowedFrom lists states the escalate transition accepts.
var EscalateAllowedFrom = []string{StateNew, StateAcked, StateEscalated}

// ResolveAllowedFrom lists states the resolve transition accepts.
var ResolveAllowedFrom = []string{StateNew, StateAcked, StateEscalated}

// SeverityRank orders severities for comparisons; unknown ranks lowest.
func SeverityRank(value string) int {
	switch value {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// DedupWindow is the interval within which repeats of the same
// (device, type) collapse into the first open alert.
const DedupWindow = 60 * time.Second
