package alerts

import "time"

// SearchQuery filters alert listings. Zero values mean "no filter".
type SearchQuery struct {
	TenantID string
	HouseID  string
	DeviceID string
	Type     string
	Severity string
	State    string
	Since    time.Time
	Limit    int
}

// BulkScope selects the non-terminal alerts a bulk acknowledge applies to.
type BulkScope struct {
	TenantID string
	HouseID  string
	Severity string
}

// Stats aggregates the alert population for the dashboard header.
type Stats struct {
	Open        int            `json:"open"`
	MTTASeconds float64        `json:"mtta_seconds"`
	MTTRSeconds float64        `json:"mttr_seconds"`
	BySeverity  map[string]int `json:"by_severity"`
	ByState     map[string]int `json:"by_state"`
}
