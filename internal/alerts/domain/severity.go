package alerts

import "time"

// Event types produced by the in-home sensors.
const (
	TypeSmokeAlarm   = "smoke_alarm"
	TypeGlassBreak   = "glass_break"
	TypeFall         = "fall"
	TypeNoMotion     = "no_motion"
	TypeUnusualNoise = "unusual_noise"
	TypeDoorOpen     = "door_open"
	TypeDogBark      = "dog_bark"
)

// ClassifyInput carries the signals the severity cascade evaluates.
type ClassifyInput struct {
	Type         string
	Score        float64
	Duration     time.Duration
	InQuietHours bool
}

// severityRule is one entry of the ordered cascade. The first rule whose
// predicate matches decides the severity; rule order is part of the contract.
type severityRule struct {
	name     string
	match    func(ClassifyInput) bool
	severity func(ClassifyInput) string
}

func fixed(value string) func(ClassifyInput) string {
	return func(ClassifyInput) string { return value }
}

var severityRules = []severityRule{
	{
		name:     "smoke_alarm",
		match:    func(in ClassifyInput) bool { return in.Type == TypeSmokeAlarm },
		severity: fixed(SeverityCritical),
	},
	{
		name:     "glass_break_high_score",
		match:    func(in ClassifyInput) bool { return in.Type == TypeGlassBreak && in.Score >= 0.85 },
		severity: fixed(SeverityCritical),
	},
	{
		name:     "fall_high_score",
		match:    func(in ClassifyInput) bool { return in.Type == TypeFall && in.Score >= 0.8 },
		severity: fixed(SeverityCritical),
	},
	{
		name:     "fall",
		match:    func(in ClassifyInput) bool { return in.Type == TypeFall },
		severity: fixed(SeverityHigh),
	},
	{
		name:     "glass_break",
		match:    func(in ClassifyInput) bool { return in.Type == TypeGlassBreak },
		severity: fixed(SeverityHigh),
	},
	{
		name:  "no_motion_long",
		match: func(in ClassifyInput) bool { return in.Type == TypeNoMotion && in.Duration >= 30*time.Minute },
		severity: func(in ClassifyInput) string {
			if in.InQuietHours {
				return SeverityHigh
			}
			return SeverityMedium
		},
	},
	{
		name:     "unusual_noise_high_score",
		match:    func(in ClassifyInput) bool { return in.Type == TypeUnusualNoise && in.Score >= 0.85 },
		severity: fixed(SeverityHigh),
	},
	{
		name:     "unusual_noise",
		match:    func(in ClassifyInput) bool { return in.Type == TypeUnusualNoise && in.Score >= 0.7 },
		severity: fixed(SeverityMedium),
	},
	{
		name:     "no_motion",
		match:    func(in ClassifyInput) bool { return in.Type == TypeNoMotion && in.Duration >= 15*time.Minute },
		severity: fixed(SeverityMedium),
	},
	{
		name:     "door_open_quiet_hours",
		match:    func(in ClassifyInput) bool { return in.Type == TypeDoorOpen && in.InQuietHours },
		severity: fixed(SeverityMedium),
	},
	{
		name:     "benign_types",
		match:    func(in ClassifyInput) bool { return in.Type == TypeDogBark || in.Type == TypeDoorOpen },
		severity: fixed(SeverityLow),
	},
}

// Classify assigns a severity from the ordered rule cascade. It is pure:
// identical input always yields the identical severity. When no rule matches,
// the score alone decides.
func Classify(eventType string, score float64, duration time.Duration, inQuietHours bool) string {
	in := ClassifyInput{Type: eventType, Score: score, Duration: duration, InQuietHours: inQuietHours}
	for _, rule := range severityRules {
		if rule.match(in) {
			return rule.severity(in)
		}
	}
	switch {
	case score >= 0.85:
		return SeverityHigh
	case score >= 0.7:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// InQuietHours reports whether t falls in the local quiet window [22:00, 06:00).
func InQuietHours(t time.Time, loc *time.Location) bool {
	if loc != nil {
		t = t.In(loc)
	}
	hour := t.Hour()
	return hour >= 22 || hour < 6
}
