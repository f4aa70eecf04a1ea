package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCascade(t *testing.T) {
	tests := []struct {
		name     string
		typ      string
		score    float64
		duration time.Duration
		quiet    bool
		want     string
	}{
		{"smoke alarm is always critical", TypeSmokeAlarm, 0.1, 0, false, SeverityCritical},
		{"smoke alarm ignores quiet hours", TypeSmokeAlarm, 0.99, 0, true, SeverityCritical},
		{"glass break with high score", TypeGlassBreak, 0.85, 0, false, SeverityCritical},
		{"glass break below threshold", TypeGlassBreak, 0.84, 0, false, SeverityHigh},
		{"fall with high score", TypeFall, 0.8, 0, false, SeverityCritical},
		{"fall with low score", TypeFall, 0.2, 0, false, SeverityHigh},
		{"long no motion in quiet hours", TypeNoMotion, 0, 30 * time.Minute, true, SeverityHigh},
		{"long no motion in daytime", TypeNoMotion, 0, 30 * time.Minute, false, SeverityMedium},
		{"medium no motion", TypeNoMotion, 0, 15 * time.Minute, false, SeverityMedium},
		{"short no motion falls through to score", TypeNoMotion, 0.1, 5 * time.Minute, false, SeverityLow},
		{"unusual noise high score", TypeUnusualNoise, 0.9, 0, false, SeverityHigh},
		{"unusual noise medium score", TypeUnusualNoise, 0.75, 0, false, SeverityMedium},
		{"unusual noise low score uses fallback", TypeUnusualNoise, 0.3, 0, false, SeverityLow},
		{"dog bark stays low despite score", TypeDogBark, 0.9, 0, false, SeverityLow},
		{"door open in quiet hours", TypeDoorOpen, 0, 0, true, SeverityMedium},
		{"door open in daytime", TypeDoorOpen, 0.95, 0, false, SeverityLow},
		{"unknown type high score", "window_sensor", 0.85, 0, false, SeverityHigh},
		{"unknown type medium score", "window_sensor", 0.7, 0, false, SeverityMedium},
		{"unknown type low score", "window_sensor", 0.5, 0, false, SeverityLow},
		{"unknown type negligible score", "window_sensor", 0.01, 0, false, SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.typ, tt.score, tt.duration, tt.quiet)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	first := Classify(TypeUnusualNoise, 0.75, 0, true)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(TypeUnusualNoise, 0.75, 0, true))
	}
}

func TestInQuietHours(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		hour int
		want bool
	}{
		{21, false},
		{22, true},
		{23, true},
		{0, true},
		{5, true},
		{6, false},
		{12, false},
	}
	for _, tt := range tests {
		at := time.Date(2026, 3, 10, tt.hour, 30, 0, 0, loc)
		assert.Equal(t, tt.want, InQuietHours(at, loc), "hour %d", tt.hour)
	}
}
