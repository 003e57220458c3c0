package hydration

import (
	"testing"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestTodayTotalAndPercent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	logs := []domain.WaterLog{
		{Amount: 300, LoggedAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
		{Amount: 500, LoggedAt: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)},
		{Amount: 1000, LoggedAt: time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC)},
	}

	total := TodayTotal(logs, now)
	assert.Equal(t, 800, total)
	assert.Equal(t, 32, Percent(total, 2500))
}

func TestTodayTotalMidnightBoundary(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC)
	logs := []domain.WaterLog{
		{Amount: 200, LoggedAt: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
		{Amount: 400, LoggedAt: time.Date(2026, 3, 9, 23, 59, 59, 0, time.UTC)},
	}
	assert.Equal(t, 200, TodayTotal(logs, now))
}

func TestPercent(t *testing.T) {
	tests := []struct {
		name        string
		total, goal int
		want        int
	}{
		{"zero total", 0, 2500, 0},
		{"zero goal", 500, 0, 0},
		{"rounds to nearest", 30, 2000, 2},
		{"exact goal", 2000, 2000, 100},
		{"over goal clamps", 6000, 2000, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percent(tt.total, tt.goal))
		})
	}
}

func TestNextStreak(t *testing.T) {
	assert.Equal(t, 4, NextStreak(3, 2200, 2000))
	assert.Equal(t, 4, NextStreak(3, 2000, 2000))
	assert.Equal(t, 3, NextStreak(3, 1999, 2000), "missed day leaves streak unchanged")
	assert.Equal(t, 0, NextStreak(0, 0, 2000))
}

func TestRadarFor(t *testing.T) {
	r := RadarFor(1600, 2000, 4)
	assert.Equal(t, 3, r.BottlesSaved)
	assert.InDelta(t, 60, r.EcoSavings, 0.001)
	assert.InDelta(t, 80, r.GoalAdherence, 0.001)
	assert.InDelta(t, 50, r.ActivityBreaks, 0.001)

	full := RadarFor(9000, 2000, 20)
	assert.InDelta(t, 100, full.EcoSavings, 0.001)
	assert.InDelta(t, 100, full.IntakeVolume, 0.001)
	assert.InDelta(t, 100, full.ActivityBreaks, 0.001)
}

func TestMoodFor(t *testing.T) {
	assert.Equal(t, "happy", MoodFor(80).Emotion)
	assert.Equal(t, "neutral", MoodFor(79).Emotion)
	assert.Equal(t, "neutral", MoodFor(50).Emotion)
	assert.Equal(t, "sad", MoodFor(49).Emotion)
}
