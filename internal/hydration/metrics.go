// Package hydration holds the per-user hydration state and the metrics derived from it.
package hydration

import (
	"math"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
)

const (
	// BottleSizeML is the plastic bottle equivalent used for eco savings.
	BottleSizeML = 500
	// bottlesForFullEcoScore bottles per day saturate the eco score.
	bottlesForFullEcoScore = 5
	// breaksForFullActivityScore breaks per week saturate the activity score.
	breaksForFullActivityScore = 8
)

// StartOfDay returns local midnight of t's calendar day, in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// TodayTotal sums the logs at or after local midnight of now.
func TodayTotal(logs []domain.WaterLog, now time.Time) int {
	start := StartOfDay(now)
	total := 0
	for _, log := range logs {
		if !log.LoggedAt.Before(start) {
			total += log.Amount
		}
	}
	return total
}

// Percent returns total/goal as a rounded integer percentage clamped to [0, 100].
func Percent(total, goal int) int {
	if goal <= 0 || total <= 0 {
		return 0
	}
	p := int(math.Round(float64(total) / float64(goal) * 100))
	return min(p, 100)
}

// GoalAdherence is the unrounded percentage of the goal reached, capped at 100.
func GoalAdherence(total, goal int) float64 {
	if goal <= 0 || total <= 0 {
		return 0
	}
	return math.Min(float64(total)/float64(goal)*100, 100)
}

// NextStreak returns the streak after evaluating yesterday. It only ever grows:
// a missed day leaves it unchanged.
func NextStreak(current, yesterdayTotal, goal int) int {
	if goal > 0 && yesterdayTotal >= goal {
		return current + 1
	}
	return current
}

// BottlesSaved is the number of whole plastic bottles replaced by total ml.
func BottlesSaved(total int) int {
	if total <= 0 {
		return 0
	}
	return total / BottleSizeML
}

// EcoScore maps bottles saved onto 0..100.
func EcoScore(bottles int) float64 {
	return math.Min(float64(bottles)/bottlesForFullEcoScore*100, 100)
}

// ActivityScore maps activity breaks in the window onto 0..100.
func ActivityScore(breaks int) float64 {
	return math.Min(float64(breaks)/breaksForFullActivityScore*100, 100)
}

// Radar is the wellness radar chart data, every axis in 0..100.
type Radar struct {
	IntakeVolume   float64 `json:"intake_volume"`
	ActivityBreaks float64 `json:"activity_breaks"`
	EcoSavings     float64 `json:"eco_savings"`
	GoalAdherence  float64 `json:"goal_adherence"`
	BottlesSaved   int     `json:"bottles_saved"`
	BreakCount     int     `json:"break_count"`
}

// RadarFor builds the radar data for today's total and the break count.
func RadarFor(total, goal, breaks int) Radar {
	adherence := GoalAdherence(total, goal)
	bottles := BottlesSaved(total)
	return Radar{
		IntakeVolume:   adherence,
		ActivityBreaks: ActivityScore(breaks),
		EcoSavings:     EcoScore(bottles),
		GoalAdherence:  adherence,
		BottlesSaved:   bottles,
		BreakCount:     breaks,
	}
}

// Mood is the pet's reaction to today's progress.
type Mood struct {
	Emotion string  `json:"emotion"`
	Scale   float64 `json:"scale"`
	Eyes    string  `json:"eyes"`
	Message string  `json:"message"`
}

// MoodFor picks the pet mood for a progress percentage.
func MoodFor(percent int) Mood {
	switch {
	case percent >= 80:
		return Mood{Emotion: "happy", Scale: 1.2, Eyes: "^_^", Message: "Feeling great! Keep it up! 💪"}
	case percent >= 50:
		return Mood{Emotion: "neutral", Scale: 1, Eyes: "o_o", Message: "Doing okay... 😊"}
	default:
		return Mood{Emotion: "sad", Scale: 0.8, Eyes: "T_T", Message: "Need water... 😢"}
	}
}
