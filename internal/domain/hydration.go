package domain

import (
	"time"
)

// Settings defaults applied when a user has no stored settings row.
const (
	DefaultDailyGoal        = 2500
	DefaultReminderInterval = 30
)

// WaterLog is a single intake entry in milliliters.
type WaterLog struct {
	ID       string    `json:"id"`
	UserID   string    `json:"-"`
	Amount   int       `json:"amount"`
	LoggedAt time.Time `json:"logged_at"`
}

// UserSettings is the per-user hydration configuration.
type UserSettings struct {
	DailyGoal        int  `json:"daily_goal"`
	ReminderEnabled  bool `json:"reminder_enabled"`
	ReminderInterval int  `json:"reminder_interval"` // minutes
	SoundsEnabled    bool `json:"sounds_enabled"`
}

// DefaultSettings returns settings used before the user changes anything.
func DefaultSettings() UserSettings {
	return UserSettings{
		DailyGoal:        DefaultDailyGoal,
		ReminderEnabled:  true,
		ReminderInterval: DefaultReminderInterval,
		SoundsEnabled:    true,
	}
}

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	DailyGoal        *int  `json:"daily_goal,omitempty"`
	ReminderEnabled  *bool `json:"reminder_enabled,omitempty"`
	ReminderInterval *int  `json:"reminder_interval,omitempty"`
	SoundsEnabled    *bool `json:"sounds_enabled,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p SettingsPatch) IsEmpty() bool {
	return p.DailyGoal == nil && p.ReminderEnabled == nil &&
		p.ReminderInterval == nil && p.SoundsEnabled == nil
}

// Apply returns s with the patch merged over it.
func (p SettingsPatch) Apply(s UserSettings) UserSettings {
	if p.DailyGoal != nil {
		s.DailyGoal = *p.DailyGoal
	}
	if p.ReminderEnabled != nil {
		s.ReminderEnabled = *p.ReminderEnabled
	}
	if p.ReminderInterval != nil {
		s.ReminderInterval = *p.ReminderInterval
	}
	if p.SoundsEnabled != nil {
		s.SoundsEnabled = *p.SoundsEnabled
	}
	return s
}

// ActivityBreak is an append-only movement break event.
type ActivityBreak struct {
	ID      string    `json:"id"`
	UserID  string    `json:"-"`
	BreakAt time.Time `json:"break_at"`
}

// Streak is the persisted consecutive-goal counter. EvaluatedOn is the
// local date (YYYY-MM-DD) of the last evaluation.
type Streak struct {
	UserID      string
	Count       int
	EvaluatedOn string
	UpdatedAt   time.Time
}
