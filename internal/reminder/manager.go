package reminder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
)

// DefaultMessage is the alert text sent on every reminder tick.
const DefaultMessage = "Time to hydrate! Take a sip of water 💧"

// Alerter delivers a reminder to a user's connected clients.
type Alerter interface {
	Alert(userID, message string, sound bool) error
}

// AlertHook observes each delivery attempt. err is nil on success.
type AlertHook func(userID string, err error)

type entry struct {
	sound atomic.Bool

	// mu serializes arming for one user without holding Manager.mu.
	mu      sync.Mutex
	timer   Timer
	minutes int
	removed bool
}

// Manager owns one reminder Timer per user with reminders enabled.
type Manager struct {
	alerter         Alerter
	defaultInterval time.Duration
	unit            time.Duration
	message         string
	hook            AlertHook
	presence        func(userID string) bool

	mu     sync.Mutex
	timers map[string]*entry
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultInterval sets the cadence used when a stored interval is invalid.
func WithDefaultInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultInterval = d
		}
	}
}

// WithUnit sets the duration of one interval unit. Defaults to a minute.
func WithUnit(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.unit = d
		}
	}
}

// WithMessage overrides the alert text.
func WithMessage(msg string) Option {
	return func(m *Manager) {
		if msg != "" {
			m.message = msg
		}
	}
}

// WithAlertHook registers an observer for delivery attempts.
func WithAlertHook(hook AlertHook) Option {
	return func(m *Manager) { m.hook = hook }
}

// WithPresence limits reminders to users with a live view. Sync disarms
// users for whom present returns false.
func WithPresence(present func(userID string) bool) Option {
	return func(m *Manager) { m.presence = present }
}

// NewManager creates a reminder manager delivering through alerter.
func NewManager(alerter Alerter, opts ...Option) *Manager {
	m := &Manager{
		alerter:         alerter,
		defaultInterval: time.Minute,
		unit:            time.Minute,
		message:         DefaultMessage,
		timers:          make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IntervalFor converts a stored interval in minutes to a tick period.
func (m *Manager) IntervalFor(minutes int) time.Duration {
	if minutes < 1 || minutes > 24*60 {
		return m.defaultInterval
	}
	return time.Duration(minutes) * m.unit
}

// Sync arms or disarms the user's reminder to match settings. Re-syncing with
// an unchanged interval keeps the running timer.
func (m *Manager) Sync(userID string, settings domain.UserSettings) {
	if !settings.ReminderEnabled || (m.presence != nil && !m.presence(userID)) {
		m.Stop(userID)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	e, ok := m.timers[userID]
	if !ok {
		e = &entry{}
		m.timers[userID] = e
	}
	m.mu.Unlock()

	e.sound.Store(settings.SoundsEnabled)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return
	}
	if e.minutes == settings.ReminderInterval && e.timer.Armed() {
		return
	}

	interval := m.IntervalFor(settings.ReminderInterval)
	e.minutes = settings.ReminderInterval
	e.timer.Arm(interval, func() { m.fire(userID, e) })
	slog.Info("Reminder armed", "user_id", userID, "interval", interval)
}

// SettingsLoader returns a user's current settings.
type SettingsLoader func(ctx context.Context, userID string) (domain.UserSettings, error)

// PresenceHook returns a callback for view presence changes. A user's first
// view arms the reminder from load; closing the last view stops it.
func (m *Manager) PresenceHook(load SettingsLoader, timeout time.Duration) func(userID string, online bool) {
	return func(userID string, online bool) {
		if !online {
			if m.presence != nil && m.presence(userID) {
				return
			}
			m.Stop(userID)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		settings, err := load(ctx, userID)
		if err != nil {
			slog.Warn("Failed to load settings for reminder", "user_id", userID, "error", err)
			return
		}
		m.Sync(userID, settings)
	}
}

func (m *Manager) fire(userID string, e *entry) {
	if m.presence != nil && !m.presence(userID) {
		// The last view closed while this timer was being armed.
		go m.drop(userID, e)
		return
	}
	err := m.alerter.Alert(userID, m.message, e.sound.Load())
	if err != nil {
		slog.Debug("Reminder alert not delivered", "user_id", userID, "error", err)
	}
	if m.hook != nil {
		m.hook(userID, err)
	}
}

// Stop cancels the user's reminder, if any.
func (m *Manager) Stop(userID string) {
	m.mu.Lock()
	e, ok := m.timers[userID]
	delete(m.timers, userID)
	m.mu.Unlock()

	if ok {
		e.release()
		slog.Info("Reminder stopped", "user_id", userID)
	}
}

// drop stops e if it is still the user's current entry.
func (m *Manager) drop(userID string, e *entry) {
	m.mu.Lock()
	current := m.timers[userID] == e
	if current {
		delete(m.timers, userID)
	}
	m.mu.Unlock()

	if current {
		e.release()
		slog.Info("Reminder stopped", "user_id", userID, "reason", "no_view")
	}
}

func (e *entry) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	e.timer.Disarm()
}

// Active returns how many users have an armed reminder.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Armed reports whether userID has a running reminder.
func (m *Manager) Armed(userID string) bool {
	m.mu.Lock()
	e, ok := m.timers[userID]
	m.mu.Unlock()
	return ok && e.timer.Armed()
}

// Close stops every reminder. Later Sync calls are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	timers := m.timers
	m.timers = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range timers {
		e.release()
	}
	slog.Info("Reminder manager stopped", "count", len(timers))
}
