package hydration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// LogWindow is how many of the newest logs a tracker keeps cached.
	LogWindow = 50
	// DefaultBreakWindowDays is the trailing window for activity break counts.
	DefaultBreakWindowDays = 7

	maxLogAmount = 5000
	minDailyGoal = 500
	maxDailyGoal = 10000
	maxInterval  = 24 * 60
)

var (
	ErrInvalidAmount   = errors.New("amount must be between 1 and 5000 ml")
	ErrInvalidGoal     = errors.New("daily goal must be between 500 and 10000 ml")
	ErrInvalidInterval = errors.New("reminder interval must be between 1 and 1440 minutes")
	ErrInvalidWindow   = errors.New("window must be between 1 and 365 days")
	ErrEmptyPatch      = errors.New("no settings to update")
	ErrLogNotFound     = errors.New("log not found")
	ErrTrackerClosed   = errors.New("tracker closed")
)

// Repository is the persistence the tracker needs. store.Repository satisfies it.
type Repository interface {
	ListWaterLogs(ctx context.Context, userID string, limit int) ([]domain.WaterLog, error)
	InsertWaterLog(ctx context.Context, log *domain.WaterLog) error
	DeleteWaterLog(ctx context.Context, userID, logID string) (bool, error)
	SumWaterLogs(ctx context.Context, userID string, from, to time.Time) (int, error)
	GetSettings(ctx context.Context, userID string) (*domain.UserSettings, error)
	UpdateSettings(ctx context.Context, userID string, patch domain.SettingsPatch) (domain.UserSettings, error)
	InsertActivityBreak(ctx context.Context, b *domain.ActivityBreak) error
	CountActivityBreaks(ctx context.Context, userID string, since time.Time) (int, error)
	GetStreak(ctx context.Context, userID string) (*domain.Streak, error)
	UpsertStreak(ctx context.Context, s *domain.Streak) error
}

// Notifier delivers transient user-facing notifications.
type Notifier interface {
	Notify(userID string, n domain.Notification)
}

// SettingsListener is called after a user's settings are known or confirmed changed.
type SettingsListener func(userID string, settings domain.UserSettings)

// Snapshot is a consistent copy of a tracker's state plus today's derived values.
type Snapshot struct {
	Logs       []domain.WaterLog   `json:"logs"`
	Settings   domain.UserSettings `json:"settings"`
	TodayTotal int                 `json:"today_total"`
	Percent    int                 `json:"percent"`
}

// Tracker caches one user's recent logs and settings over the repository.
//
// Every remote result is tagged with the generation it was requested in;
// results from an older generation (after Close or Reload) are discarded.
type Tracker struct {
	userID    string
	repo      Repository
	notifier  Notifier
	clock     func() time.Time
	loc       *time.Location
	listeners func() []SettingsListener

	mu       sync.RWMutex
	logs     []domain.WaterLog
	settings domain.UserSettings
	gen      uint64
	loaded   bool
	closed   bool
	lastUsed time.Time

	loadMu   sync.Mutex
	streakMu sync.Mutex
}

func newTracker(userID string, repo Repository, notifier Notifier, clock func() time.Time, loc *time.Location, listeners func() []SettingsListener) *Tracker {
	return &Tracker{
		userID:    userID,
		repo:      repo,
		notifier:  notifier,
		clock:     clock,
		loc:       loc,
		listeners: listeners,
		settings:  domain.DefaultSettings(),
		lastUsed:  clock(),
	}
}

// UserID returns the owning user.
func (t *Tracker) UserID() string { return t.userID }

func (t *Tracker) now() time.Time {
	return t.clock().In(t.loc)
}

func (t *Tracker) generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gen
}

func (t *Tracker) touch() {
	t.mu.Lock()
	t.lastUsed = t.clock()
	t.mu.Unlock()
}

func (t *Tracker) idleSince() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUsed
}

// Load fetches logs and settings concurrently. Each result is applied on its
// own as it arrives; there is no ordering between the two.
func (t *Tracker) Load(ctx context.Context) error {
	gen := t.generation()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logs, err := t.repo.ListWaterLogs(gctx, t.userID, LogWindow)
		if err != nil {
			return fmt.Errorf("fetch logs: %w", err)
		}
		t.applyLogs(gen, logs)
		return nil
	})
	g.Go(func() error {
		stored, err := t.repo.GetSettings(gctx, t.userID)
		if err != nil {
			return fmt.Errorf("fetch settings: %w", err)
		}
		settings := domain.DefaultSettings()
		if stored != nil {
			settings = *stored
		}
		t.applySettings(gen, settings)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	t.mu.Lock()
	if gen == t.gen && !t.closed {
		t.loaded = true
	}
	t.mu.Unlock()
	return nil
}

// Reload discards any in-flight results and fetches fresh state.
func (t *Tracker) Reload(ctx context.Context) error {
	t.mu.Lock()
	t.gen++
	t.mu.Unlock()
	return t.Load(ctx)
}

// ensureLoaded loads state once; a failed load is retried on the next call.
func (t *Tracker) ensureLoaded(ctx context.Context) (bool, error) {
	t.loadMu.Lock()
	defer t.loadMu.Unlock()

	t.mu.RLock()
	loaded, closed := t.loaded, t.closed
	t.mu.RUnlock()
	if closed {
		return false, ErrTrackerClosed
	}
	if loaded {
		return false, nil
	}
	if err := t.Load(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tracker) applyLogs(gen uint64, logs []domain.WaterLog) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.gen {
		slog.Debug("Dropping stale log refresh", "user_id", t.userID, "gen", gen, "current_gen", t.gen)
		return false
	}
	t.logs = logs
	return true
}

func (t *Tracker) applySettings(gen uint64, settings domain.UserSettings) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.gen {
		slog.Debug("Dropping stale settings refresh", "user_id", t.userID, "gen", gen, "current_gen", t.gen)
		return false
	}
	t.settings = settings
	return true
}

// Close marks the tracker as torn down. Results of requests still in flight are dropped.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.gen++
}

// Logs returns a copy of the cached logs, newest first.
func (t *Tracker) Logs() []domain.WaterLog {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.WaterLog, len(t.logs))
	copy(out, t.logs)
	return out
}

// Settings returns the cached settings.
func (t *Tracker) Settings() domain.UserSettings {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.settings
}

// TodayTotal sums today's cached logs.
func (t *Tracker) TodayTotal() int {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TodayTotal(t.logs, now)
}

// Percent is today's progress against the daily goal.
func (t *Tracker) Percent() int {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Percent(TodayTotal(t.logs, now), t.settings.DailyGoal)
}

// Snapshot returns the cached state together with today's totals.
func (t *Tracker) Snapshot() Snapshot {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	logs := make([]domain.WaterLog, len(t.logs))
	copy(logs, t.logs)
	total := TodayTotal(logs, now)
	return Snapshot{
		Logs:       logs,
		Settings:   t.settings,
		TodayTotal: total,
		Percent:    Percent(total, t.settings.DailyGoal),
	}
}

// AddLog records an intake of amount ml at the current time.
func (t *Tracker) AddLog(ctx context.Context, amount int) (domain.WaterLog, error) {
	if amount <= 0 || amount > maxLogAmount {
		return domain.WaterLog{}, ErrInvalidAmount
	}
	t.touch()

	log := domain.WaterLog{
		ID:       uuid.NewString(),
		UserID:   t.userID,
		Amount:   amount,
		LoggedAt: t.now(),
	}
	gen := t.generation()
	if err := t.repo.InsertWaterLog(ctx, &log); err != nil {
		t.notify(domain.LevelError, "Failed to log water intake")
		return domain.WaterLog{}, fmt.Errorf("add log: %w", err)
	}

	if err := t.refreshLogs(ctx, gen); err != nil {
		slog.Warn("Log refresh failed after insert, merging locally", "user_id", t.userID, "error", err)
		t.mu.Lock()
		if !t.closed && gen == t.gen {
			t.logs = append([]domain.WaterLog{log}, t.logs...)
			if len(t.logs) > LogWindow {
				t.logs = t.logs[:LogWindow]
			}
		}
		t.mu.Unlock()
	}

	t.notify(domain.LevelSuccess, fmt.Sprintf("Added %dml to your intake!", amount))
	return log, nil
}

// RemoveLog deletes one of the user's logs.
func (t *Tracker) RemoveLog(ctx context.Context, logID string) error {
	t.touch()
	gen := t.generation()

	deleted, err := t.repo.DeleteWaterLog(ctx, t.userID, logID)
	if err != nil {
		t.notify(domain.LevelError, "Failed to remove log")
		return fmt.Errorf("remove log: %w", err)
	}
	if !deleted {
		return ErrLogNotFound
	}

	if err := t.refreshLogs(ctx, gen); err != nil {
		slog.Warn("Log refresh failed after delete, pruning locally", "user_id", t.userID, "error", err)
		t.mu.Lock()
		if !t.closed && gen == t.gen {
			kept := t.logs[:0:0]
			for _, l := range t.logs {
				if l.ID != logID {
					kept = append(kept, l)
				}
			}
			t.logs = kept
		}
		t.mu.Unlock()
	}

	t.notify(domain.LevelSuccess, "Log removed")
	return nil
}

func (t *Tracker) refreshLogs(ctx context.Context, gen uint64) error {
	logs, err := t.repo.ListWaterLogs(ctx, t.userID, LogWindow)
	if err != nil {
		return err
	}
	t.applyLogs(gen, logs)
	return nil
}

// ValidatePatch checks a settings patch before it is sent to the repository.
func ValidatePatch(patch domain.SettingsPatch) error {
	if patch.IsEmpty() {
		return ErrEmptyPatch
	}
	if patch.DailyGoal != nil && (*patch.DailyGoal < minDailyGoal || *patch.DailyGoal > maxDailyGoal) {
		return ErrInvalidGoal
	}
	if patch.ReminderInterval != nil && (*patch.ReminderInterval < 1 || *patch.ReminderInterval > maxInterval) {
		return ErrInvalidInterval
	}
	return nil
}

// UpdateSettings applies a partial settings update. The local cache is only
// merged after the repository confirms the write.
func (t *Tracker) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.UserSettings, error) {
	if err := ValidatePatch(patch); err != nil {
		return domain.UserSettings{}, err
	}
	t.touch()

	stored, err := t.repo.UpdateSettings(ctx, t.userID, patch)
	if err != nil {
		t.notify(domain.LevelError, "Failed to update settings")
		return t.Settings(), fmt.Errorf("update settings: %w", err)
	}

	t.mu.Lock()
	closed := t.closed
	if !closed {
		t.settings = stored
	}
	merged := t.settings
	t.mu.Unlock()

	if closed {
		return stored, nil
	}

	t.notify(domain.LevelSuccess, "Settings updated!")
	t.emitSettings(merged)
	return merged, nil
}

func (t *Tracker) emitSettings(settings domain.UserSettings) {
	if t.listeners == nil {
		return
	}
	for _, fn := range t.listeners() {
		fn(t.userID, settings)
	}
}

// LogActivityBreak appends an activity break at the current time.
func (t *Tracker) LogActivityBreak(ctx context.Context) (domain.ActivityBreak, error) {
	t.touch()
	b := domain.ActivityBreak{
		ID:      uuid.NewString(),
		UserID:  t.userID,
		BreakAt: t.now(),
	}
	if err := t.repo.InsertActivityBreak(ctx, &b); err != nil {
		t.notify(domain.LevelError, "Failed to log activity break")
		return domain.ActivityBreak{}, fmt.Errorf("log activity break: %w", err)
	}
	t.notify(domain.LevelSuccess, "Activity break logged")
	return b, nil
}

// ActivityBreaks counts breaks over the trailing window of days.
func (t *Tracker) ActivityBreaks(ctx context.Context, days int) (int, error) {
	if days <= 0 || days > 365 {
		return 0, ErrInvalidWindow
	}
	since := t.now().AddDate(0, 0, -days)
	n, err := t.repo.CountActivityBreaks(ctx, t.userID, since)
	if err != nil {
		return 0, fmt.Errorf("count activity breaks: %w", err)
	}
	return n, nil
}

// Streak returns the stored streak without evaluating it.
func (t *Tracker) Streak(ctx context.Context) (int, error) {
	rec, err := t.repo.GetStreak(ctx, t.userID)
	if err != nil {
		return 0, fmt.Errorf("get streak: %w", err)
	}
	if rec == nil {
		return 0, nil
	}
	return rec.Count, nil
}

// EvaluateStreak checks yesterday's total against the goal once per local day.
// Days the user never opened the app are not looked at, so gaps neither reset
// nor decrement the streak.
func (t *Tracker) EvaluateStreak(ctx context.Context) (int, error) {
	t.streakMu.Lock()
	defer t.streakMu.Unlock()

	today := StartOfDay(t.now())
	key := today.Format(time.DateOnly)

	rec, err := t.repo.GetStreak(ctx, t.userID)
	if err != nil {
		return 0, fmt.Errorf("get streak: %w", err)
	}
	current := 0
	if rec != nil {
		if rec.EvaluatedOn == key {
			return rec.Count, nil
		}
		current = rec.Count
	}

	yesterday := today.AddDate(0, 0, -1)
	total, err := t.repo.SumWaterLogs(ctx, t.userID, yesterday, today)
	if err != nil {
		return current, fmt.Errorf("sum yesterday: %w", err)
	}

	next := NextStreak(current, total, t.Settings().DailyGoal)
	if err := t.repo.UpsertStreak(ctx, &domain.Streak{
		UserID:      t.userID,
		Count:       next,
		EvaluatedOn: key,
	}); err != nil {
		return current, fmt.Errorf("save streak: %w", err)
	}
	if next > current {
		slog.Info("Streak extended", "user_id", t.userID, "streak", next, "yesterday_total", total)
	}
	return next, nil
}

func (t *Tracker) notify(level, message string) {
	if t.notifier == nil {
		return
	}
	t.notifier.Notify(t.userID, domain.Toast(level, message))
}
