package hydration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
)

// Service owns one Tracker per active user.
type Service struct {
	repo     Repository
	notifier Notifier
	clock    func() time.Time
	loc      *time.Location
	present  func(userID string) bool

	mu        sync.Mutex
	trackers  map[string]*Tracker
	listeners []SettingsListener
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// WithLocation sets the zone whose calendar days bound "today".
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithPresence keeps trackers of users with a live view out of PruneIdle.
func WithPresence(present func(userID string) bool) ServiceOption {
	return func(s *Service) { s.present = present }
}

// NewService creates a tracker service. notifier may be nil.
func NewService(repo Repository, notifier Notifier, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		notifier: notifier,
		clock:    time.Now,
		loc:      time.Local,
		trackers: make(map[string]*Tracker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnSettingsChange registers fn to run whenever a user's settings are first
// loaded or confirmed changed.
func (s *Service) OnSettingsChange(fn SettingsListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) settingsListeners() []SettingsListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SettingsListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

// Tracker returns the loaded tracker for userID, creating it on first use.
func (s *Service) Tracker(ctx context.Context, userID string) (*Tracker, error) {
	s.mu.Lock()
	t, ok := s.trackers[userID]
	if !ok {
		t = newTracker(userID, s.repo, s.notifier, s.clock, s.loc, s.settingsListeners)
		s.trackers[userID] = t
	}
	s.mu.Unlock()

	first, err := t.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	if first {
		slog.Debug("Tracker loaded", "user_id", userID)
		t.emitSettings(t.Settings())
	}
	t.touch()
	return t, nil
}

// Settings loads the user's tracker and returns its settings.
func (s *Service) Settings(ctx context.Context, userID string) (domain.UserSettings, error) {
	t, err := s.Tracker(ctx, userID)
	if err != nil {
		return domain.UserSettings{}, err
	}
	return t.Settings(), nil
}

// Lookup returns the tracker for userID if one is active.
func (s *Service) Lookup(userID string) (*Tracker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[userID]
	return t, ok
}

// Evict closes and forgets the tracker for userID.
func (s *Service) Evict(userID string) {
	s.mu.Lock()
	t, ok := s.trackers[userID]
	delete(s.trackers, userID)
	s.mu.Unlock()
	if ok {
		t.Close()
	}
}

// PruneIdle evicts trackers unused for longer than ttl and returns their user
// IDs. Users with a live view are kept however long they have been idle.
func (s *Service) PruneIdle(ttl time.Duration) []string {
	cutoff := s.clock().Add(-ttl)

	s.mu.Lock()
	var evicted []*Tracker
	for id, t := range s.trackers {
		if t.idleSince().Before(cutoff) && (s.present == nil || !s.present(id)) {
			evicted = append(evicted, t)
			delete(s.trackers, id)
		}
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(evicted))
	for _, t := range evicted {
		t.Close()
		ids = append(ids, t.userID)
	}
	return ids
}

// Active returns the number of live trackers.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trackers)
}

// Close tears down every tracker.
func (s *Service) Close() {
	s.mu.Lock()
	trackers := s.trackers
	s.trackers = make(map[string]*Tracker)
	s.mu.Unlock()
	for _, t := range trackers {
		t.Close()
	}
}
