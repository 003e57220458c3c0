package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestWaterLogsScopedByUser(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	for i, amount := range []int{250, 500, 750} {
		err := repo.InsertWaterLog(ctx, &domain.WaterLog{
			ID:       "log-" + string(rune('a'+i)),
			UserID:   "alice",
			Amount:   amount,
			LoggedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("InsertWaterLog failed: %v", err)
		}
	}
	if err := repo.InsertWaterLog(ctx, &domain.WaterLog{ID: "bob-1", UserID: "bob", Amount: 1000, LoggedAt: base}); err != nil {
		t.Fatalf("InsertWaterLog failed: %v", err)
	}

	logs, err := repo.ListWaterLogs(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("ListWaterLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs with limit, got %d", len(logs))
	}
	if logs[0].Amount != 750 || logs[1].Amount != 500 {
		t.Errorf("expected newest first, got %d then %d", logs[0].Amount, logs[1].Amount)
	}
	if !logs[0].LoggedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("logged_at round trip mismatch: %v", logs[0].LoggedAt)
	}

	deleted, err := repo.DeleteWaterLog(ctx, "bob", "log-a")
	if err != nil {
		t.Fatalf("DeleteWaterLog failed: %v", err)
	}
	if deleted {
		t.Error("expected delete scoped to owner to affect no rows")
	}

	deleted, err = repo.DeleteWaterLog(ctx, "alice", "log-a")
	if err != nil || !deleted {
		t.Fatalf("expected owner delete to succeed, deleted=%v err=%v", deleted, err)
	}

	total, err := repo.SumWaterLogs(ctx, "alice", base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("SumWaterLogs failed: %v", err)
	}
	if total != 1250 {
		t.Errorf("expected 1250 after delete, got %d", total)
	}
}

func TestSumWaterLogsHalfOpenRange(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_ = repo.InsertWaterLog(ctx, &domain.WaterLog{ID: "1", UserID: "u", Amount: 100, LoggedAt: day})
	_ = repo.InsertWaterLog(ctx, &domain.WaterLog{ID: "2", UserID: "u", Amount: 200, LoggedAt: day.Add(24 * time.Hour)})

	total, err := repo.SumWaterLogs(ctx, "u", day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("SumWaterLogs failed: %v", err)
	}
	if total != 100 {
		t.Errorf("expected only the in-range log, got %d", total)
	}
}

func TestUpdateSettingsSeedsDefaultsAndPatches(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	got, err := repo.GetSettings(ctx, "u")
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no settings row yet, got %+v", got)
	}

	goal := 3000
	updated, err := repo.UpdateSettings(ctx, "u", domain.SettingsPatch{DailyGoal: &goal})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	want := domain.DefaultSettings()
	want.DailyGoal = 3000
	if updated != want {
		t.Errorf("expected %+v, got %+v", want, updated)
	}

	off := false
	updated, err = repo.UpdateSettings(ctx, "u", domain.SettingsPatch{ReminderEnabled: &off})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if updated.ReminderEnabled || updated.DailyGoal != 3000 {
		t.Errorf("expected goal kept and reminders off, got %+v", updated)
	}
}

func TestActivityBreaksCountSince(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i, ago := range []time.Duration{time.Hour, 3 * 24 * time.Hour, 9 * 24 * time.Hour} {
		err := repo.InsertActivityBreak(ctx, &domain.ActivityBreak{
			ID:      string(rune('a' + i)),
			UserID:  "u",
			BreakAt: now.Add(-ago),
		})
		if err != nil {
			t.Fatalf("InsertActivityBreak failed: %v", err)
		}
	}

	n, err := repo.CountActivityBreaks(ctx, "u", now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("CountActivityBreaks failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 breaks in window, got %d", n)
	}
}

func TestStreakAndPreferencesRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	if err := repo.UpsertStreak(ctx, &domain.Streak{UserID: "u", Count: 4, EvaluatedOn: "2026-03-10"}); err != nil {
		t.Fatalf("UpsertStreak failed: %v", err)
	}
	streak, err := repo.GetStreak(ctx, "u")
	if err != nil || streak == nil {
		t.Fatalf("GetStreak failed: %v", err)
	}
	if streak.Count != 4 || streak.EvaluatedOn != "2026-03-10" {
		t.Errorf("unexpected streak %+v", streak)
	}

	if err := repo.SetPreferences(ctx, "u", map[string]string{"theme": "secondary", "model": "gpt-4o"}); err != nil {
		t.Fatalf("SetPreferences failed: %v", err)
	}
	if err := repo.SetPreferences(ctx, "u", map[string]string{"model": ""}); err != nil {
		t.Fatalf("SetPreferences failed: %v", err)
	}
	prefs, err := repo.GetPreferences(ctx, "u")
	if err != nil {
		t.Fatalf("GetPreferences failed: %v", err)
	}
	if prefs["theme"] != "secondary" {
		t.Errorf("expected theme secondary, got %q", prefs["theme"])
	}
	if _, ok := prefs["model"]; ok {
		t.Error("expected empty value to delete the key")
	}
}

func TestSetPreferencesIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	db := repo.(*SQLStore).db

	if _, err := db.Exec(`
		CREATE TRIGGER reject_theme BEFORE INSERT ON preferences
		WHEN NEW.pref_key = 'theme'
		BEGIN SELECT RAISE(ABORT, 'theme rejected'); END;`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	// "model" sorts first, so it is written before the failing key.
	err := repo.SetPreferences(ctx, "u", map[string]string{"model": "gpt-4o", "theme": "secondary"})
	if err == nil {
		t.Fatal("expected the rejected key to fail the write")
	}

	prefs, err := repo.GetPreferences(ctx, "u")
	if err != nil {
		t.Fatalf("GetPreferences failed: %v", err)
	}
	if len(prefs) != 0 {
		t.Errorf("expected nothing persisted from a failed write, got %v", prefs)
	}

	if _, err := repo.UpdateSettings(ctx, "u", domain.SettingsPatch{}); err != nil {
		t.Fatalf("store unusable after rollback: %v", err)
	}
}

func TestRebindPostgresPlaceholders(t *testing.T) {
	s := &SQLStore{dialect: dialectPostgres}
	got := s.rebind("SELECT a FROM t WHERE x = ? AND y = ?")
	if got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Errorf("unexpected rebind result %q", got)
	}
}
