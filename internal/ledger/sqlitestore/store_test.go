package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bowerhall/tally/internal/ledger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestEnsureUser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.EnsureUser(ctx, 1, 100, "telegram", now)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if !created {
		t.Error("expected user to be created")
	}

	created, err = store.EnsureUser(ctx, 1, 200, "", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ensure user again: %v", err)
	}
	if created {
		t.Error("expected existing user")
	}

	u, err := store.FindUser(ctx, 1)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if u.ChatID != 200 {
		t.Errorf("expected chat id to follow latest message, got %d", u.ChatID)
	}
	if u.Transport != "telegram" {
		t.Errorf("expected transport to be kept when not given, got %q", u.Transport)
	}
	if len(u.Habits) != 0 || len(u.Events) != 0 || len(u.JournalEntries) != 0 {
		t.Errorf("expected empty ledger, got %+v", u)
	}
}

func TestFindUserMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.FindUser(context.Background(), 99)
	if !errors.Is(err, ledger.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestAddHabitIfAbsent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	habit := ledger.Habit{Name: "run daily", Points: 0, LastActivity: now}

	added, err := store.AddHabitIfAbsent(ctx, 1, habit)
	if err != nil {
		t.Fatalf("add habit: %v", err)
	}
	if !added {
		t.Error("expected habit to be added")
	}

	added, err = store.AddHabitIfAbsent(ctx, 1, habit)
	if err != nil {
		t.Fatalf("add habit again: %v", err)
	}
	if added {
		t.Error("expected duplicate name to be ignored")
	}

	u, err := store.FindUser(ctx, 1)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if len(u.Habits) != 1 {
		t.Fatalf("expected 1 habit, got %d", len(u.Habits))
	}
	if u.Habits[0].Type != ledger.DefaultHabitType {
		t.Errorf("expected default type, got %q", u.Habits[0].Type)
	}
	if u.Habits[0].ID == "" {
		t.Error("expected habit id to be assigned")
	}
}

func TestRecordEvidenceIncrementsExistingHabit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.AddHabitIfAbsent(ctx, 1, ledger.Habit{ID: "h1", Name: "run daily", Points: 4, LastActivity: now})

	ev := ledger.Event{
		Type:      ledger.EventPhoto,
		Timestamp: now.Add(time.Hour),
		Response:  map[string]any{"habit": "run daily", "points": float64(6)},
		Score:     6,
		HabitID:   "h1",
		HabitName: "run daily",
	}
	if err := store.RecordEvidence(ctx, 1, ev, nil); err != nil {
		t.Fatalf("record evidence: %v", err)
	}

	u, _ := store.FindUser(ctx, 1)
	if u.Habits[0].Points != 10 {
		t.Errorf("expected 4+6=10 points, got %d", u.Habits[0].Points)
	}
	if len(u.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(u.Events))
	}

	got := u.Events[0]
	if got.Score != 6 || got.HabitID != "h1" || got.Type != ledger.EventPhoto {
		t.Errorf("unexpected event: %+v", got)
	}
	if diff := cmp.Diff(ev.Response, got.Response); diff != "" {
		t.Errorf("verdict mismatch (-want +got):\n%s", diff)
	}
	if !u.LastActivity.Equal(now.Add(time.Hour)) {
		t.Errorf("expected last activity to move, got %v", u.LastActivity)
	}
}

func TestRecordEvidenceUnknownHabitAppendsNothing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.EnsureUser(ctx, 1, 1, "", now)

	err := store.RecordEvidence(ctx, 1, ledger.Event{Type: ledger.EventPhoto, Score: 3, HabitID: "missing", HabitName: "x", Timestamp: now}, nil)
	if !errors.Is(err, ledger.ErrHabitNotFound) {
		t.Fatalf("expected ErrHabitNotFound, got %v", err)
	}

	events, _ := store.RecentEvents(ctx, 1, 20)
	if len(events) != 0 {
		t.Errorf("expected rollback to leave no events, got %d", len(events))
	}
}

func TestRecordEvidenceCreatesHabit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ev := ledger.Event{Type: ledger.EventPhoto, Timestamp: now, Score: 5, HabitName: "stretch"}
	habit := &ledger.Habit{ID: "h-new", Name: "stretch", Points: 5, LastActivity: now}

	if err := store.RecordEvidence(ctx, 7, ev, habit); err != nil {
		t.Fatalf("record evidence: %v", err)
	}

	u, err := store.FindUser(ctx, 7)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if len(u.Habits) != 1 || u.Habits[0].Points != 5 || u.Habits[0].ID != "h-new" {
		t.Fatalf("unexpected habits: %+v", u.Habits)
	}
	if u.Events[0].HabitID != "h-new" {
		t.Errorf("expected event linked to new habit, got %q", u.Events[0].HabitID)
	}
}

func TestRecordEvidenceNewHabitCollisionFoldsIntoExisting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.AddHabitIfAbsent(ctx, 1, ledger.Habit{ID: "h1", Name: "stretch", Points: 2, LastActivity: now})

	ev := ledger.Event{Type: ledger.EventPhoto, Timestamp: now, Score: 3, HabitName: "stretch"}
	if err := store.RecordEvidence(ctx, 1, ev, &ledger.Habit{Name: "stretch", Points: 3}); err != nil {
		t.Fatalf("record evidence: %v", err)
	}

	u, _ := store.FindUser(ctx, 1)
	if len(u.Habits) != 1 {
		t.Fatalf("expected no duplicate habit, got %d", len(u.Habits))
	}
	if u.Habits[0].Points != 5 {
		t.Errorf("expected 2+3=5, got %d", u.Habits[0].Points)
	}
	if u.Events[0].HabitID != "h1" {
		t.Errorf("expected event linked to existing habit, got %q", u.Events[0].HabitID)
	}
}

func TestRecordEvidenceConcurrentIncrements(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.AddHabitIfAbsent(ctx, 1, ledger.Habit{ID: "h1", Name: "read", LastActivity: now})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := ledger.Event{Type: ledger.EventText, Timestamp: now, Score: 1, HabitID: "h1", HabitName: "read"}
			if err := store.RecordEvidence(ctx, 1, ev, nil); err != nil {
				t.Errorf("record evidence: %v", err)
			}
		}()
	}
	wg.Wait()

	u, _ := store.FindUser(ctx, 1)
	if u.Habits[0].Points != 20 {
		t.Errorf("expected 20 points, got %d", u.Habits[0].Points)
	}
	if len(u.Events) != 20 {
		t.Errorf("expected 20 events, got %d", len(u.Events))
	}
}

func TestRenameHabitKeepsPoints(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.AddHabitIfAbsent(ctx, 1, ledger.Habit{ID: "h1", Name: "run every day", Points: 9, LastActivity: now})

	if err := store.RenameHabit(ctx, 1, "h1", "run every day", "run every day!", now.Add(time.Hour)); err != nil {
		t.Fatalf("rename: %v", err)
	}

	u, _ := store.FindUser(ctx, 1)
	if u.Habits[0].Name != "run every day!" || u.Habits[0].Points != 9 {
		t.Errorf("unexpected habit after rename: %+v", u.Habits[0])
	}

	err := store.RenameHabit(ctx, 1, "nope", "run every day!", "x", now)
	if !errors.Is(err, ledger.ErrHabitNotFound) {
		t.Errorf("expected ErrHabitNotFound, got %v", err)
	}
}

func TestRenameHabitWithoutIDUsesName(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.AddHabitIfAbsent(ctx, 1, ledger.Habit{ID: "h1", Name: "drink more water", Points: 7, LastActivity: now})

	if err := store.RenameHabit(ctx, 1, "", "drink more water", "Drink more water", now); err != nil {
		t.Fatalf("rename by name: %v", err)
	}

	u, _ := store.FindUser(ctx, 1)
	if u.Habits[0].Name != "Drink more water" || u.Habits[0].Points != 7 || u.Habits[0].ID != "h1" {
		t.Errorf("unexpected habit after rename: %+v", u.Habits[0])
	}

	err := store.RenameHabit(ctx, 1, "", "drink more water", "y", now)
	if !errors.Is(err, ledger.ErrHabitNotFound) {
		t.Errorf("expected ErrHabitNotFound for stale name, got %v", err)
	}
}

func TestEnsureUserTransport(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.EnsureUser(ctx, 7, 70, "", now)
	u, _ := store.FindUser(ctx, 7)
	if u.Transport != "" {
		t.Errorf("expected no transport yet, got %q", u.Transport)
	}

	store.EnsureUser(ctx, 7, 70, "discord", now)
	u, _ = store.FindUser(ctx, 7)
	if u.Transport != "discord" {
		t.Errorf("expected discord, got %q", u.Transport)
	}
}

func TestMigrateAddsTransport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open old db: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE users (
		    id INTEGER PRIMARY KEY,
		    chat_id INTEGER NOT NULL DEFAULT 0,
		    last_activity TEXT NOT NULL
		);
		INSERT INTO users (id, chat_id, last_activity) VALUES (3, 30, '2026-03-01T09:00:00Z');`)
	db.Close()
	if err != nil {
		t.Fatalf("seed old schema: %v", err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open migrated store: %v", err)
	}
	defer store.Close()

	u, err := store.FindUser(context.Background(), 3)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if u.ChatID != 30 || u.Transport != "" {
		t.Errorf("unexpected migrated user: %+v", u)
	}
}

func TestAppendJournalEntry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.AppendJournalEntry(ctx, 3, ledger.JournalEntry{Entry: "slept well", Timestamp: now}); err != nil {
		t.Fatalf("append: %v", err)
	}
	store.AppendJournalEntry(ctx, 3, ledger.JournalEntry{Entry: "felt tired", Timestamp: now.Add(time.Hour)})

	u, err := store.FindUser(ctx, 3)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}

	var got []string
	for _, e := range u.JournalEntries {
		got = append(got, e.Entry)
	}
	if diff := cmp.Diff([]string{"slept well", "felt tired"}, got); diff != "" {
		t.Errorf("journal mismatch (-want +got):\n%s", diff)
	}
}

func TestRecentEventsWindow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.AddHabitIfAbsent(ctx, 1, ledger.Habit{ID: "h1", Name: "read", LastActivity: now})
	for i := 1; i <= 25; i++ {
		ev := ledger.Event{Type: ledger.EventText, Timestamp: now.Add(time.Duration(i) * time.Minute), Score: i, HabitID: "h1", HabitName: "read"}
		if err := store.RecordEvidence(ctx, 1, ev, nil); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	events, err := store.RecentEvents(ctx, 1, 20)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 20 {
		t.Fatalf("expected 20 events, got %d", len(events))
	}
	if events[0].Score != 6 || events[19].Score != 25 {
		t.Errorf("expected oldest-first scores 6..25, got %d..%d", events[0].Score, events[19].Score)
	}
}

func TestDistinctHabitNamesAndUserIDs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.AddHabitIfAbsent(ctx, 2, ledger.Habit{Name: "read", LastActivity: now})
	store.AddHabitIfAbsent(ctx, 2, ledger.Habit{Name: "run", LastActivity: now})
	store.AddHabitIfAbsent(ctx, 1, ledger.Habit{Name: "swim", LastActivity: now})

	names, err := store.DistinctHabitNames(ctx, 2)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if diff := cmp.Diff([]string{"read", "run"}, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	ids, err := store.ListUserIDs(ctx)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}
