// Package sqlitestore is an embedded ledger.Store for single-node runs and
// tests. Each mutating call runs in one transaction.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/bowerhall/tally/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    chat_id INTEGER NOT NULL DEFAULT 0,
    transport TEXT NOT NULL DEFAULT '',
    last_activity TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS habits (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    user_id INTEGER NOT NULL REFERENCES users(id),
    name TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'general',
    points INTEGER NOT NULL DEFAULT 0,
    last_activity TEXT NOT NULL,
    UNIQUE(user_id, name)
);

CREATE TABLE IF NOT EXISTS events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    user_id INTEGER NOT NULL REFERENCES users(id),
    type TEXT NOT NULL,
    habit_id TEXT,
    habit_name TEXT NOT NULL,
    score INTEGER NOT NULL,
    response TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id, seq);

CREATE TABLE IF NOT EXISTS journal_entries (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    entry TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_user ON journal_entries(user_id, seq);
`

const timeLayout = time.RFC3339Nano

type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// one connection: in-memory databases are per-connection and writers
	// serialize anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// databases created before users carried a transport
	var has int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('users') WHERE name = 'transport'`).Scan(&has)
	if err != nil {
		return err
	}
	if has == 0 {
		if _, err := s.db.Exec(`ALTER TABLE users ADD COLUMN transport TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add users.transport: %w", err)
		}
	}

	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) EnsureUser(ctx context.Context, userID, chatID int64, transport string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, chat_id, transport, last_activity) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		userID, chatID, transport, formatTime(now))
	if err != nil {
		return false, fmt.Errorf("ensure user %d: %w", userID, err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		return true, nil
	}

	if chatID != 0 {
		if _, err := s.db.ExecContext(ctx, `UPDATE users SET chat_id = ? WHERE id = ?`, chatID, userID); err != nil {
			return false, fmt.Errorf("update chat for user %d: %w", userID, err)
		}
	}

	if transport != "" {
		if _, err := s.db.ExecContext(ctx, `UPDATE users SET transport = ? WHERE id = ?`, transport, userID); err != nil {
			return false, fmt.Errorf("update transport for user %d: %w", userID, err)
		}
	}

	return false, nil
}

func (s *Store) FindUser(ctx context.Context, userID int64) (*ledger.User, error) {
	var u ledger.User
	var lastActivity string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, transport, last_activity FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.ChatID, &u.Transport, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %d: %w", userID, err)
	}
	u.LastActivity = parseTime(lastActivity)

	if u.Habits, err = s.habits(ctx, userID); err != nil {
		return nil, err
	}

	if u.Events, err = s.events(ctx, userID, 0); err != nil {
		return nil, err
	}

	if u.JournalEntries, err = s.journal(ctx, userID); err != nil {
		return nil, err
	}

	return &u, nil
}

func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (s *Store) RecentEvents(ctx context.Context, userID int64, n int) ([]ledger.Event, error) {
	return s.events(ctx, userID, n)
}

func (s *Store) DistinctHabitNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT name FROM habits WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("habit names for user %d: %w", userID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

func (s *Store) RecordEvidence(ctx context.Context, userID int64, ev ledger.Event, newHabit *ledger.Habit) error {
	response, err := json.Marshal(ev.Response)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	at := formatTime(ev.Timestamp)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertUserTx(ctx, tx, userID, ev.Timestamp); err != nil {
		return err
	}

	if newHabit != nil {
		habitID := newHabit.ID
		if habitID == "" {
			habitID = uuid.NewString()
		}

		// a habit that already carries this exact name absorbs the points
		// instead of being duplicated
		err := tx.QueryRowContext(ctx, `
			INSERT INTO habits (id, user_id, name, type, points, last_activity)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, name) DO UPDATE SET
				points = points + excluded.points,
				last_activity = excluded.last_activity
			RETURNING id, name`,
			habitID, userID, newHabit.Name, habitType(newHabit.Type), newHabit.Points, at).
			Scan(&ev.HabitID, &ev.HabitName)
		if err != nil {
			return fmt.Errorf("create habit %q: %w", newHabit.Name, err)
		}
	} else {
		var res sql.Result
		if ev.HabitID != "" {
			res, err = tx.ExecContext(ctx, `
				UPDATE habits SET points = points + ?, last_activity = ?
				WHERE user_id = ? AND id = ?`,
				ev.Score, at, userID, ev.HabitID)
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE habits SET points = points + ?, last_activity = ?
				WHERE user_id = ? AND name = ?`,
				ev.Score, at, userID, ev.HabitName)
		}
		if err != nil {
			return fmt.Errorf("increment habit %q: %w", ev.HabitName, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("increment habit %q: %w", ev.HabitName, ledger.ErrHabitNotFound)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, user_id, type, habit_id, habit_name, score, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, userID, string(ev.Type), nullable(ev.HabitID), ev.HabitName, ev.Score, string(response), at)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	return tx.Commit()
}

func (s *Store) AddHabitIfAbsent(ctx context.Context, userID int64, habit ledger.Habit) (bool, error) {
	if habit.ID == "" {
		habit.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if err := upsertUserTx(ctx, tx, userID, habit.LastActivity); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO habits (id, user_id, name, type, points, last_activity)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO NOTHING`,
		habit.ID, userID, habit.Name, habitType(habit.Type), habit.Points, formatTime(habit.LastActivity))
	if err != nil {
		return false, fmt.Errorf("add habit %q: %w", habit.Name, err)
	}

	n, _ := res.RowsAffected()

	return n > 0, tx.Commit()
}

func (s *Store) RenameHabit(ctx context.Context, userID int64, habitID, from, to string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `UPDATE habits SET name = ?, last_activity = ? WHERE user_id = ? AND id = ?`
	key := habitID
	if habitID == "" {
		query = `UPDATE habits SET name = ?, last_activity = ? WHERE user_id = ? AND name = ?`
		key = from
	}

	res, err := tx.ExecContext(ctx, query, to, formatTime(now), userID, key)
	if err != nil {
		return fmt.Errorf("rename habit %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rename habit %q: %w", key, ledger.ErrHabitNotFound)
	}

	if err := upsertUserTx(ctx, tx, userID, now); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) AppendJournalEntry(ctx context.Context, userID int64, entry ledger.JournalEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertUserTx(ctx, tx, userID, entry.Timestamp); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO journal_entries (user_id, entry, created_at) VALUES (?, ?, ?)`,
		userID, entry.Entry, formatTime(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}

	return tx.Commit()
}

// upsertUserTx creates the user if needed and bumps last_activity.
func upsertUserTx(ctx context.Context, tx *sql.Tx, userID int64, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, last_activity) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET last_activity = excluded.last_activity`,
		userID, formatTime(now))
	if err != nil {
		return fmt.Errorf("touch user %d: %w", userID, err)
	}
	return nil
}

func (s *Store) habits(ctx context.Context, userID int64) ([]ledger.Habit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, points, last_activity
		FROM habits WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("habits for user %d: %w", userID, err)
	}
	defer rows.Close()

	habits := []ledger.Habit{}
	for rows.Next() {
		var h ledger.Habit
		var lastActivity string
		if err := rows.Scan(&h.ID, &h.Name, &h.Type, &h.Points, &lastActivity); err != nil {
			return nil, err
		}
		h.LastActivity = parseTime(lastActivity)
		habits = append(habits, h)
	}

	return habits, rows.Err()
}

// events returns the user's events oldest first; n > 0 keeps only the last n.
func (s *Store) events(ctx context.Context, userID int64, n int) ([]ledger.Event, error) {
	limit := -1
	if n > 0 {
		limit = n
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, habit_id, habit_name, score, response, created_at FROM (
			SELECT seq, id, type, habit_id, habit_name, score, response, created_at
			FROM events WHERE user_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("events for user %d: %w", userID, err)
	}
	defer rows.Close()

	events := []ledger.Event{}
	for rows.Next() {
		var ev ledger.Event
		var evType, response, createdAt string
		var habitID sql.NullString

		if err := rows.Scan(&ev.ID, &evType, &habitID, &ev.HabitName, &ev.Score, &response, &createdAt); err != nil {
			return nil, err
		}

		ev.Type = ledger.EventType(evType)
		ev.HabitID = habitID.String
		ev.Timestamp = parseTime(createdAt)
		if err := json.Unmarshal([]byte(response), &ev.Response); err != nil {
			return nil, fmt.Errorf("decode verdict of event %s: %w", ev.ID, err)
		}

		events = append(events, ev)
	}

	return events, rows.Err()
}

func (s *Store) journal(ctx context.Context, userID int64) ([]ledger.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry, created_at FROM journal_entries
		WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("journal for user %d: %w", userID, err)
	}
	defer rows.Close()

	entries := []ledger.JournalEntry{}
	for rows.Next() {
		var e ledger.JournalEntry
		var createdAt string
		if err := rows.Scan(&e.Entry, &createdAt); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(createdAt)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func habitType(t string) string {
	if t == "" {
		return ledger.DefaultHabitType
	}
	return t
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
