package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrHabitNotFound = errors.New("habit not found")
)

const DefaultHabitType = "general"

type EventType string

const (
	EventPhoto EventType = "photo"
	EventText  EventType = "text"
)

// User is the ledger of one chat identity: its habits, evidence log and
// journal. Events and journal entries are append-only.
type User struct {
	ID             int64          `bson:"user_id" json:"user_id"`
	ChatID         int64          `bson:"chat_id,omitempty" json:"chat_id,omitempty"`
	Transport      string         `bson:"transport,omitempty" json:"transport,omitempty"`
	Habits         []Habit        `bson:"habits" json:"habits"`
	Events         []Event        `bson:"events" json:"events"`
	JournalEntries []JournalEntry `bson:"journal_entries" json:"journal_entries"`
	LastActivity   time.Time      `bson:"last_activity" json:"last_activity"`
}

type Habit struct {
	ID           string    `bson:"id,omitempty" json:"id,omitempty"`
	Name         string    `bson:"name" json:"name"`
	Type         string    `bson:"type,omitempty" json:"type,omitempty"`
	Points       int       `bson:"points" json:"points"`
	LastActivity time.Time `bson:"last_activity" json:"last_activity"`
}

// Event is one piece of evidence. HabitName is the habit's name when the
// event was appended and is never rewritten; HabitID survives renames.
type Event struct {
	ID        string         `bson:"id,omitempty" json:"id,omitempty"`
	Type      EventType      `bson:"type" json:"type"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	Response  map[string]any `bson:"response" json:"response"`
	Score     int            `bson:"score" json:"score"`
	HabitID   string         `bson:"habit_id,omitempty" json:"habit_id,omitempty"`
	HabitName string         `bson:"habit_name" json:"habit_name"`
}

type JournalEntry struct {
	Entry     string    `bson:"entry" json:"entry"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Store is the narrow contract the service needs from the document store.
// Writes are upserts: a missing user document is never an error at write
// time.
type Store interface {
	// EnsureUser creates the user with empty lists if absent and records the
	// chat and transport it last wrote from; zero values leave them as they
	// are. It reports whether the user was created.
	EnsureUser(ctx context.Context, userID, chatID int64, transport string, now time.Time) (bool, error)
	FindUser(ctx context.Context, userID int64) (*User, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
	RecentEvents(ctx context.Context, userID int64, n int) ([]Event, error)
	DistinctHabitNames(ctx context.Context, userID int64) ([]string, error)

	// RecordEvidence increments the points of the habit named by ev and
	// appends ev as one atomic step. When newHabit is set the habit is
	// created with newHabit.Points instead; if a habit with the same name
	// already exists the points are added to it.
	RecordEvidence(ctx context.Context, userID int64, ev Event, newHabit *Habit) error
	AddHabitIfAbsent(ctx context.Context, userID int64, habit Habit) (bool, error)
	// RenameHabit renames the habit with habitID, keeping its points. Habits
	// stored without an id are found by their current name, from, and are
	// given an id on the way.
	RenameHabit(ctx context.Context, userID int64, habitID, from, to string, now time.Time) error
	AppendJournalEntry(ctx context.Context, userID int64, entry JournalEntry) error

	Close() error
}
