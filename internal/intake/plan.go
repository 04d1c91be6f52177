package intake

import (
	"context"
	"time"

	"github.com/bowerhall/tally/internal/ledger"
)

// Decision names the branch a unit took; it labels metrics and outcomes.
type Decision string

const (
	DecisionEvidenceAccepted Decision = "evidence_accepted"
	DecisionEvidenceRejected Decision = "evidence_rejected"
	DecisionEvidenceUnlabel  Decision = "evidence_unlabelled"
	DecisionJournal          Decision = "journal_entry"
	DecisionHabitCreated     Decision = "habit_created"
	DecisionHabitRenamed     Decision = "habit_renamed"
	DecisionIgnored          Decision = "ignored"
	DecisionFailed           Decision = "failed"
)

// Plan is what a decision function wants done: at most one ledger mutation
// and a reply. Silent plans send no reply.
type Plan struct {
	Decision Decision
	Mutation Mutation
	Reply    string
	Silent   bool
	Refresh  bool
}

// Mutation is one of RecordEvidence, CreateHabit, RenameHabit or
// AppendJournal.
type Mutation interface {
	apply(ctx context.Context, store ledger.Store, userID int64) error
}

// RecordEvidence credits Event.Score to the linked habit and appends the
// event in one store call. NewHabit is set when no existing habit matched.
type RecordEvidence struct {
	Event    ledger.Event
	NewHabit *ledger.Habit
}

func (m RecordEvidence) apply(ctx context.Context, store ledger.Store, userID int64) error {
	return store.RecordEvidence(ctx, userID, m.Event, m.NewHabit)
}

type CreateHabit struct {
	Habit ledger.Habit
}

func (m CreateHabit) apply(ctx context.Context, store ledger.Store, userID int64) error {
	_, err := store.AddHabitIfAbsent(ctx, userID, m.Habit)
	return err
}

// RenameHabit changes a habit's name and keeps its points. From locates
// habits stored without an id.
type RenameHabit struct {
	HabitID string
	From    string
	To      string
	At      time.Time
}

func (m RenameHabit) apply(ctx context.Context, store ledger.Store, userID int64) error {
	return store.RenameHabit(ctx, userID, m.HabitID, m.From, m.To, m.At)
}

type AppendJournal struct {
	Entry ledger.JournalEntry
}

func (m AppendJournal) apply(ctx context.Context, store ledger.Store, userID int64) error {
	return store.AppendJournalEntry(ctx, userID, m.Entry)
}

// Outcome reports what Handle did with a unit.
type Outcome struct {
	Decision Decision
	Reply    string
	Mutated  bool
	Err      error
}
