package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bowerhall/tally/internal/ledger"
	"github.com/bowerhall/tally/internal/ledger/sqlitestore"
	"github.com/bowerhall/tally/internal/oracle"
	"github.com/bowerhall/tally/internal/prompts"
)

type stubOracle struct {
	verdict oracle.Verdict
	err     error
	calls   int
	prompt  string
}

func (s *stubOracle) Classify(_ context.Context, req oracle.Request) (oracle.Verdict, int, error) {
	s.calls++
	s.prompt = req.Prompt
	return s.verdict, 0, s.err
}

func newStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReportWithoutHabits(t *testing.T) {
	store := newStore(t)
	o := &stubOracle{}

	got, err := New(store, o, prompts.Default(), 20).Report(context.Background(), 3, 3)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if got != noHabitsReply {
		t.Errorf("unexpected reply %q", got)
	}
	if o.calls != 0 {
		t.Error("oracle must not be called for users without habits")
	}

	// the command creates the user record
	if _, err := store.FindUser(context.Background(), 3); err != nil {
		t.Errorf("expected user to exist: %v", err)
	}
}

func TestReport(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now()

	store.AddHabitIfAbsent(ctx, 1, ledger.Habit{Name: "run daily", LastActivity: now})
	for i := 0; i < 25; i++ {
		store.RecordEvidence(ctx, 1, ledger.Event{Type: ledger.EventPhoto, Timestamp: now, Score: 1, HabitName: "run daily"}, nil)
	}

	o := &stubOracle{verdict: oracle.Verdict{"progress_report": []any{
		map[string]any{"habit": "run daily", "progress": "Consistent", "suggestions": "Add intervals"},
	}}}

	got, err := New(store, o, prompts.Default(), 20).Report(ctx, 1, 1)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	want := "Here is your progress report:\n\nHabit: run daily\nProgress: Consistent\nSuggestions: Add intervals\n"
	if got != want {
		t.Errorf("Report() =\n%q\nwant\n%q", got, want)
	}
	if !strings.Contains(o.prompt, "last 20 pieces of evidence") {
		t.Errorf("unexpected prompt %q", o.prompt)
	}
	if n := strings.Count(o.prompt, `"type":"photo"`); n != 20 {
		t.Errorf("expected 20 events in the prompt, got %d", n)
	}
}

func TestReportEmptyAndFailure(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	store.AddHabitIfAbsent(ctx, 1, ledger.Habit{Name: "read", LastActivity: time.Now()})

	got, err := New(store, &stubOracle{verdict: oracle.Verdict{}}, prompts.Default(), 20).Report(ctx, 1, 1)
	if err != nil || got != emptyReport {
		t.Errorf("expected empty report, got %q (%v)", got, err)
	}

	down := &stubOracle{err: fmt.Errorf("%w: down", oracle.ErrUnavailable)}
	if _, err := New(store, down, prompts.Default(), 20).Report(ctx, 1, 1); !errors.Is(err, oracle.ErrUnavailable) {
		t.Errorf("expected oracle error, got %v", err)
	}
}

func TestFormatDefaults(t *testing.T) {
	got := Format([]oracle.Verdict{{"habit": "read"}})
	if !strings.Contains(got, "Suggestions: No suggestions") {
		t.Errorf("missing defaults: %q", got)
	}
}
