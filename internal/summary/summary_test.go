package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bowerhall/tally/internal/chat/chattest"
	"github.com/bowerhall/tally/internal/ledger"
	"github.com/bowerhall/tally/internal/ledger/sqlitestore"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name   string
		habits []ledger.Habit
		want   string
	}{
		{"empty", nil, "Your current points:\n\nTotal points: 0 points"},
		{
			"single",
			[]ledger.Habit{{Name: "I want to run every day", Points: 0}},
			"Your current points:\nI want to run every day: 0 points\n\nTotal points: 0 points",
		},
		{
			"negative points count toward total",
			[]ledger.Habit{{Name: "run", Points: 6}, {Name: "no sugar", Points: -4}},
			"Your current points:\nrun: 6 points\nno sugar: -4 points\n\nTotal points: 2 points",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.habits); got != tt.want {
				t.Errorf("Format() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	store.EnsureUser(ctx, 5, 50, "", now)
	store.AddHabitIfAbsent(ctx, 5, ledger.Habit{Name: "read", Points: 3, LastActivity: now})

	out := &chattest.Recorder{}
	r := NewRefresher(store)

	if err := r.Refresh(ctx, 5, 50, out); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	pins := out.Pins()
	if len(pins) != 1 || pins[0].ChatID != 50 {
		t.Fatalf("expected one pin in chat 50, got %+v", pins)
	}
	if pins[0].Text != "Your current points:\nread: 3 points\n\nTotal points: 3 points" {
		t.Errorf("unexpected summary %q", pins[0].Text)
	}
}

func TestRefreshFailures(t *testing.T) {
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	r := NewRefresher(store)

	if err := r.Refresh(ctx, 404, 1, &chattest.Recorder{}); !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("expected ErrRefreshFailed for missing user, got %v", err)
	}

	store.EnsureUser(ctx, 1, 1, "", time.Now())
	if err := r.Refresh(ctx, 1, 1, &chattest.Recorder{FailPins: true}); !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("expected ErrRefreshFailed for pin failure, got %v", err)
	}
}
