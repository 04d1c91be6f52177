// Package progress builds the on-demand progress report.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bowerhall/tally/internal/ledger"
	"github.com/bowerhall/tally/internal/oracle"
	"github.com/bowerhall/tally/internal/prompts"
)

const (
	noHabitsReply = "You don't have any habits yet. Start by adding a new habit!"
	emptyReport   = "No progress report available at the moment."
	reportHeader  = "Here is your progress report:\n"
	reportEntry   = "\nHabit: %s\nProgress: %s\nSuggestions: %s\n"
)

const defaultWindow = 20

type Classifier interface {
	Classify(ctx context.Context, req oracle.Request) (oracle.Verdict, int, error)
}

type Reporter struct {
	store   ledger.Store
	oracle  Classifier
	prompts *prompts.Catalogue
	window  int
}

func New(store ledger.Store, classifier Classifier, catalogue *prompts.Catalogue, window int) *Reporter {
	if window <= 0 {
		window = defaultWindow
	}
	return &Reporter{store: store, oracle: classifier, prompts: catalogue, window: window}
}

// Report returns the text to send back for a progress request. Users
// without habits get an onboarding hint and the oracle is not consulted.
func (r *Reporter) Report(ctx context.Context, userID, chatID int64) (string, error) {
	if _, err := r.store.EnsureUser(ctx, userID, chatID, "", time.Now()); err != nil {
		return "", err
	}

	u, err := r.store.FindUser(ctx, userID)
	if err != nil {
		return "", err
	}

	if len(u.Habits) == 0 {
		return noHabitsReply, nil
	}

	habits, err := json.Marshal(u.Habits)
	if err != nil {
		return "", fmt.Errorf("encode habits: %w", err)
	}

	events, err := json.Marshal(ledger.LastN(u.Events, r.window))
	if err != nil {
		return "", fmt.Errorf("encode events: %w", err)
	}

	prompt, err := r.prompts.Render(prompts.Progress, prompts.ProgressData{
		Habits: string(habits),
		Window: r.window,
		Events: string(events),
	})
	if err != nil {
		return "", err
	}

	verdict, _, err := r.oracle.Classify(ctx, oracle.Request{Prompt: prompt})
	if err != nil {
		return "", err
	}

	return Format(verdict.List("progress_report")), nil
}

func Format(entries []oracle.Verdict) string {
	if len(entries) == 0 {
		return emptyReport
	}

	var sb strings.Builder
	sb.WriteString(reportHeader)
	for _, e := range entries {
		fmt.Fprintf(&sb, reportEntry,
			e.String("habit", "unknown"),
			e.String("progress", "No progress description"),
			e.String("suggestions", "No suggestions"))
	}

	return sb.String()
}
