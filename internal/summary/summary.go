// Package summary renders and pins the per-user points listing. It is a
// derived view; failures never touch the ledger.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bowerhall/tally/internal/chat"
	"github.com/bowerhall/tally/internal/ledger"
)

var ErrRefreshFailed = errors.New("summary refresh failed")

func Format(habits []ledger.Habit) string {
	var sb strings.Builder
	total := 0

	sb.WriteString("Your current points:\n")
	for _, h := range habits {
		fmt.Fprintf(&sb, "%s: %d points\n", h.Name, h.Points)
		total += h.Points
	}
	fmt.Fprintf(&sb, "\nTotal points: %d points", total)

	return sb.String()
}

type Refresher struct {
	store ledger.Store
}

func NewRefresher(store ledger.Store) *Refresher {
	return &Refresher{store: store}
}

// Refresh re-reads the user's habits and sends a freshly pinned summary.
func (r *Refresher) Refresh(ctx context.Context, userID, chatID int64, pinner chat.Messenger) error {
	u, err := r.store.FindUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: load user %d: %v", ErrRefreshFailed, userID, err)
	}

	if err := pinner.SendAndPin(ctx, chatID, Format(u.Habits)); err != nil {
		return fmt.Errorf("%w: pin for chat %d: %v", ErrRefreshFailed, chatID, err)
	}

	return nil
}
