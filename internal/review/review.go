// Package review periodically re-evaluates every user's habits against their
// recent evidence and sends one encouragement message per user when any
// habit is off track.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/bowerhall/tally/internal/chat"
	"github.com/bowerhall/tally/internal/ledger"
	"github.com/bowerhall/tally/internal/logger"
	"github.com/bowerhall/tally/internal/metrics"
	"github.com/bowerhall/tally/internal/oracle"
	"github.com/bowerhall/tally/internal/prompts"
	"github.com/bowerhall/tally/internal/session"
	"github.com/bowerhall/tally/internal/summary"
)

const (
	DefaultWindow      = 20
	DefaultConcurrency = 4

	defaultReason   = "No reason provided"
	defaultReminder = "A few of your habits could use some attention. Small steps count, so send some evidence when you can!"
)

type Classifier interface {
	Classify(ctx context.Context, req oracle.Request) (oracle.Verdict, int, error)
}

type Deps struct {
	Store    ledger.Store
	Oracle   Classifier
	Prompts  *prompts.Catalogue
	Summary  *summary.Refresher
	Sessions *session.Store
}

type Config struct {
	// Window is how many of a habit's most recent events are reviewed.
	Window      int
	Concurrency int
}

type Reviewer struct {
	Deps
	window      int
	concurrency int
}

func New(deps Deps, cfg Config) *Reviewer {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewStore()
	}

	return &Reviewer{Deps: deps, window: cfg.Window, concurrency: cfg.Concurrency}
}

// Result summarises one cycle.
type Result struct {
	Users    int
	Reminded int
	Failed   int
}

type offTrack struct {
	habit  string
	reason string
}

// RunCycle reviews every user. A failure for one user is logged and counted
// but never stops the others; only failing to list users is returned.
func (r *Reviewer) RunCycle(ctx context.Context, out chat.Directory) (Result, error) {
	ids, err := r.Store.ListUserIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list users: %w", err)
	}

	var reminded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			sent, err := r.ReviewUser(gctx, id, out)
			if err != nil {
				failed.Add(1)
				logger.Error("review failed", "user", id, "error", err)
				return nil
			}
			if sent {
				reminded.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	return Result{Users: len(ids), Reminded: int(reminded.Load()), Failed: int(failed.Load())}, nil
}

// ReviewUser asks the oracle about each of the user's habits and, if any is
// off track, sends a single reminder covering all of them. It reports
// whether a reminder was sent. The reminder goes out on the transport the
// user last wrote from.
func (r *Reviewer) ReviewUser(ctx context.Context, userID int64, dir chat.Directory) (bool, error) {
	log := logger.With("user", userID)

	u, err := r.Store.FindUser(ctx, userID)
	if err != nil {
		return false, err
	}

	var behind []offTrack
	for _, h := range u.Habits {
		ok, reason, err := r.onTrack(ctx, h, ledger.EventsForHabit(u.Events, h, r.window))
		if err != nil {
			return false, fmt.Errorf("habit %q: %w", h.Name, err)
		}
		log.Debug("habit reviewed", "habit", h.Name, "on_track", ok)
		if !ok {
			behind = append(behind, offTrack{habit: h.Name, reason: reason})
		}
	}

	if len(behind) == 0 {
		return false, nil
	}

	message, err := r.reminder(ctx, behind)
	if err != nil {
		return false, err
	}

	unlock := r.Sessions.Lock(userID)
	defer unlock()

	out := dir.For(u.Transport)
	chatID := u.ReminderChat()
	if err := out.Send(ctx, chatID, message); err != nil {
		return false, fmt.Errorf("send reminder: %w", err)
	}
	metrics.RemindersSent.Inc()
	log.Info("reminder sent", "off_track", len(behind))

	if err := r.Summary.Refresh(ctx, userID, chatID, out); err != nil {
		log.Warn("summary refresh failed", "error", err)
	}

	return true, nil
}

func (r *Reviewer) onTrack(ctx context.Context, h ledger.Habit, events []ledger.Event) (bool, string, error) {
	if events == nil {
		events = []ledger.Event{}
	}

	data, err := json.Marshal(events)
	if err != nil {
		return false, "", fmt.Errorf("encode events: %w", err)
	}

	prompt, err := r.Prompts.Render(prompts.OnTrack, prompts.OnTrackData{
		Habit:  h.Name,
		Window: r.window,
		Events: string(data),
	})
	if err != nil {
		return false, "", err
	}

	v, _, err := r.Oracle.Classify(ctx, oracle.Request{Prompt: prompt})
	if err != nil {
		return false, "", err
	}

	return v.Bool("is_on_track", false), v.String("reason", defaultReason), nil
}

func (r *Reviewer) reminder(ctx context.Context, behind []offTrack) (string, error) {
	items := make([]string, len(behind))
	for i, b := range behind {
		items[i] = fmt.Sprintf("%s (Reason: %s)", b.habit, b.reason)
	}

	prompt, err := r.Prompts.Render(prompts.Reminder, prompts.ReminderData{Items: strings.Join(items, ", ")})
	if err != nil {
		return "", err
	}

	v, _, err := r.Oracle.Classify(ctx, oracle.Request{Prompt: prompt})
	if err != nil {
		return "", err
	}

	return v.String("message", defaultReminder), nil
}
