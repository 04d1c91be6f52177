// Package intake turns one inbound chat unit into at most one ledger
// mutation plus a reply, followed by a summary refresh and a webhook.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bowerhall/tally/internal/alerts"
	"github.com/bowerhall/tally/internal/chat"
	"github.com/bowerhall/tally/internal/ledger"
	"github.com/bowerhall/tally/internal/logger"
	"github.com/bowerhall/tally/internal/metrics"
	"github.com/bowerhall/tally/internal/oracle"
	"github.com/bowerhall/tally/internal/prompts"
	"github.com/bowerhall/tally/internal/session"
	"github.com/bowerhall/tally/internal/similarity"
	"github.com/bowerhall/tally/internal/storage"
	"github.com/bowerhall/tally/internal/summary"
)

const (
	DefaultAcceptThreshold = -10
	DefaultContextWindow   = 20
)

type Classifier interface {
	Classify(ctx context.Context, req oracle.Request) (oracle.Verdict, int, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignedGet(ctx context.Context, key string) (string, error)
}

type Notifier interface {
	Send(ctx context.Context, u ledger.User) error
}

type Deps struct {
	Store    ledger.Store
	Oracle   Classifier
	Blobs    BlobStore // nil refuses photos
	Prompts  *prompts.Catalogue
	Summary  *summary.Refresher
	Sessions *session.Store

	// optional
	Webhook Notifier
	Alerts  *alerts.Alerter
}

type Config struct {
	// AcceptThreshold: evidence scoring strictly above it is credited.
	AcceptThreshold int
	ContextWindow   int
	Matcher         similarity.Matcher
	// Location dates the evidence prompt; defaults to UTC.
	Location *time.Location
}

type Reconciler struct {
	Deps
	policy policy
	window int
	now    func() time.Time
}

func New(deps Deps, cfg Config) *Reconciler {
	window := cfg.ContextWindow
	if window <= 0 {
		window = DefaultContextWindow
	}

	matcher := cfg.Matcher
	if matcher.Threshold == 0 {
		matcher = similarity.New(similarity.DefaultThreshold)
	}

	if deps.Sessions == nil {
		deps.Sessions = session.NewStore()
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Reconciler{
		Deps: deps,
		policy: policy{
			acceptThreshold: cfg.AcceptThreshold,
			matcher:         matcher,
			newID:           uuid.NewString,
		},
		window: window,
		now:    func() time.Time { return time.Now().In(loc) },
	}
}

// snapshot is the ledger context a unit is decided against.
type snapshot struct {
	habits []ledger.Habit
	names  []string
	events []ledger.Event
}

// Handle reconciles one unit and replies through out. The user always gets
// a reply except for units classified as plain chat.
func (r *Reconciler) Handle(ctx context.Context, unit chat.Unit, out chat.Messenger) Outcome {
	unlock := r.Sessions.Lock(unit.UserID)
	defer unlock()

	path := "text"
	if unit.IsPhoto() {
		path = "photo"
	}

	plan, err := r.decide(ctx, unit)
	if err != nil {
		return r.fail(ctx, unit, out, path, err)
	}

	outcome := Outcome{Decision: plan.Decision, Reply: plan.Reply}

	if plan.Mutation != nil {
		if err := plan.Mutation.apply(ctx, r.Store, unit.UserID); err != nil {
			return r.fail(ctx, unit, out, path, err)
		}
		outcome.Mutated = true

		if m, ok := plan.Mutation.(RecordEvidence); ok && m.Event.Score > 0 {
			metrics.PointsAwarded.Add(float64(m.Event.Score))
		}
	}

	metrics.IntakeOutcomes.WithLabelValues(path, string(plan.Decision)).Inc()
	logger.Debug("unit reconciled", "user", unit.UserID, "path", path, "decision", plan.Decision)

	if !plan.Silent && plan.Reply != "" {
		if err := out.Send(ctx, unit.ChatID, plan.Reply); err != nil {
			logger.Error("failed to send reply", "user", unit.UserID, "error", err)
		}
	}

	if plan.Refresh {
		if err := r.Summary.Refresh(ctx, unit.UserID, unit.ChatID, out); err != nil {
			logger.Warn("summary refresh failed", "user", unit.UserID, "error", err)
		}
	}

	if outcome.Mutated {
		r.notify(ctx, unit.UserID)
	}

	return outcome
}

func (r *Reconciler) decide(ctx context.Context, unit chat.Unit) (Plan, error) {
	now := r.now()

	if _, err := r.Store.EnsureUser(ctx, unit.UserID, unit.ChatID, unit.Transport, now); err != nil {
		return Plan{}, err
	}

	snap, err := r.load(ctx, unit.UserID)
	if err != nil {
		return Plan{}, err
	}

	if unit.IsPhoto() {
		return r.photo(ctx, unit, snap, now)
	}
	return r.text(ctx, unit, snap, now)
}

func (r *Reconciler) load(ctx context.Context, userID int64) (snapshot, error) {
	u, err := r.Store.FindUser(ctx, userID)
	if err != nil {
		return snapshot{}, err
	}

	names, err := r.Store.DistinctHabitNames(ctx, userID)
	if err != nil {
		return snapshot{}, err
	}

	events, err := r.Store.RecentEvents(ctx, userID, r.window)
	if err != nil {
		return snapshot{}, err
	}

	return snapshot{habits: u.Habits, names: names, events: events}, nil
}

func (r *Reconciler) photo(ctx context.Context, unit chat.Unit, snap snapshot, now time.Time) (Plan, error) {
	if r.Blobs == nil {
		return Plan{}, fmt.Errorf("%w: object storage not configured", storage.ErrUploadFailed)
	}

	p := unit.Photo
	key := storage.ObjectKey(unit.UserID, p.FileID, p.Data, p.MediaType)

	// the oracle must never see a reference to an object that was not stored
	if err := r.Blobs.Put(ctx, key, p.Data, p.MediaType); err != nil {
		return Plan{}, err
	}

	ref := &oracle.Photo{Data: p.Data, MediaType: p.MediaType}
	if url, err := r.Blobs.PresignedGet(ctx, key); err != nil {
		logger.Warn("presign failed, sending photo inline", "key", key, "error", err)
	} else {
		ref.URL = url
	}

	prompt, err := r.Prompts.Render(prompts.Evidence, prompts.EvidenceData{
		Kind:   "photo",
		Window: r.window,
		Date:   now.Format("January 02, 2006"),
	})
	if err != nil {
		return Plan{}, err
	}

	verdict, score, err := r.Oracle.Classify(ctx, oracle.Request{
		Prompt: prompt,
		Photo:  ref,
		Habits: snap.names,
		Events: snap.events,
	})
	if err != nil {
		return Plan{}, err
	}

	return r.policy.evidence(verdict, score, snap.habits, ledger.EventPhoto, now), nil
}

func (r *Reconciler) text(ctx context.Context, unit chat.Unit, snap snapshot, now time.Time) (Plan, error) {
	prompt, err := r.Prompts.Render(prompts.Classify, prompts.ClassifyData{Text: unit.Text})
	if err != nil {
		return Plan{}, err
	}

	verdict, _, err := r.Oracle.Classify(ctx, oracle.Request{
		Prompt: prompt,
		Habits: snap.names,
		Events: snap.events,
	})
	if err != nil {
		return Plan{}, err
	}

	switch kind := verdict.String("type", ""); kind {
	case kindJournal:
		return journal(unit.Text, now), nil
	case kindNewHabit:
		return r.policy.newHabit(unit.Text, snap.habits, now), nil
	case kindHabitEvidence:
		return r.textEvidence(ctx, unit, snap, now)
	case kindChatMessage, kindChatCommand:
		return ignored(), nil
	default:
		logger.Debug("unrecognised classification", "user", unit.UserID, "type", kind)
		return ignored(), nil
	}
}

// textEvidence scores a written progress report the same way as a photo.
func (r *Reconciler) textEvidence(ctx context.Context, unit chat.Unit, snap snapshot, now time.Time) (Plan, error) {
	prompt, err := r.Prompts.Render(prompts.Evidence, prompts.EvidenceData{
		Kind:   "report",
		Text:   unit.Text,
		Window: r.window,
		Date:   now.Format("January 02, 2006"),
	})
	if err != nil {
		return Plan{}, err
	}

	verdict, score, err := r.Oracle.Classify(ctx, oracle.Request{
		Prompt: prompt,
		Habits: snap.names,
		Events: snap.events,
	})
	if err != nil {
		return Plan{}, err
	}

	plan := r.policy.evidence(verdict, score, snap.habits, ledger.EventText, now)
	plan.Refresh = true
	return plan, nil
}

func (r *Reconciler) fail(ctx context.Context, unit chat.Unit, out chat.Messenger, path string, err error) Outcome {
	reply := failureReply

	switch {
	case errors.Is(err, storage.ErrUploadFailed):
		reply = uploadReply
	case errors.Is(err, oracle.ErrUnavailable), errors.Is(err, oracle.ErrMalformedResponse):
		r.Alerts.Critical("oracle", "retries exhausted", err)
	}

	logger.Error("failed to reconcile unit", "user", unit.UserID, "path", path, "error", err)
	metrics.IntakeOutcomes.WithLabelValues(path, string(DecisionFailed)).Inc()

	if sendErr := out.Send(ctx, unit.ChatID, reply); sendErr != nil {
		logger.Error("failed to send failure reply", "user", unit.UserID, "error", sendErr)
	}

	return Outcome{Decision: DecisionFailed, Reply: reply, Err: err}
}

func (r *Reconciler) notify(ctx context.Context, userID int64) {
	if r.Webhook == nil {
		return
	}

	u, err := r.Store.FindUser(ctx, userID)
	if err != nil {
		logger.Warn("webhook skipped, user reload failed", "user", userID, "error", err)
		return
	}

	if err := r.Webhook.Send(ctx, *u); err != nil {
		logger.Warn("webhook delivery failed", "user", userID, "error", err)
	}
}
