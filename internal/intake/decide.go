package intake

import (
	"fmt"
	"strings"
	"time"

	"github.com/bowerhall/tally/internal/ledger"
	"github.com/bowerhall/tally/internal/oracle"
	"github.com/bowerhall/tally/internal/similarity"
)

const (
	acceptedReply   = "Evidence received and processed. Your points have been updated by %d points."
	rejectedReply   = "The %s does not seem to be valid evidence for your habit."
	unlabelledReply = "I couldn't tell which habit this is evidence for. Could you tell me which habit you're working on?"
	journalReply    = "Journal entry received. Keep up the good work!"
	renamedReply    = "Updated your habit to: %s. Please send evidence of your progress or journal your activities."
	createdReply    = "Got it! I'll help you stay accountable for: %s. Please send evidence of your progress or journal your activities."
	failureReply    = "Sorry, something went wrong while processing that. Please try again in a moment."
	uploadReply     = "Sorry, I couldn't save that photo. Please try sending it again."
)

// Text classifications returned by the oracle.
const (
	kindJournal       = "journal_entry"
	kindNewHabit      = "new_habit"
	kindHabitEvidence = "habit_evidence"
	kindChatMessage   = "chat_message"
	kindChatCommand   = "chat_command"
)

// policy holds the pure decision rules; it performs no I/O.
type policy struct {
	acceptThreshold int
	matcher         similarity.Matcher
	newID           func() string
}

// evidence decides what a scored piece of evidence does to the ledger.
// Scores at or below the threshold are rejected without a mutation.
func (p policy) evidence(v oracle.Verdict, score int, habits []ledger.Habit, kind ledger.EventType, now time.Time) Plan {
	message := strings.TrimSpace(v.String("message", ""))

	if score <= p.acceptThreshold {
		return Plan{
			Decision: DecisionEvidenceRejected,
			Reply:    withMessage(fmt.Sprintf(rejectedReply, evidenceNoun(kind)), " ", message),
		}
	}

	label := strings.TrimSpace(v.String("habit", ""))
	if label == "" {
		return Plan{Decision: DecisionEvidenceUnlabel, Reply: unlabelledReply}
	}

	ev := ledger.Event{
		ID:        p.newID(),
		Type:      kind,
		Timestamp: now,
		Response:  map[string]any(v),
		Score:     score,
	}

	mutation := RecordEvidence{Event: ev}

	if _, idx, ok := p.matcher.Match(label, names(habits)); ok {
		matched := habits[idx]
		mutation.Event.HabitID = matched.ID
		mutation.Event.HabitName = matched.Name
	} else {
		h := ledger.Habit{
			ID:           p.newID(),
			Name:         label,
			Type:         ledger.DefaultHabitType,
			Points:       score,
			LastActivity: now,
		}
		mutation.Event.HabitID = h.ID
		mutation.Event.HabitName = h.Name
		mutation.NewHabit = &h
	}

	return Plan{
		Decision: DecisionEvidenceAccepted,
		Mutation: mutation,
		Reply:    withMessage(fmt.Sprintf(acceptedReply, score), "\n", message),
		Refresh:  true,
	}
}

// newHabit reconciles a declared habit against the existing ones: a close
// match is renamed and keeps its points, anything else starts at zero.
func (p policy) newHabit(text string, habits []ledger.Habit, now time.Time) Plan {
	name := strings.TrimSpace(text)

	if _, idx, ok := p.matcher.Match(name, names(habits)); ok {
		matched := habits[idx]
		return Plan{
			Decision: DecisionHabitRenamed,
			Mutation: RenameHabit{HabitID: matched.ID, From: matched.Name, To: name, At: now},
			Reply:    fmt.Sprintf(renamedReply, name),
			Refresh:  true,
		}
	}

	return Plan{
		Decision: DecisionHabitCreated,
		Mutation: CreateHabit{Habit: ledger.Habit{
			ID:           p.newID(),
			Name:         name,
			Type:         ledger.DefaultHabitType,
			LastActivity: now,
		}},
		Reply:   fmt.Sprintf(createdReply, name),
		Refresh: true,
	}
}

func journal(text string, now time.Time) Plan {
	return Plan{
		Decision: DecisionJournal,
		Mutation: AppendJournal{Entry: ledger.JournalEntry{Entry: text, Timestamp: now}},
		Reply:    journalReply,
		Refresh:  true,
	}
}

// ignored covers chat messages, commands and anything unclassified.
func ignored() Plan {
	return Plan{Decision: DecisionIgnored, Silent: true, Refresh: true}
}

func evidenceNoun(kind ledger.EventType) string {
	if kind == ledger.EventText {
		return "report"
	}
	return "photo"
}

func withMessage(base, sep, message string) string {
	if message == "" {
		return base
	}
	return base + sep + message
}

func names(habits []ledger.Habit) []string {
	out := make([]string, len(habits))
	for i, h := range habits {
		out[i] = h.Name
	}
	return out
}
