package bot

import (
	"context"

	"github.com/bowerhall/tally/internal/chat"
	"github.com/bowerhall/tally/internal/intake"
)

// Bot is a chat transport: it feeds inbound units to the handlers and
// delivers outbound text.
type Bot interface {
	chat.Messenger
	Start(ctx context.Context) error
	Name() string
}

type Intake interface {
	Handle(ctx context.Context, unit chat.Unit, out chat.Messenger) intake.Outcome
}

type Reporter interface {
	Report(ctx context.Context, userID, chatID int64) (string, error)
}

type Handlers struct {
	Intake   Intake
	Reporter Reporter
}
