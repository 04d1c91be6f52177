// Package chattest provides a recording chat.Messenger for tests.
package chattest

import (
	"context"
	"errors"
	"sync"

	"github.com/bowerhall/tally/internal/chat"
)

var ErrSendFailed = errors.New("send failed")

type Message struct {
	ChatID int64
	Text   string
	Pinned bool
}

// Recorder records every outbound message. FailPins makes SendAndPin fail
// without recording.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	FailPins bool
}

var (
	_ chat.Messenger = (*Recorder)(nil)
	_ chat.Directory = (*Recorder)(nil)
)

// For makes a single Recorder stand in for every transport.
func (r *Recorder) For(string) chat.Messenger {
	return r
}

func (r *Recorder) Send(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, Message{ChatID: chatID, Text: text})
	return nil
}

func (r *Recorder) SendAndPin(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailPins {
		return ErrSendFailed
	}

	r.messages = append(r.messages, Message{ChatID: chatID, Text: text, Pinned: true})
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Replies returns the non-pinned messages.
func (r *Recorder) Replies() []Message {
	var out []Message
	for _, m := range r.Messages() {
		if !m.Pinned {
			out = append(out, m)
		}
	}
	return out
}

// Pins returns the pinned messages.
func (r *Recorder) Pins() []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Pinned {
			out = append(out, m)
		}
	}
	return out
}
