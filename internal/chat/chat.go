// Package chat defines the transport-neutral shapes the bots hand to the
// engine and the outbound operations the engine needs back.
package chat

import "context"

type Photo struct {
	FileID    string
	Data      []byte
	MediaType string
}

// Unit is one inbound message: text or a photo, never both. Transport names
// the bot it arrived on.
type Unit struct {
	Transport string
	UserID    int64
	ChatID    int64
	MessageID int64
	Text      string
	Photo     *Photo
}

func (u Unit) IsPhoto() bool {
	return u.Photo != nil
}

type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) error
	// SendAndPin sends text and pins it, replacing any earlier pin.
	SendAndPin(ctx context.Context, chatID int64, text string) error
}

// Directory finds the messenger for a transport name.
type Directory interface {
	For(transport string) Messenger
}

// Switch is a Directory over the running bots. Unknown or empty transports
// go to the fallback.
type Switch struct {
	fallback Messenger
	byName   map[string]Messenger
}

func NewSwitch(fallback Messenger) *Switch {
	return &Switch{fallback: fallback, byName: make(map[string]Messenger)}
}

// Register must happen before the switch is shared.
func (s *Switch) Register(transport string, m Messenger) {
	s.byName[transport] = m
}

func (s *Switch) For(transport string) Messenger {
	if m, ok := s.byName[transport]; ok {
		return m
	}
	return s.fallback
}
