package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/bowerhall/tally/internal/chat"
	"github.com/bowerhall/tally/internal/logger"
)

type discord struct {
	session  *discordgo.Session
	handlers Handlers
	inbox    *inbox
	ctx      context.Context

	mu     sync.Mutex
	pinned map[string]string
}

func newDiscord(token string, h Handlers) (Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	d := &discord{
		session:  session,
		handlers: h,
		inbox:    newInbox(),
		ctx:      context.Background(),
		pinned:   make(map[string]string),
	}

	session.AddHandler(d.handleMessage)

	return d, nil
}

func (d *discord) Name() string {
	return "discord"
}

func (d *discord) Start(ctx context.Context) error {
	d.ctx = ctx

	if err := d.session.Open(); err != nil {
		return err
	}
	logger.Info("discord bot started")

	<-ctx.Done()
	return d.session.Close()
}

func (d *discord) Send(_ context.Context, chatID int64, text string) error {
	_, err := d.send(chatID, text)
	return err
}

func (d *discord) send(chatID int64, text string) (*discordgo.Message, error) {
	channelID := strconv.FormatInt(chatID, 10)
	msg, err := d.session.ChannelMessageSend(channelID, text)
	if err != nil {
		logger.Error("discord send failed", "error", err, "channelID", channelID)
	} else {
		logger.Debug("discord message sent", "channelID", channelID, "chars", len(text))
	}
	return msg, err
}

func (d *discord) SendAndPin(_ context.Context, chatID int64, text string) error {
	msg, err := d.send(chatID, text)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var stale []string
	if prev, ok := d.pinned[msg.ChannelID]; ok {
		stale = []string{prev}
	} else {
		stale = d.lookupPins(msg.ChannelID, msg.ID)
	}

	for _, id := range stale {
		if err := d.session.ChannelMessageUnpin(msg.ChannelID, id); err != nil {
			logger.Warn("discord unpin failed", "error", err, "channelID", msg.ChannelID)
		}
	}

	if err := d.session.ChannelMessagePin(msg.ChannelID, msg.ID); err != nil {
		return err
	}

	d.pinned[msg.ChannelID] = msg.ID
	return nil
}

// lookupPins finds the bot's pins left from before this process started.
func (d *discord) lookupPins(channelID, keep string) []string {
	state := d.session.State
	if state == nil || state.User == nil {
		return nil
	}

	pins, err := d.session.ChannelMessagesPinned(channelID)
	if err != nil {
		logger.Warn("discord pin lookup failed", "error", err, "channelID", channelID)
		return nil
	}

	return botPins(pins, state.User.ID, keep)
}

// botPins returns the ids of pinned messages authored by selfID, except keep.
func botPins(pins []*discordgo.Message, selfID, keep string) []string {
	var ids []string
	for _, p := range pins {
		if p == nil || p.Author == nil || p.Author.ID != selfID || p.ID == keep {
			continue
		}
		ids = append(ids, p.ID)
	}
	return ids
}

func (d *discord) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}

	unit, err := discordUnit(m.Message)
	if err != nil {
		logger.Warn("discord message skipped", "error", err)
		return
	}
	unit.Transport = d.Name()

	// discordgo delivers events on separate goroutines; the inbox restores
	// per-user order
	d.inbox.push(unit.UserID, func() { d.process(m, unit) })
}

func (d *discord) process(m *discordgo.MessageCreate, unit chat.Unit) {
	if att := imageAttachment(m.Attachments); att != nil {
		data, mediaType, err := download(d.ctx, att.URL)
		if err != nil {
			logger.Error("failed to download attachment", "user", unit.UserID, "error", err)
			reply(d.ctx, d, unit.ChatID, downloadFailedText)
			return
		}

		unit.Photo = &chat.Photo{FileID: att.ID, Data: data, MediaType: mediaType}
		logger.Info("photo received", "user", unit.UserID, "from", m.Author.Username, "size", len(data))
	} else {
		unit.Text = m.Content
		if strings.TrimSpace(unit.Text) == "" {
			return
		}
		logger.Info("message received", "user", unit.UserID, "from", m.Author.Username, "text", truncate(unit.Text, 50))
	}

	dispatch(d.ctx, d.handlers, d, unit)
}

// discordUnit maps snowflake ids onto the numeric ids the ledger keys on.
func discordUnit(m *discordgo.Message) (chat.Unit, error) {
	userID, err := strconv.ParseInt(m.Author.ID, 10, 64)
	if err != nil {
		return chat.Unit{}, fmt.Errorf("parse author id %q: %w", m.Author.ID, err)
	}

	channelID, err := strconv.ParseInt(m.ChannelID, 10, 64)
	if err != nil {
		return chat.Unit{}, fmt.Errorf("parse channel id %q: %w", m.ChannelID, err)
	}

	messageID, _ := strconv.ParseInt(m.ID, 10, 64)

	return chat.Unit{UserID: userID, ChatID: channelID, MessageID: messageID}, nil
}

func imageAttachment(attachments []*discordgo.MessageAttachment) *discordgo.MessageAttachment {
	for _, a := range attachments {
		if a != nil && strings.HasPrefix(a.ContentType, "image/") {
			return a
		}
	}
	return nil
}
