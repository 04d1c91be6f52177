package bot

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bowerhall/tally/internal/chat"
	"github.com/bowerhall/tally/internal/logger"
)

type telegram struct {
	api      *tgbotapi.BotAPI
	handlers Handlers
	inbox    *inbox

	mu     sync.Mutex
	pinned map[int64]int
}

func newTelegram(token string, h Handlers) (Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	return &telegram{api: api, handlers: h, inbox: newInbox(), pinned: make(map[int64]int)}, nil
}

func (t *telegram) Name() string {
	return "telegram"
}

func (t *telegram) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)
	defer t.api.StopReceivingUpdates()

	logger.Info("telegram bot started", "username", t.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			if update.Message == nil || update.Message.From == nil {
				continue
			}

			msg := update.Message
			t.inbox.push(msg.From.ID, func() { t.handleMessage(ctx, msg) })
		}
	}
}

func (t *telegram) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	unit := chat.Unit{
		Transport: t.Name(),
		UserID:    msg.From.ID,
		ChatID:    msg.Chat.ID,
		MessageID: int64(msg.MessageID),
	}

	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]

		data, mediaType, err := t.downloadFile(ctx, photo.FileID)
		if err != nil {
			logger.Error("failed to download photo", "user", unit.UserID, "error", err)
			reply(ctx, t, unit.ChatID, downloadFailedText)
			return
		}

		unit.Photo = &chat.Photo{FileID: photo.FileUniqueID, Data: data, MediaType: mediaType}
		logger.Info("photo received", "user", unit.UserID, "from", msg.From.UserName, "size", len(data))
	} else {
		unit.Text = msg.Text
		if unit.Text == "" {
			return
		}
		logger.Info("message received", "user", unit.UserID, "from", msg.From.UserName, "text", truncate(unit.Text, 50))
	}

	dispatch(ctx, t.handlers, t, unit)
}

func (t *telegram) Send(_ context.Context, chatID int64, text string) error {
	_, err := t.send(chatID, text)
	return err
}

func (t *telegram) send(chatID int64, text string) (tgbotapi.Message, error) {
	sent, err := t.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		logger.Error("telegram send failed", "error", err, "chatID", chatID)
	} else {
		logger.Debug("telegram message sent", "chatID", chatID, "chars", len(text))
	}
	return sent, err
}

func (t *telegram) SendAndPin(_ context.Context, chatID int64, text string) error {
	sent, err := t.send(chatID, text)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.pinned[chatID]
	if !ok {
		prev, ok = t.lookupPin(chatID)
	}
	if ok {
		unpin := tgbotapi.UnpinChatMessageConfig{ChatID: chatID, MessageID: prev}
		if _, err := t.api.Request(unpin); err != nil {
			logger.Warn("telegram unpin failed", "error", err, "chatID", chatID)
		}
	}

	pin := tgbotapi.PinChatMessageConfig{ChatID: chatID, MessageID: sent.MessageID, DisableNotification: true}
	if _, err := t.api.Request(pin); err != nil {
		return err
	}

	t.pinned[chatID] = sent.MessageID
	return nil
}

// lookupPin finds the summary pinned before this process started.
func (t *telegram) lookupPin(chatID int64) (int, bool) {
	c, err := t.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		logger.Warn("telegram pin lookup failed", "error", err, "chatID", chatID)
		return 0, false
	}
	return stalePin(c, t.api.Self.ID)
}

// stalePin returns the chat's pinned message if the bot itself posted it.
func stalePin(c tgbotapi.Chat, selfID int64) (int, bool) {
	p := c.PinnedMessage
	if p == nil || p.From == nil || p.From.ID != selfID {
		return 0, false
	}
	return p.MessageID, true
}

func (t *telegram) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := t.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", err
	}

	return download(ctx, file.Link(t.api.Token))
}
