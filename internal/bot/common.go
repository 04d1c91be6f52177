package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bowerhall/tally/internal/chat"
	"github.com/bowerhall/tally/internal/logger"
)

// maxMediaSize is the maximum size for photo attachments (20MB).
const maxMediaSize = 20 * 1024 * 1024

const (
	startText = "Welcome! Tell me your habit and I'll help you stay accountable. " +
		"For example, you can say 'I want to eat healthy' or 'I want to lose weight'.\n" +
		" Use /check_progress to see how you are faring."
	reportFailedText   = "Sorry, I couldn't put together your progress report right now. Please try again later."
	downloadFailedText = "Sorry, I couldn't download that photo. Please try sending it again."
)

const (
	cmdStart    = "start"
	cmdProgress = "check_progress"
)

var downloadClient = &http.Client{Timeout: 30 * time.Second}

// inbox runs each user's work one item at a time in arrival order, while
// different users proceed in parallel.
type inbox struct {
	mu      sync.Mutex
	pending map[int64][]func()
}

func newInbox() *inbox {
	return &inbox{pending: make(map[int64][]func())}
}

func (b *inbox) push(key int64, fn func()) {
	b.mu.Lock()
	queue, busy := b.pending[key]
	b.pending[key] = append(queue, fn)
	b.mu.Unlock()

	if !busy {
		go b.drain(key)
	}
}

// drain owns key until its queue is empty.
func (b *inbox) drain(key int64) {
	for {
		b.mu.Lock()
		queue := b.pending[key]
		if len(queue) == 0 {
			delete(b.pending, key)
			b.mu.Unlock()
			return
		}
		fn := queue[0]
		b.pending[key] = queue[1:]
		b.mu.Unlock()

		fn()
	}
}

// parseCommand extracts the command name from "/name" or "/name@botname",
// ignoring any arguments.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}

	name := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}

	return strings.ToLower(name), name != ""
}

// dispatch routes a unit: known commands are answered here, everything
// else goes to intake.
func dispatch(ctx context.Context, h Handlers, out chat.Messenger, unit chat.Unit) {
	if !unit.IsPhoto() {
		if cmd, ok := parseCommand(unit.Text); ok {
			switch cmd {
			case cmdStart:
				reply(ctx, out, unit.ChatID, startText)
				return
			case cmdProgress:
				report, err := h.Reporter.Report(ctx, unit.UserID, unit.ChatID)
				if err != nil {
					logger.Error("progress report failed", "user", unit.UserID, "error", err)
					report = reportFailedText
				}
				reply(ctx, out, unit.ChatID, report)
				return
			}
		}
	}

	h.Intake.Handle(ctx, unit, out)
}

func reply(ctx context.Context, out chat.Messenger, chatID int64, text string) {
	if err := out.Send(ctx, chatID, text); err != nil {
		logger.Error("send failed", "chatID", chatID, "error", err)
	}
}

func download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaSize))
	if err != nil {
		return nil, "", err
	}

	return data, http.DetectContentType(data), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	return s[:max] + "..."
}
