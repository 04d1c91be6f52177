// Package alerts notifies the operator about failures users cannot see,
// such as an exhausted oracle or a review cycle that failed for some users.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/bowerhall/tally/internal/logger"
)

type Severity int

const (
	SeverityWarn Severity = iota
	SeverityCritical
)

type NotifyFunc func(message string)

type Alerter struct {
	mu        sync.Mutex
	notify    NotifyFunc
	cooldowns map[string]time.Time
	cooldown  time.Duration
	now       func() time.Time
}

// New returns an alerter that sends through notify at most once per
// cooldown for each component/message pair. A nil notify only logs.
func New(notify NotifyFunc, cooldown time.Duration) *Alerter {
	return &Alerter{
		notify:    notify,
		cooldowns: make(map[string]time.Time),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (a *Alerter) Alert(severity Severity, component, message string, err error) {
	if a == nil {
		return
	}

	logger.Warn("alert", "component", component, "message", message, "error", err)

	a.mu.Lock()
	defer a.mu.Unlock()

	key := component + ":" + message
	now := a.now()

	if lastSent, ok := a.cooldowns[key]; ok && now.Sub(lastSent) < a.cooldown {
		logger.Debug("alert suppressed (cooldown)", "component", component, "message", message)
		return
	}

	if a.notify == nil {
		return
	}

	text := fmt.Sprintf("⚠️ %s: %s", component, message)
	if severity == SeverityCritical {
		text = fmt.Sprintf("🚨 %s: %s", component, message)
	}
	if err != nil {
		text += fmt.Sprintf("\n\nError: %v", err)
	}

	a.notify(text)
	a.cooldowns[key] = now
}

func (a *Alerter) Critical(component, message string, err error) {
	a.Alert(SeverityCritical, component, message, err)
}

func (a *Alerter) Warn(component, message string, err error) {
	a.Alert(SeverityWarn, component, message, err)
}
