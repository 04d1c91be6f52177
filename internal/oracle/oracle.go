// Package oracle talks to the judgment LLM: it builds the request from a
// prompt plus the user's habit context, and returns the parsed JSON verdict.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bowerhall/tally/internal/ledger"
	"github.com/bowerhall/tally/internal/llm"
	"github.com/bowerhall/tally/internal/metrics"
)

var (
	ErrUnavailable       = errors.New("oracle unavailable")
	ErrMalformedResponse = errors.New("oracle returned malformed response")
)

const defaultBurst = 5

type Photo struct {
	URL       string
	Data      []byte
	MediaType string
}

type Request struct {
	Prompt string
	Photo  *Photo
	Habits []string
	Events []ledger.Event
}

type Config struct {
	SystemPrompt string
	Retry        RetryPolicy
	// RateLimit is calls per second; zero disables throttling.
	RateLimit float64
}

type Client struct {
	model   llm.LLM
	system  string
	retry   RetryPolicy
	limiter *rate.Limiter
}

func New(model llm.LLM, cfg Config) *Client {
	c := &Client{
		model:  model,
		system: cfg.SystemPrompt,
		retry:  cfg.Retry,
	}

	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), defaultBurst)
	}

	return c
}

// Classify sends req to the oracle and returns the verdict along with the
// score read from its "points" field (0 when absent).
func (c *Client) Classify(ctx context.Context, req Request) (Verdict, int, error) {
	messages, err := buildMessages(req)
	if err != nil {
		return nil, 0, err
	}

	var verdict Verdict
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		v, err := c.attempt(ctx, messages)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return verdict, verdict.Int("points", 0), nil
}

func (c *Client) attempt(ctx context.Context, messages []llm.Message) (Verdict, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
		}
	}

	start := time.Now()
	content, err := c.model.Chat(ctx, c.system, messages)
	metrics.OracleLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.OracleCalls.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	v, err := ParseVerdict(content)
	if err != nil {
		metrics.OracleCalls.WithLabelValues("malformed").Inc()
		return nil, err
	}

	metrics.OracleCalls.WithLabelValues("ok").Inc()
	return v, nil
}

func buildMessages(req Request) ([]llm.Message, error) {
	messages := []llm.Message{{Role: "user", Content: req.Prompt}}

	if len(req.Habits) > 0 {
		messages = append(messages, llm.Message{
			Role:    "user",
			Content: "Here are the available habits: " + strings.Join(req.Habits, ", "),
		})
	}

	if len(req.Events) > 0 {
		data, err := json.Marshal(req.Events)
		if err != nil {
			return nil, fmt.Errorf("encode evidence window: %w", err)
		}
		messages = append(messages, llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("Here are the last %d pieces of evidence: %s", len(req.Events), data),
		})
	}

	if req.Photo != nil {
		messages = append(messages, llm.Message{
			Role: "user",
			Images: []llm.ImageContent{{
				URL:       req.Photo.URL,
				Data:      req.Photo.Data,
				MediaType: req.Photo.MediaType,
			}},
		})
	}

	return messages, nil
}
