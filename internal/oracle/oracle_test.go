package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bowerhall/tally/internal/ledger"
	"github.com/bowerhall/tally/internal/llm"
)

type fakeLLM struct {
	replies []string
	errs    []error
	calls   int
	last    []llm.Message
}

func (f *fakeLLM) Chat(_ context.Context, _ string, messages []llm.Message) (string, error) {
	i := f.calls
	f.calls++
	f.last = messages

	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return f.replies[len(f.replies)-1], nil
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"Sure!\n```json\n{\"a\":1}\n```\nanything else?", `{"a":1}`},
	}

	for _, tt := range tests {
		if got := StripFences(tt.in); got != tt.want {
			t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseVerdict(t *testing.T) {
	if _, err := ParseVerdict("not json"); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
	if _, err := ParseVerdict("[1,2]"); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse for array, got %v", err)
	}
	if _, err := ParseVerdict("null"); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse for null, got %v", err)
	}

	v, err := ParseVerdict(`{"habit":"run","points":6}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.String("habit", "") != "run" || v.Int("points", 0) != 6 {
		t.Errorf("unexpected verdict: %v", v)
	}
}

func TestVerdictAccessors(t *testing.T) {
	v := Verdict{
		"f":      6.6,
		"whole":  6.0,
		"sfrac":  "2.5",
		"s":      "-3",
		"bad":    "lots",
		"yes":    true,
		"syes":   "false",
		"blank":  "  ",
		"report": []any{map[string]any{"habit": "run"}, "junk"},
	}

	if got := v.Int("f", 0); got != 0 {
		t.Errorf("Int(f) = %d, fractional values should fall back", got)
	}
	if got := v.Int("whole", 0); got != 6 {
		t.Errorf("Int(whole) = %d", got)
	}
	if got := v.Int("sfrac", -1); got != -1 {
		t.Errorf("Int(sfrac) = %d", got)
	}
	if got := v.Int("s", 0); got != -3 {
		t.Errorf("Int(s) = %d", got)
	}
	if got := v.Int("bad", 42); got != 42 {
		t.Errorf("Int(bad) = %d", got)
	}
	if got := v.Int("missing", 0); got != 0 {
		t.Errorf("Int(missing) = %d", got)
	}
	if !v.Bool("yes", false) || v.Bool("syes", true) || v.Bool("missing", false) {
		t.Error("unexpected Bool results")
	}
	if got := v.String("blank", "def"); got != "def" {
		t.Errorf("String(blank) = %q", got)
	}
	if got := v.List("report"); len(got) != 1 || got[0].String("habit", "") != "run" {
		t.Errorf("List(report) = %v", got)
	}
	if got := v.List("missing"); got != nil {
		t.Errorf("List(missing) = %v", got)
	}
}

func TestRetryPolicy(t *testing.T) {
	calls := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got calls=%d err=%v", calls, err)
	}

	calls = 0
	sentinel := errors.New("still down")
	err = fastRetry().Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) || calls != 3 {
		t.Fatalf("expected 3 calls and last error, got calls=%d err=%v", calls, err)
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := RetryPolicy{MaxAttempts: 5, Delay: time.Hour}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected a single call after cancel, got calls=%d err=%v", calls, err)
	}
}

func TestClassifyRetriesMalformed(t *testing.T) {
	model := &fakeLLM{replies: []string{"oops", "```json\n{\"points\": 4}\n```"}}
	c := New(model, Config{SystemPrompt: "sys", Retry: fastRetry()})

	v, score, err := c.Classify(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if score != 4 || v.Int("points", 0) != 4 {
		t.Errorf("unexpected score %d", score)
	}
	if model.calls != 2 {
		t.Errorf("expected 2 calls, got %d", model.calls)
	}
}

func TestClassifyExhausted(t *testing.T) {
	down := errors.New("connection refused")
	model := &fakeLLM{errs: []error{down, down, down}, replies: []string{"{}"}}
	c := New(model, Config{Retry: fastRetry()})

	_, _, err := c.Classify(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if model.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", model.calls)
	}
}

func TestClassifyMissingPointsScoresZero(t *testing.T) {
	model := &fakeLLM{replies: []string{`{"type":"journal_entry"}`}}
	c := New(model, Config{Retry: fastRetry()})

	_, score, err := c.Classify(context.Background(), Request{Prompt: "p"})
	if err != nil || score != 0 {
		t.Fatalf("expected score 0, got %d (err %v)", score, err)
	}
}

func TestBuildMessages(t *testing.T) {
	req := Request{
		Prompt: "score this",
		Habits: []string{"run", "read"},
		Events: []ledger.Event{{Type: ledger.EventPhoto, Score: 3, HabitName: "run"}},
		Photo:  &Photo{URL: "https://minio/habit/1.jpg"},
	}

	msgs, err := buildMessages(req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[1].Content != "Here are the available habits: run, read" {
		t.Errorf("unexpected habits message: %q", msgs[1].Content)
	}
	if !strings.HasPrefix(msgs[2].Content, "Here are the last 1 pieces of evidence: [") {
		t.Errorf("unexpected evidence message: %q", msgs[2].Content)
	}
	if len(msgs[3].Images) != 1 || msgs[3].Images[0].URL != req.Photo.URL {
		t.Errorf("unexpected photo message: %+v", msgs[3])
	}

	msgs, _ = buildMessages(Request{Prompt: "only"})
	if len(msgs) != 1 {
		t.Errorf("expected only the prompt, got %d messages", len(msgs))
	}
}

func TestParseVerdictRejectsFractionalPoints(t *testing.T) {
	for _, body := range []string{`{"points": 0.5}`, `{"points": 6.6}`, `{"points": "2.5"}`, `{"points": "lots"}`} {
		if _, err := ParseVerdict(body); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("ParseVerdict(%s): expected ErrMalformedResponse, got %v", body, err)
		}
	}

	for body, want := range map[string]int{`{"points": 6}`: 6, `{"points": -3.0}`: -3, `{"points": "4"}`: 4, `{"points": null}`: 0} {
		v, err := ParseVerdict(body)
		if err != nil {
			t.Errorf("ParseVerdict(%s): %v", body, err)
			continue
		}
		if got := v.Int("points", 0); got != want {
			t.Errorf("ParseVerdict(%s) points = %d, want %d", body, got, want)
		}
	}
}

func TestClassifyRetriesFractionalPoints(t *testing.T) {
	model := &fakeLLM{replies: []string{`{"points": 6.6}`, `{"points": 6}`}}
	c := New(model, Config{Retry: fastRetry()})

	_, score, err := c.Classify(context.Background(), Request{Prompt: "p"})
	if err != nil || score != 6 {
		t.Fatalf("expected score 6 after retry, got %d (err %v)", score, err)
	}
	if model.calls != 2 {
		t.Errorf("expected 2 calls, got %d", model.calls)
	}
}
