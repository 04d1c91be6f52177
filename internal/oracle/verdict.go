package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Verdict is the oracle's parsed JSON object. Its schema depends on the
// prompt, so callers read the fields they need through the accessors, which
// fall back to the given default instead of failing.
type Verdict map[string]any

func (v Verdict) String(key, def string) string {
	s, ok := v[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// Int reads an integral number. Fractional values are not scores, so they
// fall back to def like any other unusable value.
func (v Verdict) Int(key string, def int) int {
	if n, ok := integer(v[key]); ok {
		return n
	}
	return def
}

func integer(x any) (int, bool) {
	var f float64
	switch n := x.(type) {
	case float64:
		f = n
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

func (v Verdict) Bool(key string, def bool) bool {
	switch b := v[key].(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed
		}
	}
	return def
}

// List returns the object elements of an array field, skipping anything
// that is not an object.
func (v Verdict) List(key string) []Verdict {
	items, ok := v[key].([]any)
	if !ok {
		return nil
	}

	out := make([]Verdict, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Verdict(m))
		}
	}
	return out
}

// StripFences removes a markdown code fence around the payload, taking the
// content of the first fenced block when one is present.
func StripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "```")
	if parts := strings.Split(s, "```"); len(parts) > 1 {
		s = parts[1]
	}
	return strings.TrimSpace(s)
}

// ParseVerdict decodes the oracle's reply. A "points" field, when present,
// must be a whole number.
func ParseVerdict(content string) (Verdict, error) {
	body := StripFences(content)
	if body == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	var v map[string]any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: not a json object", ErrMalformedResponse)
	}
	if p, ok := v["points"]; ok && p != nil {
		if _, ok := integer(p); !ok {
			return nil, fmt.Errorf("%w: points %v is not a whole number", ErrMalformedResponse, p)
		}
	}

	return Verdict(v), nil
}
