// Package similarity resolves a freeform habit label against a user's
// existing habit names.
package similarity

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultThreshold is the minimum ratio at which two labels are treated as
// the same habit. Raising it trades duplicate habits for fewer false merges.
const DefaultThreshold = 0.8

type Matcher struct {
	Threshold float64
}

func New(threshold float64) Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return Matcher{Threshold: threshold}
}

// Ratio returns the case-insensitive Ratcliff/Obershelp similarity of a and b
// in [0, 1]. The greedy block search is not symmetric on every input, so both
// directions are scored and the larger one wins.
func Ratio(a, b string) float64 {
	ra := runes(strings.ToLower(a))
	rb := runes(strings.ToLower(b))

	forward := difflib.NewMatcher(ra, rb).Ratio()
	backward := difflib.NewMatcher(rb, ra).Ratio()

	if backward > forward {
		return backward
	}
	return forward
}

// Match returns the existing label most similar to candidate along with its
// index. Only labels scoring at least the threshold qualify; on equal scores
// the earliest label wins.
func (m Matcher) Match(candidate string, existing []string) (string, int, bool) {
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	best := -1
	bestRatio := 0.0

	for i, label := range existing {
		r := Ratio(candidate, label)
		if r < threshold {
			continue
		}
		if best == -1 || r > bestRatio {
			best = i
			bestRatio = r
		}
	}

	if best == -1 {
		return "", -1, false
	}

	return existing[best], best, true
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
