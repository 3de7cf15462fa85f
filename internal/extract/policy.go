package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	"lifeledger/internal/core"
)

// CategoryPolicy decides what happens to parsed categories that are not in
// the vocabulary.
type CategoryPolicy string

const (
	// PolicyPassthrough leaves the parser output untouched.
	PolicyPassthrough CategoryPolicy = "passthrough"
	// PolicyCoerce snaps near misses onto the vocabulary, turns the rest into
	// "Others" and merges all "Others" entries into one.
	PolicyCoerce CategoryPolicy = "coerce"
)

func ParsePolicy(s string) (CategoryPolicy, error) {
	switch p := CategoryPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyPassthrough:
		return PolicyPassthrough, nil
	case PolicyCoerce:
		return PolicyCoerce, nil
	default:
		return "", fmt.Errorf("unknown category policy %q", s)
	}
}

// Apply returns result with the policy applied. The input is not modified.
func (p CategoryPolicy) Apply(result core.ExtractionResult, vocabulary []string) core.ExtractionResult {
	if p != PolicyCoerce {
		return result
	}

	out := result
	out.Entries = make([]core.ExpenseEntry, 0, len(result.Entries))
	othersAt := -1
	var othersNotes []string

	for _, e := range result.Entries {
		canonical, matched := matchCategory(e.Category, vocabulary)
		if matched && canonical != core.OthersCategory {
			e.Category = canonical
			out.Entries = append(out.Entries, e)
			continue
		}

		note := e.Notes
		if !matched {
			if note == "" {
				note = fmt.Sprintf("'%s' (%s)", e.Category, formatAmount(e.Amount))
			} else {
				note = fmt.Sprintf("'%s': %s", e.Category, note)
			}
		}
		if note != "" {
			othersNotes = append(othersNotes, note)
		}

		if othersAt < 0 {
			othersAt = len(out.Entries)
			out.Entries = append(out.Entries, core.ExpenseEntry{Category: core.OthersCategory, Amount: e.Amount})
			continue
		}
		out.Entries[othersAt].Amount += e.Amount
	}

	if othersAt >= 0 {
		out.Entries[othersAt].Amount = core.RoundAmount(out.Entries[othersAt].Amount)
		out.Entries[othersAt].Notes = strings.Join(othersNotes, "; ")
	}
	return out
}

// matchCategory finds the vocabulary name for category: exact, then case
// insensitive, then the closest name within a small edit distance. "Others"
// always matches itself.
func matchCategory(category string, vocabulary []string) (string, bool) {
	if strings.EqualFold(category, core.OthersCategory) {
		return core.OthersCategory, true
	}
	for _, v := range vocabulary {
		if v == category {
			return v, true
		}
	}
	for _, v := range vocabulary {
		if strings.EqualFold(v, category) {
			return v, true
		}
	}

	lower := strings.ToLower(category)
	best, bestDist := "", maxEditDistance(lower)+1
	for _, v := range vocabulary {
		if d := levenshtein.ComputeDistance(lower, strings.ToLower(v)); d < bestDist {
			best, bestDist = v, d
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// Short names tolerate a single typo, longer ones two.
func maxEditDistance(name string) int {
	if len([]rune(name)) < 5 {
		return 1
	}
	return 2
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
