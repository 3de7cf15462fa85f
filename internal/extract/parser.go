package extract

import (
	"encoding/json"
	"io"
	"math"
	"regexp"
	"strings"

	"lifeledger/internal/core"
)

var (
	jsonFence = regexp.MustCompile("(?is)```json[ \\t]*\\r?\\n?(.*?)(?:```|$)")
	anyFence  = regexp.MustCompile("(?s)```(.*?)(?:```|$)")
)

const (
	minYear = 1
	maxYear = 9999
)

// Parse turns raw model text into an ExtractionResult. It never fails: text
// without usable JSON yields an empty result, and malformed entries are
// dropped one by one. RawResponse always holds text unchanged.
//
// The JSON is located by preference in a ```json fence, then any ``` fence,
// then between the first '{' and the last '}'. Categories are not checked
// against any vocabulary here.
func Parse(text string) core.ExtractionResult {
	doc, ok := decodeFirst(jsonCandidates(text))
	if !ok {
		return core.EmptyResult(text)
	}

	result := core.EmptyResult(text)
	switch v := doc.(type) {
	case map[string]any:
		result.Year = yearField(v)
		result.Month = monthField(v)
		if items, ok := v["entries"].([]any); ok {
			result.Entries = parseEntries(items)
		}
	case []any:
		// older prompts asked for a bare array with the period on each entry
		result.Entries = parseEntries(v)
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if result.Year == nil {
				result.Year = yearField(obj)
			}
			if result.Month == nil {
				result.Month = monthField(obj)
			}
		}
	}
	return result
}

// jsonCandidates lists the substrings worth decoding, best first. A region
// opening with '[' may be a bare entry array or just prose in brackets, so
// the brace span is offered after it.
func jsonCandidates(text string) []string {
	region := text
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		region = m[1]
	} else if m := anyFence.FindStringSubmatch(text); m != nil {
		region = m[1]
	}
	region = strings.TrimSpace(region)

	var candidates []string
	if strings.HasPrefix(region, "[") {
		if end := strings.LastIndex(region, "]"); end > 0 {
			candidates = append(candidates, region[:end+1])
		}
	}
	start := strings.Index(region, "{")
	end := strings.LastIndex(region, "}")
	if start >= 0 && end > start {
		candidates = append(candidates, region[start:end+1])
	}
	return candidates
}

func decodeFirst(candidates []string) (any, bool) {
	for _, c := range candidates {
		dec := json.NewDecoder(strings.NewReader(c))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			continue
		}
		// trailing text means the candidate was not a single JSON value
		if _, err := dec.Token(); err == io.EOF {
			return doc, true
		}
	}
	return nil, false
}

func parseEntries(items []any) []core.ExpenseEntry {
	entries := make([]core.ExpenseEntry, 0, len(items))
	for _, item := range items {
		if e, ok := parseEntry(item); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

func parseEntry(item any) (core.ExpenseEntry, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return core.ExpenseEntry{}, false
	}

	category, ok := obj["category"].(string)
	category = strings.TrimSpace(category)
	if !ok || category == "" {
		return core.ExpenseEntry{}, false
	}

	rawAmount, present := obj["amount"]
	if !present {
		return core.ExpenseEntry{}, false
	}
	amount, ok := toAmount(rawAmount)
	if !ok {
		return core.ExpenseEntry{}, false
	}

	notes, _ := obj["notes"].(string)
	return core.ExpenseEntry{Category: category, Amount: amount, Notes: notes}, true
}

func toAmount(v any) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case string:
		f, err = core.ParseAmount(n)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func intField(obj map[string]any, key string) (int, bool) {
	n, ok := obj[key].(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil || i < math.MinInt32 || i > math.MaxInt32 {
		return 0, false
	}
	return int(i), true
}

func yearField(obj map[string]any) *int {
	y, ok := intField(obj, "year")
	if !ok || y < minYear || y > maxYear {
		return nil
	}
	return &y
}

func monthField(obj map[string]any) *int {
	m, ok := intField(obj, "month")
	if !ok || m < 1 || m > 12 {
		return nil
	}
	return &m
}
