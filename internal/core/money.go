// Package core provides the ledger domain types and amount parsing.
//
// Amounts produced by the model arrive either as JSON numbers or as strings
// written the way people type them ("12,50", "€ 3.20", "-4"). ParseAmount
// accepts the latter and rejects anything that is not a finite number.
package core

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ParseAmount converts a human-written decimal string into a signed amount.
//
// It accepts dot and comma decimal separators, a leading sign, an optional
// currency symbol and spaces. When both separators are present the last one
// is the decimal separator and the other is treated as thousands grouping.
//
// Examples:
//
//	ParseAmount("12.34")     -> 12.34, nil
//	ParseAmount("12,34")     -> 12.34, nil
//	ParseAmount("1.234,50")  -> 1234.5, nil
//	ParseAmount("-€ 5")      -> -5, nil
func ParseAmount(s string) (float64, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, ErrInvalidAmount
	}

	sign := 1.0
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" {
		return 0, ErrInvalidAmount
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return 0, ErrInvalidAmount
		}
		s = strings.Replace(s, ",", ".", 1)
	}

	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, ErrInvalidAmount
	}
	return sign * v, nil
}

// RoundAmount rounds half away from zero to two decimals.
func RoundAmount(v float64) float64 {
	return math.Round(v*100) / 100
}
