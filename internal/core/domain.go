package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

// OthersCategory is the catch-all category every vocabulary implicitly accepts.
const OthersCategory = "Others"

// DefaultCategories is served when the category store cannot be reached.
var DefaultCategories = []string{
	"Food",
	"Transportation",
	"Entertainment",
	"Shopping",
	"Bills",
	"Healthcare",
	"Travel",
	OthersCategory,
}

type (
	// ExpenseEntry is one categorized amount extracted from user input.
	// Negative amounts are credits or refunds.
	ExpenseEntry struct {
		Category string  `json:"category"`
		Amount   float64 `json:"amount"`
		Notes    string  `json:"notes"`
	}

	// ExtractionResult is the outcome of one extraction. Entries is never nil.
	// Year and Month are nil when the input did not state them.
	ExtractionResult struct {
		Year        *int           `json:"year"`
		Month       *int           `json:"month"`
		Entries     []ExpenseEntry `json:"entries"`
		RawResponse string         `json:"raw_response"`
	}

	// LedgerBatch is a set of confirmed entries written to the ledger together.
	LedgerBatch struct {
		ID         int64
		UserID     string
		Year       int
		Month      int
		CreditCard string
		Entries    []ExpenseEntry
		CreatedAt  time.Time
	}

	// ExtractionAudit records what the model answered for one extraction.
	ExtractionAudit struct {
		UserID      string
		SessionID   string
		Year        *int
		Month       *int
		EntryCount  int
		RawResponse string
		CreatedAt   time.Time
	}
)

var (
	ErrInvalidYear    = errors.New("invalid year")
	ErrInvalidMonth   = errors.New("invalid month")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrEmptyCategory  = errors.New("empty category")
	ErrEmptyUser      = errors.New("empty user id")
	ErrNoEntries      = errors.New("no entries")
	ErrNotesTooLong   = errors.New("notes too long")
	ErrTooManyEntries = errors.New("too many entries")
)

const (
	maxNotesLength  = 500
	maxBatchEntries = 200
	minLedgerYear   = 1900
	maxLedgerYear   = 9999
)

// EmptyResult returns the total-failure result for a raw model response.
func EmptyResult(raw string) ExtractionResult {
	return ExtractionResult{Entries: []ExpenseEntry{}, RawResponse: raw}
}

// Validate checks that the entry can be written to the ledger.
func (e ExpenseEntry) Validate() error {
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if math.IsNaN(e.Amount) || math.IsInf(e.Amount, 0) || e.Amount == 0 {
		return ErrInvalidAmount
	}
	if len(e.Notes) > maxNotesLength {
		return ErrNotesTooLong
	}
	return nil
}

// Validate checks the batch period, owner and every entry.
func (b LedgerBatch) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return ErrEmptyUser
	}
	if b.Year < minLedgerYear || b.Year > maxLedgerYear {
		return ErrInvalidYear
	}
	if b.Month < 1 || b.Month > 12 {
		return ErrInvalidMonth
	}
	if len(b.Entries) == 0 {
		return ErrNoEntries
	}
	if len(b.Entries) > maxBatchEntries {
		return ErrTooManyEntries
	}
	for _, e := range b.Entries {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Total sums the batch amounts rounded to cents.
func (b LedgerBatch) Total() float64 {
	var total float64
	for _, e := range b.Entries {
		total += e.Amount
	}
	return RoundAmount(total)
}
