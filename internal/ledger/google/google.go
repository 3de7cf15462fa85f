package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"lifeledger/internal/core"
	"lifeledger/internal/ledger"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Ensure interface conformance
var (
	_ ledger.CategoryReader = (*Client)(nil)
	_ ledger.EntryWriter    = (*Client)(nil)
)

// Options configures the spreadsheet the client talks to.
type Options struct {
	SpreadsheetID   string
	CategoriesSheet string
	LedgerSheet     string
	CredentialsJSON string
	CredentialsFile string
}

// valuesAPI is the slice of the Sheets values API the client needs.
type valuesAPI interface {
	Get(ctx context.Context, rng string) ([][]interface{}, error)
	Append(ctx context.Context, rng string, rows [][]interface{}) (updatedRange string, err error)
}

type Client struct {
	values          valuesAPI
	categoriesSheet string
	ledgerSheet     string
}

// New creates a Sheets client authenticated with service account credentials.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(&sheetsValues{svc: svc, spreadsheetID: opts.SpreadsheetID}, opts), nil
}

func newClient(values valuesAPI, opts Options) *Client {
	cats := strings.TrimSpace(opts.CategoriesSheet)
	if cats == "" {
		cats = "Categories"
	}
	ledgerSheet := strings.TrimSpace(opts.LedgerSheet)
	if ledgerSheet == "" {
		ledgerSheet = "Ledger"
	}
	return &Client{values: values, categoriesSheet: cats, ledgerSheet: ledgerSheet}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		credentialsJSON = []byte(opts.CredentialsJSON)
	case strings.TrimSpace(opts.CredentialsFile) != "":
		b, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created", "credentials_size", len(credentialsJSON))
	return service, nil
}

// CategoryNames reads the first column of the categories sheet, skipping
// the header row, blanks and comment lines.
func (c *Client) CategoryNames(ctx context.Context) ([]string, error) {
	rng := fmt.Sprintf("%s!A2:A", c.categoriesSheet)
	values, err := c.values.Get(ctx, rng)
	if err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}
	return firstColumn(values), nil
}

// AppendEntries writes one row per entry at the bottom of the ledger sheet.
// Columns: Year, Month, User, Category, Amount, Notes, Credit card.
func (c *Client) AppendEntries(ctx context.Context, b core.LedgerBatch) (string, error) {
	if err := b.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	rng := fmt.Sprintf("%s!A:G", c.ledgerSheet)
	ref, err := c.values.Append(ctx, rng, ledgerRows(b))
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.ledgerSheet, err)
	}
	slog.InfoContext(ctx, "Ledger batch appended to sheet",
		"sheet", c.ledgerSheet,
		"range", ref,
		"entries", len(b.Entries))
	return ref, nil
}

func ledgerRows(b core.LedgerBatch) [][]interface{} {
	rows := make([][]interface{}, 0, len(b.Entries))
	for _, e := range b.Entries {
		rows = append(rows, []interface{}{b.Year, b.Month, b.UserID, e.Category, core.RoundAmount(e.Amount), e.Notes, b.CreditCard})
	}
	return rows
}

func firstColumn(values [][]interface{}) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, row := range values {
		if len(row) == 0 {
			continue
		}
		v := strings.TrimSpace(fmt.Sprint(row[0]))
		if v == "" || strings.HasPrefix(v, "#") {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

type sheetsValues struct {
	svc           *gsheet.Service
	spreadsheetID string
}

func (s *sheetsValues) Get(ctx context.Context, rng string) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

func (s *sheetsValues) Append(ctx context.Context, rng string, rows [][]interface{}) (string, error) {
	vr := &gsheet.ValueRange{Values: rows}
	resp, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		return resp.Updates.UpdatedRange, nil
	}
	return rng, nil
}
