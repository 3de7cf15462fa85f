package google

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"lifeledger/internal/core"
)

type fakeValues struct {
	getRange    string
	getValues   [][]interface{}
	getErr      error
	appendRange string
	appended    [][]interface{}
	appendErr   error
}

func (f *fakeValues) Get(_ context.Context, rng string) ([][]interface{}, error) {
	f.getRange = rng
	return f.getValues, f.getErr
}

func (f *fakeValues) Append(_ context.Context, rng string, rows [][]interface{}) (string, error) {
	f.appendRange = rng
	f.appended = rows
	if f.appendErr != nil {
		return "", f.appendErr
	}
	return "Ledger!A10:G11", nil
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Options{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(context.Background(), Options{SpreadsheetID: "id"})
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCategoryNames(t *testing.T) {
	fv := &fakeValues{getValues: [][]interface{}{
		{"Food"},
		{},
		{" Bills "},
		{"# disabled"},
		{"Food"},
		{""},
		{"Travel", "ignored"},
	}}
	c := newClient(fv, Options{CategoriesSheet: "Cats"})
	got, err := c.CategoryNames(context.Background())
	if err != nil {
		t.Fatalf("CategoryNames: %v", err)
	}
	if want := []string{"Food", "Bills", "Travel"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("CategoryNames() = %v, want %v", got, want)
	}
	if fv.getRange != "Cats!A2:A" {
		t.Fatalf("unexpected range %q", fv.getRange)
	}
}

func TestCategoryNames_Error(t *testing.T) {
	c := newClient(&fakeValues{getErr: errors.New("quota")}, Options{})
	if _, err := c.CategoryNames(context.Background()); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestAppendEntries(t *testing.T) {
	fv := &fakeValues{}
	c := newClient(fv, Options{})
	batch := core.LedgerBatch{
		UserID:     "alice",
		Year:       2025,
		Month:      2,
		CreditCard: "visa",
		Entries: []core.ExpenseEntry{
			{Category: "Food", Amount: 25, Notes: "Lunch"},
			{Category: "Others", Amount: 13.426, Notes: "Personal: 13.426"},
		},
	}
	ref, err := c.AppendEntries(context.Background(), batch)
	if err != nil || ref != "Ledger!A10:G11" {
		t.Fatalf("AppendEntries() = %q, %v", ref, err)
	}
	if fv.appendRange != "Ledger!A:G" {
		t.Fatalf("unexpected range %q", fv.appendRange)
	}
	want := [][]interface{}{
		{2025, 2, "alice", "Food", 25.0, "Lunch", "visa"},
		{2025, 2, "alice", "Others", 13.43, "Personal: 13.426", "visa"},
	}
	if !reflect.DeepEqual(fv.appended, want) {
		t.Fatalf("rows = %v, want %v", fv.appended, want)
	}
}

func TestAppendEntries_ValidatesBeforeWriting(t *testing.T) {
	fv := &fakeValues{}
	c := newClient(fv, Options{})
	if _, err := c.AppendEntries(context.Background(), core.LedgerBatch{UserID: "a", Year: 2025, Month: 1}); err == nil {
		t.Fatal("expected validation error")
	}
	if fv.appended != nil {
		t.Fatal("invalid batch must not be written")
	}
}
