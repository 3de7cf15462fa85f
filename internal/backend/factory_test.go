package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"lifeledger/internal/config"
	"lifeledger/internal/core"
)

func TestBackendTypeIsValid(t *testing.T) {
	for _, bt := range GetBackendTypes() {
		if !bt.IsValid() {
			t.Errorf("%s should be valid", bt)
		}
	}
	if BackendType("postgres").IsValid() {
		t.Error("postgres should not be valid")
	}
	if got := GetBackendTypeStrings(); len(got) != 3 || got[0] != "sqlite" {
		t.Errorf("unexpected backend strings %v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"sheets", Config{Type: SheetsBackend, GoogleSpreadsheetID: "id", GoogleServiceAccountJSON: "{}"}, false},
		{"sheets without id", Config{Type: SheetsBackend, GoogleServiceAccountJSON: "{}"}, true},
		{"sheets without credentials", Config{Type: SheetsBackend, GoogleSpreadsheetID: "id"}, true},
		{"amqp without queue", Config{Type: MemoryBackend, AMQPURL: "amqp://localhost", AMQPExchange: "x"}, true},
		{"unknown", Config{Type: "postgres"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}

	app := &config.Config{
		DataBackend:               "sheets",
		GoogleSpreadsheetID:       "sheet-id",
		GoogleCategoriesSheetName: "Cats",
		GoogleLedgerSheetName:     "Rows",
		DataDirectory:             "fixtures",
	}
	got, err := FromAppConfig(app)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != SheetsBackend || got.GoogleCategoriesSheetName != "Cats" || got.DataDirectory != "fixtures" {
		t.Errorf("unexpected config %+v", got)
	}

	opts := SheetsOptions(got)
	if opts.SpreadsheetID != "sheet-id" || opts.LedgerSheet != "Rows" {
		t.Errorf("unexpected sheets options %+v", opts)
	}

	app.DataBackend = "postgres"
	if _, err := FromAppConfig(app); err == nil {
		t.Error("expected error for invalid backend")
	}
}

func TestCreateMemoryBackend(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "seed_categories.txt"), []byte("Rent\nFood\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: MemoryBackend, DataDirectory: dir})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	defer result.Close()

	names, err := result.Backend.CategoryNames(context.Background())
	if err != nil {
		t.Fatalf("CategoryNames: %v", err)
	}
	if len(names) != 2 || names[0] != "Rent" {
		t.Errorf("categories = %v", names)
	}
	if result.SyncEnabled || result.Broker != nil || result.Ping != nil {
		t.Errorf("memory backend should have no sync, broker or ping: %+v", result)
	}
}

func TestCreateSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	result, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: SQLiteBackend, SQLiteDBPath: path})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	defer result.Close()

	ctx := context.Background()
	if !result.SyncEnabled {
		t.Error("sqlite backend should enable sync")
	}
	if err := result.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}

	names, err := result.Backend.CategoryNames(ctx)
	if err != nil {
		t.Fatalf("CategoryNames: %v", err)
	}
	if len(names) != len(core.DefaultCategories) {
		t.Errorf("expected seeded default categories, got %v", names)
	}

	ref, err := result.Backend.AppendEntries(ctx, core.LedgerBatch{
		UserID:  "alice",
		Year:    2025,
		Month:   1,
		Entries: []core.ExpenseEntry{{Category: "Food", Amount: 3}},
	})
	if err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}
	if ref != "1" {
		t.Errorf("ref = %q, want 1", ref)
	}
}

func TestCreateBackendInvalid(t *testing.T) {
	if _, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: "postgres"}); err == nil {
		t.Error("expected error for invalid type")
	}
}
