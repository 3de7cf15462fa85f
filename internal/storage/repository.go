package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lifeledger/internal/core"
	"lifeledger/internal/ledger"

	_ "modernc.org/sqlite"
)

var (
	_ ledger.CategoryStore = (*SQLiteRepository)(nil)
	_ ledger.EntryWriter   = (*SQLiteRepository)(nil)
)

// ErrBatchNotFound is returned when a ledger batch id does not exist.
var ErrBatchNotFound = errors.New("ledger batch not found")

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CategoryNames implements ledger.CategoryReader
func (r *SQLiteRepository) CategoryNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM spending_categories ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return names, nil
}

// ReplaceCategories swaps the whole category set in one transaction.
func (r *SQLiteRepository) ReplaceCategories(ctx context.Context, names []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM spending_categories`); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	position := 0
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		position++
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO spending_categories (name, position) VALUES (?, ?)`, name, position); err != nil {
			return fmt.Errorf("insert category %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit categories: %w", err)
	}

	slog.InfoContext(ctx, "Categories replaced", "count", position)
	return nil
}

// AppendEntries implements ledger.EntryWriter. The batch and its entries are
// written in one transaction; the returned reference is the batch id.
func (r *SQLiteRepository) AppendEntries(ctx context.Context, b core.LedgerBatch) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_batches (user_id, year, month, credit_card) VALUES (?, ?, ?, ?)`,
		b.UserID, b.Year, b.Month, b.CreditCard)
	if err != nil {
		return "", fmt.Errorf("insert batch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("batch id: %w", err)
	}

	for i, e := range b.Entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (batch_id, position, category, amount, notes) VALUES (?, ?, ?, ?, ?)`,
			id, i, e.Category, core.RoundAmount(e.Amount), e.Notes); err != nil {
			return "", fmt.Errorf("insert entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit batch: %w", err)
	}

	slog.InfoContext(ctx, "Ledger batch saved to SQLite",
		"id", id,
		"user_id", b.UserID,
		"year", b.Year,
		"month", b.Month,
		"entries", len(b.Entries))

	return strconv.FormatInt(id, 10), nil
}

// GetBatch loads a batch with its entries in their original order.
func (r *SQLiteRepository) GetBatch(ctx context.Context, id int64) (core.LedgerBatch, error) {
	var (
		b         core.LedgerBatch
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, year, month, credit_card, created_at FROM ledger_batches WHERE id = ?`, id).
		Scan(&b.ID, &b.UserID, &b.Year, &b.Month, &b.CreditCard, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerBatch{}, fmt.Errorf("batch %d: %w", id, ErrBatchNotFound)
	}
	if err != nil {
		return core.LedgerBatch{}, fmt.Errorf("get batch %d: %w", id, err)
	}
	b.CreatedAt = parseTimestamp(createdAt)

	rows, err := r.db.QueryContext(ctx,
		`SELECT category, amount, notes FROM ledger_entries WHERE batch_id = ? ORDER BY position`, id)
	if err != nil {
		return core.LedgerBatch{}, fmt.Errorf("query entries for batch %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var e core.ExpenseEntry
		if err := rows.Scan(&e.Category, &e.Amount, &e.Notes); err != nil {
			return core.LedgerBatch{}, fmt.Errorf("scan entry: %w", err)
		}
		b.Entries = append(b.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return core.LedgerBatch{}, fmt.Errorf("iterate entries: %w", err)
	}
	return b, nil
}

// PendingBatchIDs returns ids of batches not yet mirrored to the spreadsheet.
func (r *SQLiteRepository) PendingBatchIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM ledger_batches WHERE synced_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending batches: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending batch: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkBatchSynced records that a batch reached the spreadsheet.
func (r *SQLiteRepository) MarkBatchSynced(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE ledger_batches SET synced_at = ? WHERE id = ?`, at.UTC().Format(timestampLayout), id)
	if err != nil {
		return fmt.Errorf("mark batch %d synced: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %d: %w", id, ErrBatchNotFound)
	}
	return nil
}

// InsertAudit stores one extraction audit record.
func (r *SQLiteRepository) InsertAudit(ctx context.Context, a core.ExtractionAudit) (int64, error) {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO extraction_audit (user_id, session_id, year, month, entry_count, raw_response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.SessionID, nullableInt(a.Year), nullableInt(a.Month), a.EntryCount, a.RawResponse, createdAt.UTC().Format(timestampLayout))
	if err != nil {
		return 0, fmt.Errorf("insert audit: %w", err)
	}
	return res.LastInsertId()
}

// RecentAudits returns the newest audit records for a user.
func (r *SQLiteRepository) RecentAudits(ctx context.Context, userID string, limit int) ([]core.ExtractionAudit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, session_id, year, month, entry_count, raw_response, created_at
		 FROM extraction_audit WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	defer rows.Close()

	var out []core.ExtractionAudit
	for rows.Next() {
		var (
			a           core.ExtractionAudit
			year, month sql.NullInt64
			createdAt   string
		)
		if err := rows.Scan(&a.UserID, &a.SessionID, &year, &month, &a.EntryCount, &a.RawResponse, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		a.CreatedAt = parseTimestamp(createdAt)
		a.Year = intPtr(year)
		a.Month = intPtr(month)
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

const timestampLayout = "2006-01-02 15:04:05"

// parseTimestamp accepts the layouts SQLite and the driver produce for
// DATETIME columns; unparseable values yield the zero time.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, timestampLayout, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
