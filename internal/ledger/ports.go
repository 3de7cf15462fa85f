// Package ledger declares the storage ports shared by the SQLite, Google
// Sheets and in-memory backends.
package ledger

import (
	"context"

	"lifeledger/internal/core"
)

// Ports for outbound adapters.
type (
	// CategoryReader returns every spending category currently defined.
	// An empty slice with a nil error is a valid, if unusual, answer.
	CategoryReader interface {
		CategoryNames(ctx context.Context) ([]string, error)
	}

	// EntryWriter persists a confirmed batch and returns a backend reference.
	EntryWriter interface {
		AppendEntries(ctx context.Context, batch core.LedgerBatch) (ref string, err error)
	}

	// CategoryStore can replace its category set, used by the worker to
	// mirror categories maintained in a spreadsheet.
	CategoryStore interface {
		CategoryReader
		ReplaceCategories(ctx context.Context, names []string) error
	}
)
