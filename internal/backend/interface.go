package backend

import (
	"context"

	"lifeledger/internal/amqp"
	"lifeledger/internal/ledger"
)

// Backend is the storage the API process reads categories from and writes
// confirmed entries to.
type Backend interface {
	ledger.CategoryReader
	ledger.EntryWriter
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and the optional pieces that
// depend on it.
type BackendResult struct {
	Backend Backend

	// Broker is set when AMQP_URL is configured and the connection succeeded.
	Broker *amqp.Client

	// SyncEnabled reports whether saved batches should be announced to the
	// worker. Only the local database has batches to mirror.
	SyncEnabled bool

	// Ping checks the backend is reachable. Nil means always ready.
	Ping func(ctx context.Context) error

	Cleanup CleanupFunc
}

// Close runs the cleanup function and closes the broker connection.
func (r *BackendResult) Close() error {
	var firstErr error
	if r.Broker != nil {
		if err := r.Broker.Close(); err != nil {
			firstErr = err
		}
	}
	if r.Cleanup != nil {
		if err := r.Cleanup(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Optional broker, any backend
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets specific
	GoogleSpreadsheetID       string
	GoogleCategoriesSheetName string
	GoogleLedgerSheetName     string
	GoogleServiceAccountJSON  string
	GoogleServiceAccountFile  string

	// Memory backend specific
	DataDirectory string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
