package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"lifeledger/internal/core"
	"lifeledger/internal/ledger"
	applog "lifeledger/internal/log"
)

// SyncPublisher announces a locally stored batch so the worker can mirror it.
type SyncPublisher interface {
	PublishLedgerSync(ctx context.Context, batchID int64) error
}

// LedgerService orchestrates saving confirmed entries to the configured
// backend and notifying the worker.
type LedgerService struct {
	writer    ledger.EntryWriter
	publisher SyncPublisher
	logger    *applog.Logger
	now       func() time.Time
}

// NewLedgerService wires a service. publisher may be nil when no broker is
// configured or the backend is not the local database.
func NewLedgerService(writer ledger.EntryWriter, publisher SyncPublisher, logger *applog.Logger) *LedgerService {
	if logger == nil {
		logger = applog.Discard()
	}
	return &LedgerService{
		writer:    writer,
		publisher: publisher,
		logger:    logger.WithComponent(applog.ComponentLedger),
		now:       time.Now,
	}
}

// SaveEntries validates and writes a batch. A zero year or month defaults to
// the current one. The sync message is best effort: the batch is saved even
// when publishing fails.
func (s *LedgerService) SaveEntries(ctx context.Context, b core.LedgerBatch) (string, error) {
	now := s.now()
	if b.Year == 0 {
		b.Year = now.Year()
	}
	if b.Month == 0 {
		b.Month = int(now.Month())
	}
	b.Entries = append([]core.ExpenseEntry(nil), b.Entries...)
	for i := range b.Entries {
		b.Entries[i].Amount = core.RoundAmount(b.Entries[i].Amount)
	}
	if err := b.Validate(); err != nil {
		return "", fmt.Errorf("validate batch: %w", err)
	}

	ref, err := s.writer.AppendEntries(ctx, b)
	if err != nil {
		return "", fmt.Errorf("save entries: %w", err)
	}

	s.logger.InfoContext(ctx, "Ledger entries saved",
		applog.FieldUserID, b.UserID,
		applog.FieldYear, b.Year,
		applog.FieldMonth, b.Month,
		applog.FieldEntryCount, len(b.Entries),
		applog.FieldLedgerTotal, b.Total(),
		"ref", ref)

	s.publishSync(ctx, ref)
	return ref, nil
}

func (s *LedgerService) publishSync(ctx context.Context, ref string) {
	if s.publisher == nil {
		return
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		s.logger.DebugContext(ctx, "Reference is not a local batch id, skipping sync message", "ref", ref)
		return
	}
	if err := s.publisher.PublishLedgerSync(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger sync message",
			applog.FieldBatchID, id,
			applog.FieldError, err)
	}
}
