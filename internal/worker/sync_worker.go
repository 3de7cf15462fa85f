// Package worker consumes broker messages produced by the API process: it
// stores extraction audits and mirrors saved ledger batches to the remote
// spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lifeledger/internal/amqp"
	"lifeledger/internal/core"
	"lifeledger/internal/ledger"
	applog "lifeledger/internal/log"
	"lifeledger/internal/services"
	"lifeledger/internal/storage"
)

var _ services.Syncer = (*SyncWorker)(nil)

// BatchStore is the local ledger the worker mirrors from.
type BatchStore interface {
	GetBatch(ctx context.Context, id int64) (core.LedgerBatch, error)
	PendingBatchIDs(ctx context.Context, limit int) ([]int64, error)
	MarkBatchSynced(ctx context.Context, id int64, at time.Time) error
}

// AuditStore persists extraction audits.
type AuditStore interface {
	InsertAudit(ctx context.Context, a core.ExtractionAudit) (int64, error)
}

// SyncWorker handles synchronization of ledger batches from SQLite to Google
// Sheets and keeps the local category list in step with the spreadsheet.
type SyncWorker struct {
	batches   BatchStore
	audits    AuditStore
	remote    ledger.EntryWriter
	source    ledger.CategoryReader
	local     ledger.CategoryStore
	batchSize int
	logger    *applog.Logger
}

type Options struct {
	// Remote receives mirrored batches. Nil disables mirroring.
	Remote ledger.EntryWriter
	// CategorySource is read by RefreshCategories. Nil disables the refresh.
	CategorySource ledger.CategoryReader
	BatchSize      int
}

// NewSyncWorker wires a worker around the local SQLite repository.
func NewSyncWorker(repo *storage.SQLiteRepository, opts Options, logger *applog.Logger) *SyncWorker {
	return newSyncWorker(repo, repo, repo, opts, logger)
}

func newSyncWorker(batches BatchStore, audits AuditStore, local ledger.CategoryStore, opts Options, logger *applog.Logger) *SyncWorker {
	if logger == nil {
		logger = applog.Discard()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &SyncWorker{
		batches:   batches,
		audits:    audits,
		remote:    opts.Remote,
		source:    opts.CategorySource,
		local:     local,
		batchSize: opts.BatchSize,
		logger:    logger.WithComponent(applog.ComponentWorker),
	}
}

// Handlers returns the broker callbacks served by this worker.
func (w *SyncWorker) Handlers() amqp.Handlers {
	return amqp.Handlers{
		Audit:      w.HandleAuditMessage,
		LedgerSync: w.HandleLedgerSyncMessage,
	}
}

// HandleAuditMessage stores one extraction audit.
func (w *SyncWorker) HandleAuditMessage(ctx context.Context, msg *amqp.ExtractionAuditMessage) error {
	id, err := w.audits.InsertAudit(ctx, msg.Audit())
	if err != nil {
		return fmt.Errorf("store audit: %w", err)
	}
	w.logger.DebugContext(ctx, "Stored extraction audit",
		"audit_id", id,
		applog.FieldUserID, msg.UserID,
		applog.FieldEntryCount, msg.EntryCount)
	return nil
}

// HandleLedgerSyncMessage mirrors the announced batch.
func (w *SyncWorker) HandleLedgerSyncMessage(ctx context.Context, msg *amqp.LedgerSyncMessage) error {
	w.logger.InfoContext(ctx, "Processing ledger sync message", applog.FieldBatchID, msg.BatchID)

	err := w.syncBatch(ctx, msg.BatchID)
	if errors.Is(err, storage.ErrBatchNotFound) {
		// nothing to retry: the batch is gone locally
		w.logger.WarnContext(ctx, "Ledger batch not found, dropping sync message", applog.FieldBatchID, msg.BatchID)
		return nil
	}
	return err
}

// ProcessPendingBatches mirrors batches that were never synced. It is the
// fallback for lost broker messages and returns how many batches synced.
func (w *SyncWorker) ProcessPendingBatches(ctx context.Context) (int, error) {
	return w.processPending(ctx, w.batchSize)
}

// StartupSyncCheck runs a larger pending pass when the worker starts.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	synced, err := w.processPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync check: %w", err)
	}
	w.logger.InfoContext(ctx, "Startup sync completed", "synced", synced)
	return nil
}

func (w *SyncWorker) processPending(ctx context.Context, limit int) (int, error) {
	if w.remote == nil {
		return 0, nil
	}
	ids, err := w.batches.PendingBatchIDs(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending batches: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	w.logger.InfoContext(ctx, "Processing pending batches", "count", len(ids))
	synced := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if err := w.syncBatch(ctx, id); err != nil {
			w.logger.ErrorContext(ctx, "Failed to sync batch",
				applog.FieldBatchID, id,
				applog.FieldError, err)
			continue
		}
		synced++
	}
	return synced, nil
}

func (w *SyncWorker) syncBatch(ctx context.Context, id int64) error {
	if w.remote == nil {
		w.logger.DebugContext(ctx, "No remote ledger configured, skipping sync", applog.FieldBatchID, id)
		return nil
	}

	b, err := w.batches.GetBatch(ctx, id)
	if err != nil {
		return fmt.Errorf("get batch %d: %w", id, err)
	}

	ref, err := w.remote.AppendEntries(ctx, b)
	if err != nil {
		return fmt.Errorf("append batch %d to remote ledger: %w", id, err)
	}

	if err := w.batches.MarkBatchSynced(ctx, id, time.Now()); err != nil {
		// the rows are already remote; a retry would duplicate them
		w.logger.ErrorContext(ctx, "Failed to mark batch as synced",
			applog.FieldBatchID, id,
			applog.FieldError, err)
	}

	w.logger.InfoContext(ctx, "Synced ledger batch",
		applog.FieldBatchID, id,
		applog.FieldEntryCount, len(b.Entries),
		applog.FieldLedgerTotal, b.Total(),
		"remote_ref", ref)
	return nil
}

// RefreshCategories replaces the local categories with the remote list. An
// empty remote list is ignored so a blank sheet cannot wipe the vocabulary.
func (w *SyncWorker) RefreshCategories(ctx context.Context) error {
	if w.source == nil {
		return nil
	}
	names, err := w.source.CategoryNames(ctx)
	if err != nil {
		return fmt.Errorf("load remote categories: %w", err)
	}
	if len(names) == 0 {
		w.logger.WarnContext(ctx, "Remote category list is empty, keeping local categories")
		return nil
	}
	if err := w.local.ReplaceCategories(ctx, names); err != nil {
		return fmt.Errorf("replace local categories: %w", err)
	}
	w.logger.InfoContext(ctx, "Categories refreshed", applog.FieldCategories, len(names))
	return nil
}
