package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	applog "lifeledger/internal/log"
)

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often pending ledger batches are retried (default: 5m)
	PollInterval time.Duration

	// CategoryInterval is how often categories are refreshed from the
	// remote sheet (default: 24h)
	CategoryInterval time.Duration
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:     5 * time.Minute,
		CategoryInterval: 24 * time.Hour,
	}
}

// Syncer is the work the processor schedules.
type Syncer interface {
	ProcessPendingBatches(ctx context.Context) (int, error)
	RefreshCategories(ctx context.Context) error
}

// SyncProcessor periodically retries unsynced ledger batches and refreshes
// categories. Broker messages cover the normal path; this loop covers lost
// messages and worker downtime.
type SyncProcessor struct {
	syncer Syncer
	config SyncProcessorConfig
	logger *applog.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncProcessor creates a new sync processor
func NewSyncProcessor(syncer Syncer, config SyncProcessorConfig, logger *applog.Logger) *SyncProcessor {
	if logger == nil {
		logger = applog.Discard()
	}
	defaults := DefaultSyncProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.CategoryInterval <= 0 {
		config.CategoryInterval = defaults.CategoryInterval
	}
	return &SyncProcessor{
		syncer: syncer,
		config: config,
		logger: logger.WithComponent(applog.ComponentWorker),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"category_interval", p.config.CategoryInterval)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	categoryTicker := time.NewTicker(p.config.CategoryInterval)
	defer categoryTicker.Stop()

	p.refreshCategories(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processPending(ctx)
		case <-categoryTicker.C:
			p.refreshCategories(ctx)
		}
	}
}

func (p *SyncProcessor) processPending(ctx context.Context) {
	n, err := p.syncer.ProcessPendingBatches(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to process pending batches", applog.FieldError, err)
		return
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "Pending batches synced", "count", n)
	}
}

func (p *SyncProcessor) refreshCategories(ctx context.Context) {
	if err := p.syncer.RefreshCategories(ctx); err != nil {
		p.logger.WarnContext(ctx, "Category refresh failed", applog.FieldError, err)
	}
}
