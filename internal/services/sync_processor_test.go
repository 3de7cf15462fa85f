package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSyncer struct {
	pending    atomic.Int32
	categories atomic.Int32
	err        error
}

func (s *countingSyncer) ProcessPendingBatches(context.Context) (int, error) {
	s.pending.Add(1)
	return 1, s.err
}

func (s *countingSyncer) RefreshCategories(context.Context) error {
	s.categories.Add(1)
	return s.err
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()

	if config.PollInterval != 5*time.Minute {
		t.Errorf("expected PollInterval 5m, got %v", config.PollInterval)
	}
	if config.CategoryInterval != 24*time.Hour {
		t.Errorf("expected CategoryInterval 24h, got %v", config.CategoryInterval)
	}
}

func TestNewSyncProcessor_FillsDefaults(t *testing.T) {
	processor := NewSyncProcessor(&countingSyncer{}, SyncProcessorConfig{PollInterval: time.Second}, nil)

	if processor.config.PollInterval != time.Second {
		t.Errorf("expected custom PollInterval 1s, got %v", processor.config.PollInterval)
	}
	if processor.config.CategoryInterval != 24*time.Hour {
		t.Errorf("expected default CategoryInterval, got %v", processor.config.CategoryInterval)
	}
}

func TestSyncProcessor_Lifecycle(t *testing.T) {
	syncer := &countingSyncer{}
	processor := NewSyncProcessor(syncer, SyncProcessorConfig{
		PollInterval:     10 * time.Millisecond,
		CategoryInterval: time.Hour,
	}, nil)

	if processor.IsRunning() {
		t.Fatal("processor should not be running initially")
	}

	ctx := context.Background()
	if err := processor.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := processor.Start(ctx); err == nil {
		t.Error("expected error when starting already running processor")
	}

	deadline := time.Now().Add(2 * time.Second)
	for syncer.pending.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if processor.IsRunning() {
		t.Error("processor should not be running after stop")
	}

	if syncer.pending.Load() < 2 {
		t.Errorf("expected at least 2 pending passes, got %d", syncer.pending.Load())
	}
	if syncer.categories.Load() != 1 {
		t.Errorf("expected 1 category refresh on start, got %d", syncer.categories.Load())
	}
}

func TestSyncProcessor_ErrorsDoNotStopLoop(t *testing.T) {
	syncer := &countingSyncer{err: errors.New("sheets down")}
	processor := NewSyncProcessor(syncer, SyncProcessorConfig{
		PollInterval:     5 * time.Millisecond,
		CategoryInterval: time.Hour,
	}, nil)

	if err := processor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for syncer.pending.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_ = processor.Stop(context.Background())

	if syncer.pending.Load() < 3 {
		t.Errorf("loop stopped after errors: %d passes", syncer.pending.Load())
	}
}

func TestSyncProcessor_StopNotRunning(t *testing.T) {
	processor := NewSyncProcessor(&countingSyncer{}, DefaultSyncProcessorConfig(), nil)

	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}
