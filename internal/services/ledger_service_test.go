package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"lifeledger/internal/core"
	"lifeledger/internal/ledger/memory"
)

type fakeWriter struct {
	ref     string
	err     error
	batches []core.LedgerBatch
}

func (w *fakeWriter) AppendEntries(_ context.Context, b core.LedgerBatch) (string, error) {
	w.batches = append(w.batches, b)
	return w.ref, w.err
}

type fakePublisher struct {
	ids []int64
	err error
}

func (p *fakePublisher) PublishLedgerSync(_ context.Context, id int64) error {
	p.ids = append(p.ids, id)
	return p.err
}

func fixedNow() time.Time { return time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC) }

func TestLedgerService_SaveEntries(t *testing.T) {
	writer := &fakeWriter{ref: "42"}
	pub := &fakePublisher{}
	svc := NewLedgerService(writer, pub, nil)
	svc.now = fixedNow

	ref, err := svc.SaveEntries(context.Background(), core.LedgerBatch{
		UserID:  "alice",
		Entries: []core.ExpenseEntry{{Category: "Food", Amount: 12.346}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "42" {
		t.Errorf("ref = %q, want 42", ref)
	}

	if len(writer.batches) != 1 {
		t.Fatalf("expected 1 write, got %d", len(writer.batches))
	}
	got := writer.batches[0]
	if got.Year != 2025 || got.Month != 3 {
		t.Errorf("period = %d-%d, want 2025-3", got.Year, got.Month)
	}
	if got.Entries[0].Amount != 12.35 {
		t.Errorf("amount = %v, want 12.35", got.Entries[0].Amount)
	}
	if len(pub.ids) != 1 || pub.ids[0] != 42 {
		t.Errorf("published ids = %v, want [42]", pub.ids)
	}
}

func TestLedgerService_ExplicitPeriodKept(t *testing.T) {
	writer := &fakeWriter{ref: "1"}
	svc := NewLedgerService(writer, nil, nil)
	svc.now = fixedNow

	_, err := svc.SaveEntries(context.Background(), core.LedgerBatch{
		UserID:  "alice",
		Year:    2024,
		Month:   11,
		Entries: []core.ExpenseEntry{{Category: "Food", Amount: 1}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b := writer.batches[0]; b.Year != 2024 || b.Month != 11 {
		t.Errorf("period = %d-%d, want 2024-11", b.Year, b.Month)
	}
}

func TestLedgerService_Validation(t *testing.T) {
	tests := []struct {
		name  string
		batch core.LedgerBatch
		want  error
	}{
		{"no user", core.LedgerBatch{Entries: []core.ExpenseEntry{{Category: "Food", Amount: 1}}}, core.ErrEmptyUser},
		{"no entries", core.LedgerBatch{UserID: "alice"}, core.ErrNoEntries},
		{"bad month", core.LedgerBatch{UserID: "alice", Month: 13, Entries: []core.ExpenseEntry{{Category: "Food", Amount: 1}}}, core.ErrInvalidMonth},
		{"empty category", core.LedgerBatch{UserID: "alice", Entries: []core.ExpenseEntry{{Amount: 1}}}, core.ErrEmptyCategory},
		{"zero amount", core.LedgerBatch{UserID: "alice", Entries: []core.ExpenseEntry{{Category: "Food", Amount: 0.001}}}, core.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := &fakeWriter{ref: "1"}
			svc := NewLedgerService(writer, nil, nil)
			svc.now = fixedNow

			_, err := svc.SaveEntries(context.Background(), tt.batch)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if len(writer.batches) != 0 {
				t.Error("invalid batch must not be written")
			}
		})
	}
}

func TestLedgerService_WriteError(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewLedgerService(&fakeWriter{err: errors.New("disk full")}, pub, nil)

	_, err := svc.SaveEntries(context.Background(), core.LedgerBatch{
		UserID:  "alice",
		Entries: []core.ExpenseEntry{{Category: "Food", Amount: 1}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(pub.ids) != 0 {
		t.Error("nothing should be published when the write fails")
	}
}

func TestLedgerService_PublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := NewLedgerService(&fakeWriter{ref: "7"}, pub, nil)

	ref, err := svc.SaveEntries(context.Background(), core.LedgerBatch{
		UserID:  "alice",
		Entries: []core.ExpenseEntry{{Category: "Food", Amount: 1}},
	})
	if err != nil {
		t.Fatalf("publish failure should not fail the save: %v", err)
	}
	if ref != "7" {
		t.Errorf("ref = %q, want 7", ref)
	}
}

func TestLedgerService_NonNumericRefSkipsPublish(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewLedgerService(memory.New(core.DefaultCategories), pub, nil)

	ref, err := svc.SaveEntries(context.Background(), core.LedgerBatch{
		UserID:  "alice",
		Entries: []core.ExpenseEntry{{Category: "Food", Amount: 1}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "mem:1" {
		t.Errorf("ref = %q, want mem:1", ref)
	}
	if len(pub.ids) != 0 {
		t.Errorf("expected no publish for %q, got %v", ref, pub.ids)
	}
}
