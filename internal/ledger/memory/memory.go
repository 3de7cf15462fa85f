package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lifeledger/internal/core"
	"lifeledger/internal/ledger"
)

var (
	_ ledger.CategoryStore = (*Store)(nil)
	_ ledger.EntryWriter   = (*Store)(nil)
)

type Store struct {
	mu      sync.Mutex
	cats    []string
	batches []core.LedgerBatch
}

func New(cats []string) *Store {
	return &Store{cats: dedupe(cats)}
}

// NewFromFiles seeds categories from base/seed_categories.txt, falling back
// to the default vocabulary when the file is missing or empty.
func NewFromFiles(base string) *Store {
	cats := readLines(filepath.Join(base, "seed_categories.txt"))
	if len(cats) == 0 {
		cats = core.DefaultCategories
	}
	return New(cats)
}

// AppendEntries stores the batch and returns a synthetic reference.
func (s *Store) AppendEntries(_ context.Context, b core.LedgerBatch) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = int64(len(s.batches) + 1)
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.Entries = append([]core.ExpenseEntry(nil), b.Entries...)
	s.batches = append(s.batches, b)
	return fmt.Sprintf("mem:%d", b.ID), nil
}

// CategoryNames returns the categories in insertion order.
func (s *Store) CategoryNames(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cats...), nil
}

func (s *Store) ReplaceCategories(_ context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cats = dedupe(names)
	return nil
}

// Batches returns a copy of every stored batch.
func (s *Store) Batches() []core.LedgerBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.LedgerBatch(nil), s.batches...)
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return dedupe(out)
}

// dedupe trims, drops blanks and keeps the first occurrence of each name.
func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
