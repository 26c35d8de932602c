package fakes

import (
	"context"
	"sync"

	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/ports"
)

// HintStore keeps the hint in memory.
type HintStore struct {
	mu   sync.Mutex
	hint *domain.ConnectionHint

	// ClearErr is returned by ClearHint, which then keeps the hint.
	ClearErr error
}

var _ ports.HintStore = (*HintStore)(nil)

func (h *HintStore) SaveHint(_ context.Context, hint domain.ConnectionHint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hint = &hint
	return nil
}

func (h *HintStore) LoadHint(context.Context) (domain.ConnectionHint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hint == nil {
		return domain.ConnectionHint{}, ports.ErrNoHint
	}
	return *h.hint, nil
}

func (h *HintStore) ClearHint(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ClearErr != nil {
		return h.ClearErr
	}
	h.hint = nil
	return nil
}

// Has reports whether a hint is stored.
func (h *HintStore) Has() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hint != nil
}

// Journal keeps entries in memory.
type Journal struct {
	mu      sync.Mutex
	entries []domain.JournalEntry
}

var _ ports.Journal = (*Journal)(nil)

func (j *Journal) RecordOutcome(_ context.Context, e domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *Journal) RecentOutcomes(_ context.Context, limit int) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.JournalEntry, 0, limit)
	for i := len(j.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.entries[i])
	}
	return out, nil
}
