package manager

import (
	"sync"

	"github.com/artpar/rollout/internal/core/domain"
)

// History is the append-only log of finished runs owned by a Manager.
type History interface {
	Append(entry domain.HistoryEntry)
	Entries() []domain.HistoryEntry
}

// MemoryHistory keeps entries in process memory for the process lifetime.
// Appends are serialised, and readers only ever see whole entries.
type MemoryHistory struct {
	mu      sync.RWMutex
	entries []domain.HistoryEntry
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Append(entry domain.HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
}

// Entries returns a copy of the log in append order.
func (h *MemoryHistory) Entries() []domain.HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of entries.
func (h *MemoryHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
