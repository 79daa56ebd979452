package services

import (
	"sync"

	"tts-gateway/internal/models"
)

// History is a bounded, in-memory log of recent playground synthesis
// results, newest first. It is owned by the composition root and handed to
// the handlers that need it; nothing is persisted, so the ring empties on
// restart.
type History struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
	limit   int
}

const defaultHistoryLimit = 10

func NewHistory() *History {
	return &History{limit: defaultHistoryLimit}
}

// Record prepends the entry and evicts anything beyond the cap.
func (h *History) Record(entry models.HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append([]models.HistoryEntry{entry}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
}

// List returns a copy of the entries, newest first.
func (h *History) List() []models.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]models.HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Remove deletes the entry with the given id, reporting whether it existed.
func (h *History) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, e := range h.entries {
		if e.ID == id {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
