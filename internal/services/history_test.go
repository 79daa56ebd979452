package services

import (
	"fmt"
	"testing"

	"tts-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id string) models.HistoryEntry {
	return models.HistoryEntry{ID: id, Voice: "emma", Text: "hello " + id}
}

func TestHistoryNewestFirst(t *testing.T) {
	h := NewHistory()
	h.Record(entry("a"))
	h.Record(entry("b"))
	h.Record(entry("c"))

	list := h.List()
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "a", list[2].ID)
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 12; i++ {
		h.Record(entry(fmt.Sprintf("e%d", i)))
	}

	list := h.List()
	require.Len(t, list, 10)
	assert.Equal(t, "e11", list[0].ID)
	assert.Equal(t, "e2", list[9].ID, "the two oldest entries are gone")
}

func TestHistoryRemove(t *testing.T) {
	h := NewHistory()
	h.Record(entry("a"))
	h.Record(entry("b"))

	assert.True(t, h.Remove("a"))
	assert.False(t, h.Remove("a"))
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, "b", h.List()[0].ID)
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory()
	h.Record(entry("a"))
	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.List())
}

func TestHistoryListIsACopy(t *testing.T) {
	h := NewHistory()
	h.Record(entry("a"))

	list := h.List()
	list[0].ID = "mutated"
	assert.Equal(t, "a", h.List()[0].ID)
}
