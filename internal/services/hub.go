package services

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"tts-gateway/internal/models"

	"github.com/gorilla/websocket"
)

// DashboardHub manages WebSocket connections from dashboard clients and
// broadcasts a fresh stats snapshot whenever a request is forwarded or the
// playground history changes.
type DashboardHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
	keys    *KeyService
	catalog *VoiceCatalog
	history *History
	// debounce broadcasts to avoid hammering the DB on burst traffic
	debounceT *time.Timer
}

func NewDashboardHub(keys *KeyService, catalog *VoiceCatalog, history *History) *DashboardHub {
	return &DashboardHub{
		clients: make(map[*websocket.Conn]bool),
		keys:    keys,
		catalog: catalog,
		history: history,
	}
}

// Register adds a new WebSocket connection and sends the initial snapshot.
func (h *DashboardHub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	h.sendTo(conn)

	// Keep the connection alive by reading (and discarding) client messages.
	// When the client disconnects, the read fails and we unregister.
	go func() {
		defer h.unregister(conn)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, exists := h.clients[conn]
			h.mu.RUnlock()
			if !exists {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}()
}

func (h *DashboardHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *DashboardHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NotifyUpdate schedules a broadcast, debounced to at most one per 500ms.
func (h *DashboardHub) NotifyUpdate() {
	if h.clientCount() == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.debounceT != nil {
		return
	}
	h.debounceT = time.AfterFunc(500*time.Millisecond, func() {
		h.mu.Lock()
		h.debounceT = nil
		h.mu.Unlock()
		h.broadcast()
	})
}

func (h *DashboardHub) broadcast() {
	payload := h.buildPayload()
	if payload == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("[WS] Write error, removing client: %v", err)
			go h.unregister(conn)
		}
	}
}

func (h *DashboardHub) sendTo(conn *websocket.Conn) {
	if payload := h.buildPayload(); payload != nil {
		conn.WriteMessage(websocket.TextMessage, payload)
	}
}

// DashboardPayload is the JSON structure pushed to dashboard clients.
type DashboardPayload struct {
	Type    string                `json:"type"`
	Usage   *models.UsageStats    `json:"usage"`
	Voices  *models.VoiceStats    `json:"voices"`
	History int                   `json:"history_count"`
	Recent  []models.HistoryEntry `json:"recent_history"`
}

func (h *DashboardHub) buildPayload() []byte {
	usage, err := h.keys.UsageStats()
	if err != nil {
		log.Printf("[WS] Failed to get usage stats: %v", err)
		return nil
	}

	recent := h.history.List()
	payload := DashboardPayload{
		Type:    "stats_update",
		Usage:   usage,
		Voices:  h.catalog.Stats(),
		History: len(recent),
		Recent:  recent,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[WS] Failed to marshal payload: %v", err)
		return nil
	}
	return data
}
