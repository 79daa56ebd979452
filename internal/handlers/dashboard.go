package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"tts-gateway/internal/apierror"
	"tts-gateway/internal/config"
	"tts-gateway/internal/logger"
	"tts-gateway/internal/middleware"
	"tts-gateway/internal/models"
	"tts-gateway/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// DashboardHandler serves the session-gated administrative API consumed by
// the dashboard UI.
type DashboardHandler struct {
	cfg     *config.Config
	keys    *services.KeyService
	catalog *services.VoiceCatalog
	speech  *services.SpeechService
	history *services.History
	hub     *services.DashboardHub
	session *middleware.SessionAuth
	auth    *middleware.AuthMiddleware
}

func NewDashboardHandler(
	cfg *config.Config,
	keys *services.KeyService,
	catalog *services.VoiceCatalog,
	speech *services.SpeechService,
	history *services.History,
	hub *services.DashboardHub,
	session *middleware.SessionAuth,
	auth *middleware.AuthMiddleware,
) *DashboardHandler {
	return &DashboardHandler{
		cfg:     cfg,
		keys:    keys,
		catalog: catalog,
		speech:  speech,
		history: history,
		hub:     hub,
		session: session,
		auth:    auth,
	}
}

func (h *DashboardHandler) RegisterRoutes(r chi.Router) {
	r.Post("/dashboard/login", h.Login)
	r.Get("/dashboard/ws", h.HandleWS)

	r.Route("/dashboard/api", func(r chi.Router) {
		r.Use(h.session.Handler)

		r.Get("/stats", h.Stats)
		r.Get("/keys", h.ListKeys)
		r.Post("/keys", h.CreateKey)
		r.Delete("/keys/{keyID}", h.DeleteKey)
		r.Put("/keys/{keyID}/mapping", h.UpdateMapping)
		r.Get("/original-keys", h.ListOriginalKeys)
		r.Post("/original-keys", h.CreateOriginalKey)
		r.Delete("/original-keys/{keyID}", h.DeleteOriginalKey)
		r.Get("/playground-keys", h.PlaygroundKeys)
		r.Get("/voices", h.Voices)
		r.Get("/voice-categories", h.VoiceCategories)
		r.Post("/refresh-voices", h.RefreshVoices)
		r.Post("/test-tts", h.TestTTS)
		r.Get("/tts-history", h.GetHistory)
		r.Delete("/tts-history/{entryID}", h.DeleteHistoryEntry)
		r.Delete("/tts-history", h.ClearHistory)
	})
}

func (h *DashboardHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, apierror.Validation("Invalid JSON body"))
		return
	}

	if req.Username != h.cfg.Admin.Username {
		apierror.WriteJSON(w, apierror.Authentication("Invalid credentials"))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.cfg.Admin.PasswordHash), []byte(req.Password)); err != nil {
		apierror.WriteJSON(w, apierror.Authentication("Invalid credentials"))
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": "Dashboard access granted",
		"token":   h.session.IssueToken(),
	})
}

// HandleWS upgrades the connection and registers it with the hub. Browsers
// cannot set Authorization headers on WebSocket requests, so the session
// token is passed as a query parameter.
func (h *DashboardHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || !h.session.ValidateToken(token) {
		apierror.WriteJSON(w, apierror.Authentication("Dashboard access required"))
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Warnw("websocket upgrade failed", "error", err)
		return
	}
	h.hub.Register(conn)
}

func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	usage, err := h.keys.UsageStats()
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err))
		return
	}

	voiceStats := h.catalog.Stats()
	SetCachedVoices(voiceStats.Total)

	writeJSON(w, map[string]interface{}{
		"usage":  usage,
		"voices": voiceStats,
	})
}

func (h *DashboardHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListCustomKeys(true)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err))
		return
	}
	writeJSON(w, map[string]interface{}{"keys": keys})
}

func (h *DashboardHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string  `json:"name"`
		RateLimit     int     `json:"rateLimit"`
		OriginalKeyID *string `json:"originalKeyId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, apierror.Validation("Invalid JSON body"))
		return
	}
	if req.RateLimit == 0 {
		req.RateLimit = h.cfg.Defaults.RateLimitPerDay
	}

	key, err := h.keys.CreateCustomKey(req.Name, req.RateLimit, req.OriginalKeyID)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"key":     key,
		"message": "API key created successfully",
	})
}

func (h *DashboardHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")

	// Look the secret up first so the auth cache entry can be dropped too.
	views, _ := h.keys.ListCustomKeys(false)
	var secret string
	for _, v := range views {
		if v.ID == keyID {
			secret = v.APIKey
			break
		}
	}

	if err := h.keys.DeleteCustomKey(keyID); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	if secret != "" {
		h.auth.Invalidate(secret)
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": "API key deleted successfully",
	})
}

func (h *DashboardHandler) UpdateMapping(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")

	var req struct {
		OriginalKeyID string `json:"originalKeyId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OriginalKeyID == "" {
		apierror.WriteJSON(w, apierror.Validation("originalKeyId is required"))
		return
	}

	views, err := h.keys.ListCustomKeys(false)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err))
		return
	}
	var secret string
	for _, v := range views {
		if v.ID == keyID {
			secret = v.APIKey
			break
		}
	}
	if secret == "" {
		apierror.WriteJSON(w, apierror.NotFound("API key not found"))
		return
	}

	if err := h.keys.UpdateKeyMapping(secret, req.OriginalKeyID); err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	h.auth.Invalidate(secret)

	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": "Key mapping updated successfully",
	})
}

func (h *DashboardHandler) ListOriginalKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListOriginalKeys()
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err))
		return
	}
	writeJSON(w, map[string]interface{}{"keys": keys})
}

func (h *DashboardHandler) CreateOriginalKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		APIKey   string `json:"apiKey"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, apierror.Validation("Invalid JSON body"))
		return
	}

	key, err := h.keys.CreateOriginalKey(req.Name, req.APIKey, req.Endpoint)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"key":     key,
		"message": "Original API key created successfully",
	})
}

func (h *DashboardHandler) DeleteOriginalKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")

	if err := h.keys.DeleteOriginalKey(keyID); err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": "Original API key deleted successfully",
	})
}

// PlaygroundKeys returns active keys with their full secrets so the
// playground can issue real requests.
func (h *DashboardHandler) PlaygroundKeys(w http.ResponseWriter, r *http.Request) {
	views, err := h.keys.ListCustomKeys(false)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err))
		return
	}

	type playgroundKey struct {
		ID         string    `json:"id"`
		Name       string    `json:"name"`
		APIKey     string    `json:"apiKey"`
		UsageCount int       `json:"usageCount"`
		CreatedAt  time.Time `json:"createdAt"`
	}

	keys := make([]playgroundKey, 0, len(views))
	for _, v := range views {
		if v.Status != models.KeyStatusActive {
			continue
		}
		keys = append(keys, playgroundKey{
			ID:         v.ID,
			Name:       v.Name,
			APIKey:     v.APIKey,
			UsageCount: v.UsageCount,
			CreatedAt:  v.CreatedAt,
		})
	}
	writeJSON(w, map[string]interface{}{"keys": keys})
}

func (h *DashboardHandler) Voices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := models.VoiceFilters{
		Language: q.Get("language"),
		Engine:   q.Get("engine"),
		Gender:   q.Get("gender"),
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}
	limit := parseIntParam(q.Get("limit"), 100)

	voices := h.catalog.Query(filters)
	if len(voices) > limit {
		voices = voices[:limit]
	}
	writeJSON(w, map[string]interface{}{"voices": voices})
}

// VoiceCategories returns the distinct filter values present in the
// catalog, each list sorted.
func (h *DashboardHandler) VoiceCategories(w http.ResponseWriter, r *http.Request) {
	voices := h.catalog.LoadAll()

	languages := distinct(voices, func(v models.Voice) string { return v.Language })
	engines := distinct(voices, func(v models.Voice) string { return v.Engine })
	genders := distinct(voices, func(v models.Voice) string { return v.Gender })
	categories := distinct(voices, func(v models.Voice) string { return v.Category })

	writeJSON(w, map[string]interface{}{
		"languages":  languages,
		"engines":    engines,
		"genders":    genders,
		"categories": categories,
	})
}

func distinct(voices []models.Voice, field func(models.Voice) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range voices {
		val := field(v)
		if !seen[val] {
			seen[val] = true
			out = append(out, val)
		}
	}
	sort.Strings(out)
	return out
}

func (h *DashboardHandler) RefreshVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.catalog.ForceRefresh()
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}
	SetCachedVoices(len(voices))

	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": "Voice cache refreshed",
		"count":   len(voices),
	})
}

// TestTTS synthesizes directly through the forwarder (no HTTP round trip
// to our own API) and appends the result to the playground history ring.
func (h *DashboardHandler) TestTTS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text   string `json:"text"`
		Voice  string `json:"voice"`
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, apierror.Validation("Invalid JSON body"))
		return
	}
	if req.Text == "" || req.Voice == "" {
		apierror.WriteJSON(w, apierror.Validation("Text and voice are required"))
		return
	}

	views, err := h.keys.ListCustomKeys(false)
	if err != nil {
		apierror.WriteJSON(w, apierror.Internal(err))
		return
	}

	selected := req.APIKey
	keyName := "Unknown Key"
	if selected == "" {
		if len(views) == 0 {
			apierror.WriteJSON(w, apierror.Validation("No API keys available. Please create an API key first."))
			return
		}
		selected = views[0].APIKey
		keyName = views[0].Name
	} else {
		found := false
		for _, v := range views {
			if v.APIKey == selected {
				keyName = v.Name
				found = true
				break
			}
		}
		if !found {
			apierror.WriteJSON(w, apierror.Validation("Invalid API key"))
			return
		}
	}

	result, err := h.speech.Synthesize(r.Context(), services.SpeechRequest{
		Model: "tts-1",
		Input: req.Text,
		Voice: req.Voice,
	}, selected)
	if err != nil {
		apierror.WriteJSON(w, err)
		return
	}

	entry := models.HistoryEntry{
		ID:         uuid.New().String(),
		Audio:      "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(result.Audio),
		Timestamp:  time.Now(),
		Voice:      req.Voice,
		Text:       req.Text,
		Duration:   len(result.Audio) / 1000,
		APIKey:     selected,
		APIKeyName: keyName,
	}
	h.history.Record(entry)
	h.hub.NotifyUpdate()

	writeJSON(w, map[string]interface{}{
		"success":    true,
		"id":         entry.ID,
		"audio":      entry.Audio,
		"timestamp":  entry.Timestamp,
		"voice":      entry.Voice,
		"text":       entry.Text,
		"duration":   entry.Duration,
		"apiKey":     entry.APIKey,
		"apiKeyName": entry.APIKeyName,
	})
}

func (h *DashboardHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"success": true,
		"history": h.history.List(),
	})
}

func (h *DashboardHandler) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	if !h.history.Remove(entryID) {
		apierror.WriteJSON(w, apierror.NotFound("Response not found"))
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": "Response deleted from history",
		"history": h.history.List(),
	})
}

func (h *DashboardHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	h.history.Clear()
	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": "TTS history cleared",
		"history": h.history.List(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
