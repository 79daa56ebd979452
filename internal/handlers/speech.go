package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"tts-gateway/internal/apierror"
	"tts-gateway/internal/middleware"
	"tts-gateway/internal/models"
	"tts-gateway/internal/services"

	"github.com/go-chi/chi/v5"
)

// SpeechHandler exposes the OpenAI-compatible /v1 surface: audio synthesis
// and the voice catalog.
type SpeechHandler struct {
	speech  *services.SpeechService
	keys    *services.KeyService
	catalog *services.VoiceCatalog
	hub     *services.DashboardHub
}

func NewSpeechHandler(speech *services.SpeechService, keys *services.KeyService, catalog *services.VoiceCatalog, hub *services.DashboardHub) *SpeechHandler {
	return &SpeechHandler{speech: speech, keys: keys, catalog: catalog, hub: hub}
}

func (h *SpeechHandler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/audio/speech", h.CreateSpeech)
	r.Get("/v1/voices", h.ListVoices)
	r.Get("/v1/voices/{voiceID}", h.GetVoice)
}

func (h *SpeechHandler) CreateSpeech(w http.ResponseWriter, r *http.Request) {
	key := middleware.KeyFromContext(r.Context())
	if key == nil {
		apierror.WriteJSON(w, apierror.Authentication("Invalid API key"))
		return
	}

	var req services.SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, apierror.Validation("Invalid JSON body"))
		return
	}

	start := time.Now()
	result, err := h.speech.Synthesize(r.Context(), req, key.APIKey)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		apiErr := apierror.From(err)
		RecordSynthesis(key.ID, req.Voice, strconv.Itoa(apiErr.Status), 0, elapsed)
		if apiErr.Type == apierror.TypeServer || apiErr.Type == apierror.TypeTimeout {
			RecordUpstreamError(string(apiErr.Type))
		}
		apierror.WriteJSON(w, apiErr)
		return
	}

	// Metering happens here, not inside the forwarder, so the dashboard's
	// test endpoint can synthesize without charging a key.
	h.keys.RecordUsage(key.APIKey)
	RecordSynthesis(key.ID, result.Voice.Name, "200", len(result.Audio), elapsed)
	h.hub.NotifyUpdate()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Audio)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Voice-Name", result.Voice.Name)
	w.Header().Set("X-Voice-Language", result.Voice.Language)
	w.Header().Set("X-Voice-Engine", result.Voice.Engine)
	w.Write(result.Audio)
}

// voiceObject is the OpenAI-shaped voice representation. The id is the
// bare voice name for compatibility with clients that pass "voice" fields.
type voiceObject struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Engine   string `json:"engine"`
	Gender   string `json:"gender"`
	Category string `json:"category"`
	Quality  string `json:"quality"`
}

func toVoiceObject(v models.Voice) voiceObject {
	return voiceObject{
		ID:       v.Name,
		Name:     v.Name,
		Language: v.Language,
		Engine:   v.Engine,
		Gender:   v.Gender,
		Category: v.Category,
		Quality:  v.Quality,
	}
}

type voiceListResponse struct {
	Data       []voiceObject `json:"data"`
	Pagination pagination    `json:"pagination"`
}

type pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

func (h *SpeechHandler) ListVoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := models.VoiceFilters{
		Language: q.Get("language"),
		Engine:   q.Get("engine"),
		Gender:   q.Get("gender"),
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}

	limit := parseIntParam(q.Get("limit"), 50)
	offset := parseIntParam(q.Get("offset"), 0)

	voices := h.catalog.Query(filters)

	end := offset + limit
	if offset > len(voices) {
		offset = len(voices)
	}
	if end > len(voices) {
		end = len(voices)
	}
	page := voices[offset:end]

	data := make([]voiceObject, 0, len(page))
	for _, v := range page {
		data = append(data, toVoiceObject(v))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(voiceListResponse{
		Data: data,
		Pagination: pagination{
			Total:   len(voices),
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+limit < len(voices),
		},
	})
}

func (h *SpeechHandler) GetVoice(w http.ResponseWriter, r *http.Request) {
	voiceID := chi.URLParam(r, "voiceID")

	voice := h.catalog.Resolve(voiceID)
	if voice == nil {
		apierror.WriteJSON(w, apierror.NotFound("Voice not found"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]voiceObject{"data": toVoiceObject(*voice)})
}

func parseIntParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
