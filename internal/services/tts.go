package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tts-gateway/internal/apierror"
	"tts-gateway/internal/config"
	"tts-gateway/internal/logger"
	"tts-gateway/internal/models"
)

// SpeechRequest mirrors the OpenAI /v1/audio/speech body. Voice accepts
// either a catalog id or a bare voice name.
type SpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// SpeechResult carries the synthesized audio and the voice it resolved to,
// for the X-Voice-* response headers.
type SpeechResult struct {
	Audio []byte
	Voice models.Voice
}

// SpeechService forwards synthesis requests to the upstream TTS provider.
// It is a pure request-to-audio function with no transport framing and no
// side effects beyond the two outbound calls; usage metering is the
// caller's responsibility.
type SpeechService struct {
	keys    *KeyService
	catalog *VoiceCatalog
	client  *http.Client

	defaultAPIKey   string
	defaultEndpoint string
}

func NewSpeechService(keys *KeyService, catalog *VoiceCatalog, cfg *config.Config) *SpeechService {
	return &SpeechService{
		keys:    keys,
		catalog: catalog,
		client: &http.Client{
			Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		defaultAPIKey:   cfg.Upstream.APIKey,
		defaultEndpoint: cfg.Upstream.Endpoint,
	}
}

// upstreamResponse is the provider's synthesis reply. A false Ok flag is an
// application-level rejection, not a transport error.
type upstreamResponse struct {
	Ok      bool   `json:"ok"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

// Synthesize validates the request, resolves the upstream credential for
// the calling key, calls the provider, and downloads the resulting audio.
// All validation failures return before any network call is made.
func (s *SpeechService) Synthesize(ctx context.Context, req SpeechRequest, callerAPIKey string) (*SpeechResult, error) {
	if req.Input == "" {
		return nil, apierror.Validation("Input text is required and must be a string")
	}
	if len(req.Input) > 4096 {
		return nil, apierror.Validation("Input text is too long. Maximum length is 4096 characters.")
	}
	if req.Voice == "" {
		return nil, apierror.Validation("Voice is required and must be a string")
	}

	format := req.ResponseFormat
	if format == "" {
		format = "mp3"
	}
	if format != "mp3" {
		return nil, apierror.Validation("Only mp3 response format is supported")
	}

	speed := req.Speed
	if speed == 0 {
		speed = 1.0
	}
	if speed < 0.25 || speed > 4.0 {
		return nil, apierror.Validation("Speed must be between 0.25 and 4.0")
	}

	voice := s.catalog.Resolve(req.Voice)
	if voice == nil {
		return nil, apierror.Validation(fmt.Sprintf("Voice '%s' not found. Use /v1/voices to see available voices.", req.Voice))
	}

	apiKey, endpoint, err := s.resolveCredentials(callerAPIKey)
	if err != nil {
		return nil, err
	}
	if endpoint == "" {
		return nil, apierror.UpstreamUnavailable("Upstream TTS endpoint not configured")
	}

	audio, err := s.callUpstream(ctx, apiKey, endpoint, req.Input, voice)
	if err != nil {
		return nil, err
	}

	return &SpeechResult{Audio: audio, Voice: *voice}, nil
}

// resolveCredentials returns the upstream credential/endpoint for a caller:
// the linked original key if one exists, else the process-wide default.
func (s *SpeechService) resolveCredentials(callerAPIKey string) (apiKey, endpoint string, err error) {
	apiKey = s.defaultAPIKey
	endpoint = s.defaultEndpoint

	info, err := s.keys.GetKeyInfo(callerAPIKey)
	if err != nil {
		return "", "", apierror.Internal(err)
	}
	if info == nil {
		return apiKey, endpoint, nil
	}

	original, err := s.keys.ResolveOriginalKey(info.APIKey)
	if err != nil {
		return "", "", apierror.Internal(err)
	}
	if original != nil {
		logger.Sugar.Debugw("using linked original key", "name", original.Name)
		return original.APIKey, original.Endpoint, nil
	}
	return apiKey, endpoint, nil
}

func (s *SpeechService) callUpstream(ctx context.Context, apiKey, endpoint, text string, voice *models.Voice) ([]byte, error) {
	q := url.Values{}
	q.Set("text", text)
	q.Set("voice", voice.Name)
	q.Set("language", voice.Language)
	q.Set("engine", voice.Engine)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierror.UpstreamRejected(resp.StatusCode, upstreamStatusMessage(resp.StatusCode))
	}

	var body upstreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &apierror.Error{
			Message: "Invalid response from TTS service",
			Type:    apierror.TypeServer,
			Status:  http.StatusInternalServerError,
		}
	}

	if !body.Ok {
		msg := body.Message
		if msg == "" {
			msg = "TTS generation failed"
		}
		return nil, apierror.Validation(msg)
	}
	if body.URL == "" {
		return nil, &apierror.Error{
			Message: "No audio URL received from TTS service",
			Type:    apierror.TypeServer,
			Status:  http.StatusInternalServerError,
		}
	}

	return s.downloadAudio(ctx, body.URL)
}

func (s *SpeechService) downloadAudio(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apierror.UpstreamRejected(resp.StatusCode, "Failed to download audio from TTS service")
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierror.UpstreamUnavailable("Failed to download audio from TTS service")
	}
	return audio, nil
}

func upstreamStatusMessage(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "TTS service authentication failed"
	case http.StatusNotFound:
		return "Voice not found or not available"
	case http.StatusTooManyRequests:
		return "TTS service rate limit exceeded"
	default:
		return "TTS service error"
	}
}

// classifyTransportError separates deadline expiry from unreachability;
// they map to different client-visible statuses.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierror.Timeout("TTS service request timeout")
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return apierror.Timeout("TTS service request timeout")
	}
	return apierror.UpstreamUnavailable("TTS service temporarily unavailable")
}
