package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tts-gateway/internal/apierror"
	"tts-gateway/internal/config"
	"tts-gateway/internal/models"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func preloadedCatalog(t *testing.T, voices []models.Voice) *VoiceCatalog {
	t.Helper()
	c := newTestCatalog(t, "")
	c.memory.Set(catalogCacheKey, voices, cache.DefaultExpiration)
	return c
}

func testVoices() []models.Voice {
	return []models.Voice{
		{ID: "emma-en-US-neural", Name: "emma", Language: "en-US", Engine: "neural", Quality: models.QualityHigh},
		{ID: "brian-en-GB-neural", Name: "brian", Language: "en-GB", Engine: "neural", Quality: models.QualityHigh},
	}
}

func newSpeechService(t *testing.T, keys *KeyService, endpoint string) *SpeechService {
	t.Helper()
	return NewSpeechService(keys, preloadedCatalog(t, testVoices()), &config.Config{
		Upstream: config.UpstreamConfig{
			APIKey:         "default-upstream-key",
			Endpoint:       endpoint,
			TimeoutSeconds: 5,
		},
	})
}

// ttsServer serves both the synthesis endpoint and the audio download.
func ttsServer(t *testing.T, wantBearer string, audio []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+wantBearer, r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.URL.Query().Get("text"))
		assert.NotEmpty(t, r.URL.Query().Get("voice"))
		assert.NotEmpty(t, r.URL.Query().Get("language"))
		assert.NotEmpty(t, r.URL.Query().Get("engine"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"url":"` + srv.URL + `/audio/out.mp3"}`))
	})
	mux.HandleFunc("/audio/out.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Write(audio)
	})
	srv = httptest.NewServer(mux)
	return srv
}

func TestSynthesizeValidation(t *testing.T) {
	// Any request reaching the network is a test failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("validation failures must not hit the upstream")
	}))
	defer srv.Close()

	svc := newSpeechService(t, NewKeyService(newTestDB(t)), srv.URL)
	ctx := context.Background()

	cases := []struct {
		name string
		req  SpeechRequest
	}{
		{"empty input", SpeechRequest{Voice: "emma"}},
		{"input too long", SpeechRequest{Input: strings.Repeat("a", 4097), Voice: "emma"}},
		{"empty voice", SpeechRequest{Input: "hello"}},
		{"unsupported format", SpeechRequest{Input: "hello", Voice: "emma", ResponseFormat: "wav"}},
		{"speed too low", SpeechRequest{Input: "hello", Voice: "emma", Speed: 0.1}},
		{"speed too high", SpeechRequest{Input: "hello", Voice: "emma", Speed: 5}},
		{"unknown voice", SpeechRequest{Input: "hello", Voice: "nobody"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Synthesize(ctx, tc.req, "sk-caller")
			require.Error(t, err)
			apiErr := apierror.From(err)
			assert.Equal(t, apierror.TypeValidation, apiErr.Type)
			assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		})
	}
}

func TestSynthesizeWithDefaultCredentials(t *testing.T) {
	audio := []byte("mp3-bytes")
	srv := ttsServer(t, "default-upstream-key", audio)
	defer srv.Close()

	svc := newSpeechService(t, NewKeyService(newTestDB(t)), srv.URL+"/tts")

	result, err := svc.Synthesize(context.Background(), SpeechRequest{
		Model: "tts-1",
		Input: "hello world",
		Voice: "emma",
	}, "sk-unlinked")
	require.NoError(t, err)
	assert.Equal(t, audio, result.Audio)
	assert.Equal(t, "emma", result.Voice.Name)
	assert.Equal(t, "en-US", result.Voice.Language)
}

func TestSynthesizeUsesLinkedOriginalKey(t *testing.T) {
	audio := []byte("mp3-bytes")
	srv := ttsServer(t, "up_123", audio)
	defer srv.Close()

	keys := NewKeyService(newTestDB(t))
	original, err := keys.CreateOriginalKey("P1", "up_123", srv.URL+"/tts")
	require.NoError(t, err)
	custom, err := keys.CreateCustomKey("linked", 100, &original.ID)
	require.NoError(t, err)

	// Default endpoint points nowhere; the linked key must win.
	svc := newSpeechService(t, keys, "http://127.0.0.1:1/tts")

	result, err := svc.Synthesize(context.Background(), SpeechRequest{
		Input: "hello",
		Voice: "brian-en-GB-neural",
	}, custom.APIKey)
	require.NoError(t, err)
	assert.Equal(t, audio, result.Audio)
	assert.Equal(t, "brian", result.Voice.Name)
}

func TestSynthesizeUpstreamRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false,"message":"Voice unavailable in this region"}`))
	}))
	defer srv.Close()

	svc := newSpeechService(t, NewKeyService(newTestDB(t)), srv.URL)
	_, err := svc.Synthesize(context.Background(), SpeechRequest{Input: "hi", Voice: "emma"}, "sk-x")
	require.Error(t, err)
	apiErr := apierror.From(err)
	assert.Equal(t, apierror.TypeValidation, apiErr.Type)
	assert.Equal(t, "Voice unavailable in this region", apiErr.Message)
}

func TestSynthesizeUpstreamStatusMapping(t *testing.T) {
	cases := []struct {
		upstream   int
		wantStatus int
		wantType   apierror.Type
	}{
		{http.StatusUnauthorized, http.StatusInternalServerError, apierror.TypeServer},
		{http.StatusNotFound, http.StatusBadRequest, apierror.TypeValidation},
		{http.StatusTooManyRequests, http.StatusTooManyRequests, apierror.TypeRateLimit},
		{http.StatusTeapot, http.StatusInternalServerError, apierror.TypeServer},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.upstream)
		}))
		svc := newSpeechService(t, NewKeyService(newTestDB(t)), srv.URL)

		_, err := svc.Synthesize(context.Background(), SpeechRequest{Input: "hi", Voice: "emma"}, "sk-x")
		srv.Close()
		require.Error(t, err)
		apiErr := apierror.From(err)
		assert.Equal(t, tc.wantStatus, apiErr.Status, "upstream %d", tc.upstream)
		assert.Equal(t, tc.wantType, apiErr.Type, "upstream %d", tc.upstream)
	}
}

func TestSynthesizeMissingAudioURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	svc := newSpeechService(t, NewKeyService(newTestDB(t)), srv.URL)
	_, err := svc.Synthesize(context.Background(), SpeechRequest{Input: "hi", Voice: "emma"}, "sk-x")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apierror.From(err).Status)
}

func TestSynthesizeUnreachableUpstream(t *testing.T) {
	svc := newSpeechService(t, NewKeyService(newTestDB(t)), "http://127.0.0.1:1/tts")
	_, err := svc.Synthesize(context.Background(), SpeechRequest{Input: "hi", Voice: "emma"}, "sk-x")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, apierror.From(err).Status)
}

func TestSynthesizeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	svc := newSpeechService(t, NewKeyService(newTestDB(t)), srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.Synthesize(ctx, SpeechRequest{Input: "hi", Voice: "emma"}, "sk-x")
	require.Error(t, err)
	assert.Equal(t, http.StatusRequestTimeout, apierror.From(err).Status)
}

func TestSynthesizeDefaultsSpeedAndFormat(t *testing.T) {
	audio := []byte("x")
	srv := ttsServer(t, "default-upstream-key", audio)
	defer srv.Close()

	svc := newSpeechService(t, NewKeyService(newTestDB(t)), srv.URL+"/tts")
	_, err := svc.Synthesize(context.Background(), SpeechRequest{
		Input: "hi",
		Voice: "emma",
		Speed: 0,
	}, "sk-x")
	assert.NoError(t, err)
}
