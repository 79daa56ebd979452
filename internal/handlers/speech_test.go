package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"tts-gateway/internal/config"
	"tts-gateway/internal/logger"
	"tts-gateway/internal/middleware"
	"tts-gateway/internal/models"
	"tts-gateway/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	logger.InitSilent()
	os.Exit(m.Run())
}

const testAudio = "fake-mp3-bytes"

// fakeProvider mimics the upstream TTS service: the catalog probe (an
// invalid voice) gets the available_voices error body, anything else gets
// ok plus an audio URL on the same host.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/api/tts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("voice") == "invalid-voice-name" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"ok":      false,
				"message": "Invalid voice",
				"available_voices": []map[string]string{
					{"name": "emma", "language": "en-US", "engine": "neural"},
					{"name": "brian", "language": "en-GB", "engine": "neural"},
					{"name": "laura", "language": "es-ES", "engine": "azure"},
				},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":  true,
			"url": srv.URL + "/audio/out.mp3",
		})
	})
	mux.HandleFunc("/audio/out.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testAudio))
	})
	srv = httptest.NewServer(mux)
	return srv
}

type gatewayEnv struct {
	router  *chi.Mux
	keys    *services.KeyService
	history *services.History
	session *middleware.SessionAuth
	cfg     *config.Config
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()

	provider := fakeProvider(t)
	t.Cleanup(provider.Close)

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{
		Admin: config.AdminConfig{
			Username:      "admin",
			PasswordHash:  string(hash),
			SessionSecret: "test-session-secret",
		},
		Upstream: config.UpstreamConfig{
			APIKey:         "upstream-key",
			Endpoint:       provider.URL + "/api/tts",
			TimeoutSeconds: 5,
		},
		Defaults: config.DefaultsConfig{RateLimitPerDay: 1000},
		Voices: config.VoicesConfig{
			CachePath:  filepath.Join(t.TempDir(), "voices.json"),
			TTLMinutes: 60,
		},
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.CustomKey{},
		&models.OriginalKey{},
		&models.KeyMapping{},
		&models.DailyUsage{},
	))

	keys := services.NewKeyService(db)
	catalog := services.NewVoiceCatalog(cfg)
	speech := services.NewSpeechService(keys, catalog, cfg)
	history := services.NewHistory()
	hub := services.NewDashboardHub(keys, catalog, history)

	router := chi.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.SecurityHeaders)

	auth := middleware.NewAuthMiddleware(keys)
	limiter := middleware.NewRateLimiter()
	speechHandler := NewSpeechHandler(speech, keys, catalog, hub)
	router.Group(func(r chi.Router) {
		r.Use(auth.Handler)
		r.Use(limiter.Middleware)
		speechHandler.RegisterRoutes(r)
	})

	session := middleware.NewSessionAuth(cfg.Admin.SessionSecret)
	NewDashboardHandler(cfg, keys, catalog, speech, history, hub, session, auth).RegisterRoutes(router)
	NewHealthHandler(db, catalog).RegisterRoutes(router)

	return &gatewayEnv{router: router, keys: keys, history: history, session: session, cfg: cfg}
}

func (env *gatewayEnv) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateSpeechEndToEnd(t *testing.T) {
	env := newGatewayEnv(t)
	key, err := env.keys.CreateCustomKey("app", 100, nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/v1/audio/speech", key.APIKey, map[string]interface{}{
		"model": "tts-1",
		"input": "hello world",
		"voice": "emma",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "emma", rec.Header().Get("X-Voice-Name"))
	assert.Equal(t, "en-US", rec.Header().Get("X-Voice-Language"))
	assert.Equal(t, "neural", rec.Header().Get("X-Voice-Engine"))
	assert.Equal(t, testAudio, rec.Body.String())

	info, err := env.keys.GetKeyInfo(key.APIKey)
	require.NoError(t, err)
	assert.Equal(t, 1, info.UsageCount, "a successful synthesis must be metered")
}

func TestCreateSpeechRequiresAuth(t *testing.T) {
	env := newGatewayEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/audio/speech", "", map[string]string{"input": "hi", "voice": "emma"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/audio/speech", "sk-ghost", map[string]string{"input": "hi", "voice": "emma"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateSpeechValidationError(t *testing.T) {
	env := newGatewayEnv(t)
	key, err := env.keys.CreateCustomKey("app", 100, nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/v1/audio/speech", key.APIKey, map[string]string{"voice": "emma"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_request_error", body.Error.Type)
	assert.NotEmpty(t, body.Error.Message)

	info, err := env.keys.GetKeyInfo(key.APIKey)
	require.NoError(t, err)
	assert.Equal(t, 0, info.UsageCount, "failed requests must not be metered")
}

func TestCreateSpeechRateLimited(t *testing.T) {
	env := newGatewayEnv(t)
	key, err := env.keys.CreateCustomKey("app", 2, nil)
	require.NoError(t, err)

	body := map[string]string{"input": "hi", "voice": "emma"}
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/v1/audio/speech", key.APIKey, body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/v1/audio/speech", key.APIKey, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limit_error")
}

func TestListVoices(t *testing.T) {
	env := newGatewayEnv(t)
	key, err := env.keys.CreateCustomKey("app", 100, nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/voices", key.APIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Language string `json:"language"`
		} `json:"data"`
		Pagination struct {
			Total   int  `json:"total"`
			HasMore bool `json:"hasMore"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Pagination.Total)
	assert.False(t, resp.Pagination.HasMore)
	require.Len(t, resp.Data, 3)
	assert.Equal(t, resp.Data[0].Name, resp.Data[0].ID, "public voice ids are the bare names")
}

func TestListVoicesPaginationAndFilters(t *testing.T) {
	env := newGatewayEnv(t)
	key, err := env.keys.CreateCustomKey("app", 100, nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/voices?limit=2", key.APIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data       []json.RawMessage `json:"data"`
		Pagination struct {
			HasMore bool `json:"hasMore"`
			Offset  int  `json:"offset"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Data, 2)
	assert.True(t, page.Pagination.HasMore)

	rec = env.do(t, http.MethodGet, "/v1/voices?limit=2&offset=2", key.APIKey, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Data, 1)
	assert.False(t, page.Pagination.HasMore)

	rec = env.do(t, http.MethodGet, "/v1/voices?language=es", key.APIKey, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Data, 1)
}

func TestGetVoice(t *testing.T) {
	env := newGatewayEnv(t)
	key, err := env.keys.CreateCustomKey("app", 100, nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/voices/emma", key.APIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"emma"`)

	rec = env.do(t, http.MethodGet, "/v1/voices/nobody", key.APIKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newGatewayEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tts-gateway")

	rec = env.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
