package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tts-gateway/internal/apierror"
	"tts-gateway/internal/models"
	"tts-gateway/internal/services"

	"github.com/patrickmn/go-cache"
)

// AuthMiddleware authenticates public API calls by their bearer custom key.
// Lookups are cached briefly so the forwarding hot path doesn't hit the
// database on every request.
type AuthMiddleware struct {
	keys  *services.KeyService
	cache *cache.Cache
}

func NewAuthMiddleware(keys *services.KeyService) *AuthMiddleware {
	return &AuthMiddleware{
		keys:  keys,
		cache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			apierror.WriteJSON(w, apierror.Authentication("API key required. Use format: Bearer YOUR_API_KEY"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			apierror.WriteJSON(w, apierror.Authentication("API key required. Use format: Bearer YOUR_API_KEY"))
			return
		}

		apiKey := parts[1]
		key, err := m.getKeyFromCacheOrDB(apiKey)
		if err != nil {
			apierror.WriteJSON(w, apierror.Internal(err))
			return
		}
		if key == nil || key.Status != models.KeyStatusActive {
			apierror.WriteJSON(w, apierror.Authentication("Invalid API key"))
			return
		}

		ctx := context.WithValue(r.Context(), keyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) getKeyFromCacheOrDB(apiKey string) (*models.CustomKey, error) {
	cacheKey := "key:" + apiKey

	if cached, found := m.cache.Get(cacheKey); found {
		return cached.(*models.CustomKey), nil
	}

	key, err := m.keys.GetKeyInfo(apiKey)
	if err != nil {
		return nil, err
	}
	if key != nil {
		m.cache.Set(cacheKey, key, 5*time.Minute)
	}
	return key, nil
}

// Invalidate drops a cached key lookup, for use after key deletion or a
// status change.
func (m *AuthMiddleware) Invalidate(apiKey string) {
	m.cache.Delete("key:" + apiKey)
}

type contextKey string

const keyContextKey contextKey = "custom_key"

// KeyFromContext returns the authenticated custom key, or nil.
func KeyFromContext(ctx context.Context) *models.CustomKey {
	if key, ok := ctx.Value(keyContextKey).(*models.CustomKey); ok {
		return key
	}
	return nil
}

// SessionAuth gates the dashboard API behind a signed, expiring session
// token issued at login.
type SessionAuth struct {
	secret []byte
	ttl    time.Duration
}

func NewSessionAuth(secret string) *SessionAuth {
	return &SessionAuth{secret: []byte(secret), ttl: 24 * time.Hour}
}

// IssueToken creates a token of the form <expiry-unix>.<hmac-sha256>.
func (s *SessionAuth) IssueToken() string {
	expiry := strconv.FormatInt(time.Now().Add(s.ttl).Unix(), 10)
	return expiry + "." + s.sign(expiry)
}

func (s *SessionAuth) sign(expiry string) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprint(mac, expiry)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateToken checks the signature and expiry of a session token.
func (s *SessionAuth) ValidateToken(token string) bool {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return false
	}
	expiry, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || time.Now().Unix() > expiry {
		return false
	}
	expected := s.sign(parts[0])
	return hmac.Equal([]byte(expected), []byte(parts[1]))
}

// Handler rejects requests without a valid dashboard session token in the
// Authorization header.
func (s *SessionAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || !s.ValidateToken(token) {
			apierror.WriteJSON(w, apierror.Authentication("Dashboard access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
