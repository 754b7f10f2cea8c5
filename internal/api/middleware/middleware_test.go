package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbguard-appscan/internal/config"
	"orbguard-appscan/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Client", getClientID(r))
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth([]string{"secret-1", " secret-2 "})(okHandler())

	tests := []struct {
		name   string
		method string
		header map[string]string
		want   int
	}{
		{"missing", http.MethodGet, nil, http.StatusUnauthorized},
		{"bearer ok", http.MethodGet, map[string]string{"Authorization": "Bearer secret-1"}, http.StatusNoContent},
		{"lowercase bearer", http.MethodGet, map[string]string{"Authorization": "bearer secret-2"}, http.StatusNoContent},
		{"header ok", http.MethodGet, map[string]string{"X-API-Key": "secret-2"}, http.StatusNoContent},
		{"wrong key", http.MethodGet, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"bad scheme", http.MethodGet, map[string]string{"Authorization": "Basic secret-1"}, http.StatusUnauthorized},
		{"preflight", http.MethodOptions, nil, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/apps", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAPIKeyAuth_NoKeysConfigured(t *testing.T) {
	handler := APIKeyAuth(nil)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

type countingStore struct {
	counts map[string]int64
	err    error
}

func (s *countingStore) CheckRateLimit(_ context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Time, error) {
	if s.err != nil {
		return false, 0, time.Time{}, s.err
	}
	s.counts[key]++
	n := s.counts[key]
	return n <= limit, max(limit-n, 0), time.Now().Add(window), nil
}

func TestRateLimiter(t *testing.T) {
	store := &countingStore{counts: map[string]int64{}}
	handler := RateLimiter(store, config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}, logger.NewNop())(okHandler())

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/apps", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes[i] = rec.Code
		if i == 2 {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
		}
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
	assert.Equal(t, int64(3), store.counts["ip:10.0.0.1"])
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	store := &countingStore{err: assert.AnError}
	handler := RateLimiter(store, config.RateLimitConfig{RequestsPerMinute: 1}, logger.NewNop())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetClientID_PrefersAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), ContextKeyAPIKey, "k"))
	assert.Equal(t, "key:k", getClientID(req))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "debug", Format: "json", Output: &buf})

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(RequestLogger(log))
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {})
	router.Get("/apps/{package}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Post("/scans", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(ScanIDHeader, "scan-42")
		w.WriteHeader(http.StatusInternalServerError)
	})

	entry := func(method, path string) map[string]any {
		t.Helper()
		buf.Reset()
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, path, nil))
		var e map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &e), buf.String())
		return e
	}

	e := entry(http.MethodGet, "/apps/com.example.app")
	assert.Equal(t, "warn", e["level"])
	assert.Equal(t, "/apps/{package}", e["route"])
	assert.Equal(t, "com.example.app", e["package"])
	assert.EqualValues(t, http.StatusNotFound, e["status"])
	assert.NotEmpty(t, e["request_id"])

	e = entry(http.MethodPost, "/scans")
	assert.Equal(t, "error", e["level"])
	assert.Equal(t, "scan-42", e["scan_id"])

	e = entry(http.MethodGet, "/health")
	assert.Equal(t, "debug", e["level"])
	assert.EqualValues(t, http.StatusOK, e["status"])
}
