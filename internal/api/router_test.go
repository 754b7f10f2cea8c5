package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbguard-appscan/internal/api/handlers"
	apimiddleware "orbguard-appscan/internal/api/middleware"
	"orbguard-appscan/internal/config"
	"orbguard-appscan/internal/domain/models"
	"orbguard-appscan/internal/domain/services"
	"orbguard-appscan/internal/infrastructure/memory"
	"orbguard-appscan/internal/infrastructure/packagesource"
	"orbguard-appscan/internal/streaming"
	"orbguard-appscan/pkg/logger"
)

const testAPIKey = "test-key"

func app(name, display string, perms ...string) models.InstalledPackageFacts {
	return models.InstalledPackageFacts{
		PackageName:          name,
		DisplayName:          display,
		RequestedPermissions: perms,
		IsEnabled:            true,
		HasLauncherActivity:  true,
	}
}

func samplePackages() []models.InstalledPackageFacts {
	return []models.InstalledPackageFacts{
		app("com.example.social", "Social",
			"android.permission.CAMERA",
			"android.permission.ACCESS_FINE_LOCATION",
			"android.permission.RECORD_AUDIO",
			"android.permission.READ_CONTACTS"),
		app("com.example.notes", "Notes", "android.permission.INTERNET"),
	}
}

// gatedSource blocks ListPackages until released, or fails
type gatedSource struct {
	packagesource.StaticSource
	err     error
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *gatedSource) ListPackages(ctx context.Context) ([]models.InstalledPackageFacts, error) {
	if s.started != nil {
		s.once.Do(func() { close(s.started) })
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.StaticSource.ListPackages(ctx)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	handler http.Handler
	scanner *services.Scanner
	apps    *memory.AppStore
}

func newTestServer(t *testing.T, source services.PackageSource, checks map[string]handlers.Pinger) *testServer {
	t.Helper()
	log := logger.NewNop()

	cfg := config.Config{
		Auth: config.AuthConfig{APIKeys: []string{testAPIKey}},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST", "DELETE"}},
	}

	apps := memory.NewAppStore()
	exclusions := memory.NewExclusionStore()
	analyzer := services.NewAppAnalyzer(log)
	feedback := services.NewFeedbackService(apps, memory.NewFeedbackStore(), exclusions, log)
	scanner := services.NewScanner(cfg.Scan, source, exclusions, analyzer, feedback, log)

	bus := streaming.NewEventBus(nil, log)
	t.Cleanup(bus.Close)

	h := handlers.NewHandlers(handlers.Dependencies{
		Analyzer: analyzer,
		Scanner:  scanner,
		Feedback: feedback,
		Apps:     apps,
		EventBus: bus,
		Checks:   checks,
		Version:  "test",
		Logger:   log,
	})

	return &testServer{
		handler: NewRouter(cfg, h, nil, log).Setup(),
		scanner: scanner,
		apps:    apps,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, packagesource.NewStaticSource(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[handlers.HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestReady(t *testing.T) {
	srv := newTestServer(t, packagesource.NewStaticSource(), map[string]handlers.Pinger{"redis": failingPinger{}})

	rec := srv.do(t, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[handlers.HealthResponse](t, rec)
	assert.Equal(t, "not ready", resp.Status)
	assert.Contains(t, resp.Checks["redis"], "connection refused")
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, packagesource.NewStaticSource(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/apps", nil)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAnalyze(t *testing.T) {
	srv := newTestServer(t, packagesource.NewStaticSource(), nil)

	rec := srv.do(t, http.MethodPost, "/api/v1/apps/analyze", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/apps/analyze", `{"display_name":"No Package"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/apps/analyze", `{
		"package_name": "com.example.social",
		"display_name": "Social",
		"requested_permissions": [
			"android.permission.CAMERA",
			"android.permission.ACCESS_FINE_LOCATION",
			"android.permission.RECORD_AUDIO",
			"android.permission.READ_CONTACTS"
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.AnalyzedApp](t, rec)
	assert.Equal(t, 100, got.Assessment.Score)
	assert.Equal(t, models.RiskTierCritical, got.Assessment.Tier)
	assert.Equal(t, 0, srv.apps.Len())
}

func TestScanAndFeedbackFlow(t *testing.T) {
	srv := newTestServer(t, packagesource.NewStaticSource(samplePackages()...), nil)

	rec := srv.do(t, http.MethodGet, "/api/v1/scans/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/scans", "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[models.ScanResult](t, rec)
	require.Len(t, result.Apps, 2)
	assert.Equal(t, "com.example.social", result.Apps[0].PackageName)
	assert.Equal(t, models.ScanTriggerManual, result.Trigger)
	assert.Equal(t, result.ID.String(), rec.Header().Get(apimiddleware.ScanIDHeader))

	rec = srv.do(t, http.MethodGet, "/api/v1/scans/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, result.ID, decode[models.ScanResult](t, rec).ID)
	assert.Equal(t, result.ID.String(), rec.Header().Get(apimiddleware.ScanIDHeader))

	rec = srv.do(t, http.MethodGet, "/api/v1/apps?tier=critical", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[handlers.AppListResponse](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "com.example.social", list.Apps[0].PackageName)

	rec = srv.do(t, http.MethodGet, "/api/v1/apps/com.example.social", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/apps/com.example.missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/apps/com.example.social/trust", "")
	require.Equal(t, http.StatusOK, rec.Code)
	trusted := decode[models.AnalyzedApp](t, rec)
	assert.Equal(t, 75, trusted.Assessment.Score)
	assert.Equal(t, models.RiskTierHigh, trusted.Assessment.Tier)
	require.NotNil(t, trusted.Feedback)
	assert.Equal(t, models.FeedbackTrusted, trusted.Feedback.Type)

	rec = srv.do(t, http.MethodPost, "/api/v1/apps/com.example.missing/flag", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/scans/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[handlers.StatusResponse](t, rec)
	assert.Equal(t, int64(1), status.Scanner.TotalScans)
	assert.Nil(t, status.Scheduler)
}

func TestExcludeAndInclude(t *testing.T) {
	srv := newTestServer(t, packagesource.NewStaticSource(samplePackages()...), nil)

	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/api/v1/scans", "").Code)

	rec := srv.do(t, http.MethodDelete, "/api/v1/apps/com.example.notes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/v1/apps/com.example.notes", "").Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/exclusions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, []any{"com.example.notes"}, body["exclusions"])

	rec = srv.do(t, http.MethodPost, "/api/v1/scans", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[models.ScanResult](t, rec).Apps, 1)

	require.Equal(t, http.StatusOK, srv.do(t, http.MethodDelete, "/api/v1/exclusions/com.example.notes", "").Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/scans", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[models.ScanResult](t, rec).Apps, 2)
}

func TestListValidation(t *testing.T) {
	srv := newTestServer(t, packagesource.NewStaticSource(), nil)

	for _, query := range []string{"tier=bogus", "category=nope", "limit=0", "limit=abc"} {
		rec := srv.do(t, http.MethodGet, "/api/v1/apps?"+query, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}

	rec := srv.do(t, http.MethodGet, "/api/v1/apps?category=game&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[handlers.AppListResponse](t, rec).Count)
}

func TestScanDiscoveryFailure(t *testing.T) {
	srv := newTestServer(t, &gatedSource{err: errors.New("package manager died")}, nil)

	rec := srv.do(t, http.MethodPost, "/api/v1/scans", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, services.ScanFailedMessage, body["error"])
}

func TestScanInProgress(t *testing.T) {
	source := &gatedSource{started: make(chan struct{}), release: make(chan struct{})}
	srv := newTestServer(t, source, nil)

	done := make(chan int, 1)
	go func() {
		done <- srv.do(t, http.MethodPost, "/api/v1/scans", "").Code
	}()
	<-source.started

	rec := srv.do(t, http.MethodPost, "/api/v1/scans", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(source.release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestImportFeedback(t *testing.T) {
	srv := newTestServer(t, packagesource.NewStaticSource(), nil)

	rec := srv.do(t, http.MethodPost, "/api/v1/feedback/import",
		`{"raw":"com.a:TRUSTED:25:0.5:1700000000000|garbage"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]int](t, rec)
	assert.Equal(t, 1, body["imported"])
	assert.Equal(t, 1, body["skipped"])
}

func TestStreamUnavailableWithoutHub(t *testing.T) {
	srv := newTestServer(t, packagesource.NewStaticSource(), nil)

	rec := srv.do(t, http.MethodGet, "/api/v1/scans/stream", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/scans/stream/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[map[string]int](t, rec)["websocket_clients"])
}

func TestStreamRejectsInvalidFilter(t *testing.T) {
	log := logger.NewNop()
	h := handlers.NewStreamingHandler(streaming.NewWebSocketHub(log), nil, log)

	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/api/v1/scans/stream?min_tier=severe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid min_tier")
}
