package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, d Dependencies) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	MountRoutes(r, d)
	return r
}

func TestMountRoutes_HealthIsUnauthenticated(t *testing.T) {
	d, _ := newTestDeps(t)
	r := newTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMountRoutes_DataPlaneRequiresAuth(t *testing.T) {
	d, _ := newTestDeps(t)
	r := newTestRouter(t, d)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication_error")
}

func TestMountRoutes_DataPlaneAcceptsValidToken(t *testing.T) {
	d, s := newTestDeps(t)
	raw, _, _ := seedTokenAndModel(t, s, "http://unused")
	r := newTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMountRoutes_AdminPlaneRequiresAdminToken(t *testing.T) {
	d, _ := newTestDeps(t)
	r := newTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/tokens", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMountRoutes_AdminPlaneAcceptsAdminToken(t *testing.T) {
	d, _ := newTestDeps(t)
	r := newTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/tokens", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMountRoutes_MetricsEndpointMounted(t *testing.T) {
	d, _ := newTestDeps(t)
	r := newTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMountRoutes_CORSPreflight(t *testing.T) {
	d, _ := newTestDeps(t)
	r := newTestRouter(t, d)

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMountRoutes_RecovererCatchesPanic(t *testing.T) {
	d, _ := newTestDeps(t)
	r := chi.NewRouter()
	MountRoutes(r, d)
	r.Get("/v1/boom", func(w http.ResponseWriter, req *http.Request) {
		panic("deliberate test panic")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/boom", nil)
	rec := httptest.NewRecorder()

	assert.NotPanics(t, func() { r.ServeHTTP(rec, req) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
