package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/llmgateway/internal/domain"
)

func TestHandleListModels_FiltersDisabledAndDisallowed(t *testing.T) {
	d, s := newTestDeps(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertModel(ctx, domain.Model{ID: "m1", Name: "allowed-model", Enabled: true}))
	require.NoError(t, s.UpsertModel(ctx, domain.Model{ID: "m2", Name: "disallowed-model", Enabled: true}))
	require.NoError(t, s.UpsertModel(ctx, domain.Model{ID: "m3", Name: "disabled-model", Enabled: false}))

	principal := domain.Principal{Token: domain.ApiToken{ID: "t1", AllowedModels: []string{"m1"}}}

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req = req.WithContext(withPrincipal(req.Context(), principal))
	rec := httptest.NewRecorder()

	handleListModels(d)(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []modelView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "m1", body.Data[0].ID)
}

func TestHandleListModels_EmptyAllowedListMeansAll(t *testing.T) {
	d, s := newTestDeps(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertModel(ctx, domain.Model{ID: "m1", Name: "a", Enabled: true}))
	require.NoError(t, s.UpsertModel(ctx, domain.Model{ID: "m2", Name: "b", Enabled: true}))

	principal := domain.Principal{Token: domain.ApiToken{ID: "t1"}}
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req = req.WithContext(withPrincipal(req.Context(), principal))
	rec := httptest.NewRecorder()

	handleListModels(d)(rec, req)

	var body struct {
		Data []modelView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
}

func TestHandleGetModel_NotFound(t *testing.T) {
	d, _ := newTestDeps(t)
	principal := domain.Principal{Token: domain.ApiToken{ID: "t1"}}

	req := httptest.NewRequest(http.MethodGet, "/v1/models/nope", nil)
	req = req.WithContext(withPrincipal(req.Context(), principal))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("name", "nope")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	handleGetModel(d)(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetModel_ForbiddenWhenNotAllowed(t *testing.T) {
	d, s := newTestDeps(t)
	require.NoError(t, s.UpsertModel(context.Background(), domain.Model{ID: "m1", Name: "gpt-test", Enabled: true}))

	principal := domain.Principal{Token: domain.ApiToken{ID: "t1", AllowedModels: []string{"other"}}}
	req := httptest.NewRequest(http.MethodGet, "/v1/models/gpt-test", nil)
	req = req.WithContext(withPrincipal(req.Context(), principal))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("name", "gpt-test")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	handleGetModel(d)(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleGetModel_Success(t *testing.T) {
	d, s := newTestDeps(t)
	require.NoError(t, s.UpsertModel(context.Background(), domain.Model{ID: "m1", Name: "gpt-test", Enabled: true}))

	principal := domain.Principal{Token: domain.ApiToken{ID: "t1"}}
	req := httptest.NewRequest(http.MethodGet, "/v1/models/gpt-test", nil)
	req = req.WithContext(withPrincipal(req.Context(), principal))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("name", "gpt-test")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	handleGetModel(d)(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var mv modelView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mv))
	assert.Equal(t, "m1", mv.ID)
	assert.Equal(t, "model", mv.Object)
}
