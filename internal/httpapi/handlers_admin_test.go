package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/vault"
)

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestHandleCreateToken(t *testing.T) {
	d, s := newTestDeps(t)
	require.NoError(t, s.CreateUser(context.Background(), domain.User{ID: "u1", LoginID: "bob"}))

	body, _ := json.Marshal(createTokenRequest{OwnerUserID: "u1", AllowedModels: []string{"m1"}})
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/tokens", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handleCreateToken(d)(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp createTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.PlainText)
	assert.Equal(t, "u1", resp.Token.OwnerUserID)

	listed, err := s.ListTokens(context.Background())
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestHandleUpdateToken_NotFound(t *testing.T) {
	d, _ := newTestDeps(t)
	req := httptest.NewRequest(http.MethodPut, "/admin/v1/tokens/nope", bytes.NewReader([]byte(`{}`)))
	req = withURLParam(req, "id", "nope")
	rec := httptest.NewRecorder()

	handleUpdateToken(d)(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeleteToken(t *testing.T) {
	d, s := newTestDeps(t)
	raw, tok, _ := seedTokenAndModel(t, s, "http://unused")
	_ = raw

	req := httptest.NewRequest(http.MethodDelete, "/admin/v1/tokens/"+tok.ID, nil)
	req = withURLParam(req, "id", tok.ID)
	rec := httptest.NewRecorder()

	handleDeleteToken(d)(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	got, err := s.GetToken(context.Background(), tok.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHandleUpsertModel_EncryptsAPIKeyWhenVaultPresent(t *testing.T) {
	d, s := newTestDeps(t)
	v, err := vault.New(true)
	require.NoError(t, err)
	require.NoError(t, v.Unlock([]byte("test-passphrase")))
	d.Vault = v

	m := domain.Model{Name: "secure-model", Enabled: true, EndpointURL: "https://upstream.example/v1", APIKey: "sk-plaintext-upstream-key"}
	body, _ := json.Marshal(m)
	req := httptest.NewRequest(http.MethodPut, "/admin/v1/models/m1", bytes.NewReader(body))
	req = withURLParam(req, "id", "m1")
	rec := httptest.NewRecorder()

	handleUpsertModel(d)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := s.GetModelByIdentifier(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEqual(t, "sk-plaintext-upstream-key", stored.APIKey)
	assert.Contains(t, stored.APIKey, "vault:")
}

func TestHandleUpsertModel_NoVaultLeavesKeyPlaintext(t *testing.T) {
	d, s := newTestDeps(t)

	m := domain.Model{Name: "plain-model", Enabled: true, EndpointURL: "https://upstream.example/v1", APIKey: "sk-plaintext-upstream-key"}
	body, _ := json.Marshal(m)
	req := httptest.NewRequest(http.MethodPut, "/admin/v1/models/m1", bytes.NewReader(body))
	req = withURLParam(req, "id", "m1")
	rec := httptest.NewRecorder()

	handleUpsertModel(d)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := s.GetModelByIdentifier(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "sk-plaintext-upstream-key", stored.APIKey)
}

func TestHandleListDeptBudgetsAndUpsert(t *testing.T) {
	d, _ := newTestDeps(t)

	budget := domain.DeptBudget{Enabled: true}
	body, _ := json.Marshal(budget)
	req := httptest.NewRequest(http.MethodPut, "/admin/v1/dept-budgets/eng", bytes.NewReader(body))
	req = withURLParam(req, "name", "eng")
	rec := httptest.NewRecorder()
	handleUpsertDeptBudget(d)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/admin/v1/dept-budgets", nil)
	listRec := httptest.NewRecorder()
	handleListDeptBudgets(d)(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var got []domain.DeptBudget
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "eng", got[0].DeptName)
}

func TestEncryptAPIKey_PassesThroughAlreadyIndirected(t *testing.T) {
	v, err := vault.New(true)
	require.NoError(t, err)
	require.NoError(t, v.Unlock([]byte("p")))

	ref, err := encryptAPIKey(v, "model:m1", "vault:model:m1")
	require.NoError(t, err)
	assert.Equal(t, "vault:model:m1", ref)
}

func TestEncryptAPIKey_PassesThroughEmpty(t *testing.T) {
	v, err := vault.New(true)
	require.NoError(t, err)
	require.NoError(t, v.Unlock([]byte("p")))

	ref, err := encryptAPIKey(v, "model:m1", "")
	require.NoError(t, err)
	assert.Equal(t, "", ref)
}
