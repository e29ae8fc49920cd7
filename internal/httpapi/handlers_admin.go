package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jordanhubbard/llmgateway/internal/auth"
	"github.com/jordanhubbard/llmgateway/internal/domain"
)

// vaultReferencePrefix mirrors resolver.vaultReferencePrefix; duplicated
// here rather than exported across packages so the admin plane's encryption
// policy stays a local concern of this file.
const vaultReferencePrefix = "vault:"

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeWireError(w, http.StatusBadRequest, kindInvalidRequest, "invalid JSON body", "")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// encryptAPIKey stores a plaintext upstream API key in the vault and returns
// the "vault:<key>" reference to persist in its place, per §9's resolved
// decision to keep Model/SubModel.APIKey at rest as a vault indirection. An
// already-empty or already-indirected key passes through unchanged.
func encryptAPIKey(v interface{ Set(string, string) error }, vaultKey, plaintext string) (string, error) {
	if plaintext == "" || strings.HasPrefix(plaintext, vaultReferencePrefix) {
		return plaintext, nil
	}
	if err := v.Set(vaultKey, plaintext); err != nil {
		return "", err
	}
	return vaultReferencePrefix + vaultKey, nil
}

// --- tokens ---

func handleListTokens(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		toks, err := d.Store.ListTokens(r.Context())
		if err != nil {
			writeWireError(w, http.StatusServiceUnavailable, kindServiceUnavail, "failed to list tokens", "")
			return
		}
		writeJSON(w, http.StatusOK, toks)
	}
}

type createTokenRequest struct {
	OwnerUserID         string   `json:"ownerUserId"`
	RPMLimit            *int64   `json:"rpmLimit"`
	TPMLimit            *int64   `json:"tpmLimit"`
	TPHLimit            *int64   `json:"tphLimit"`
	TPDLimit            *int64   `json:"tpdLimit"`
	MonthlyOutputBudget *int64   `json:"monthlyOutputBudget"`
	AllowedModels       []string `json:"allowedModels"`
}

type createTokenResponse struct {
	Token     domain.ApiToken `json:"token"`
	PlainText string          `json:"plaintext"`
}

func handleCreateToken(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTokenRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		plaintext, rec, err := auth.GenerateToken(req.OwnerUserID, uuid.NewString())
		if err != nil {
			writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to generate token", "")
			return
		}
		rec.RPMLimit = req.RPMLimit
		rec.TPMLimit = req.TPMLimit
		rec.TPHLimit = req.TPHLimit
		rec.TPDLimit = req.TPDLimit
		rec.MonthlyOutputBudget = req.MonthlyOutputBudget
		rec.AllowedModels = req.AllowedModels

		if err := d.Store.CreateToken(r.Context(), rec); err != nil {
			writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to persist token", "")
			return
		}
		writeJSON(w, http.StatusCreated, createTokenResponse{Token: rec, PlainText: plaintext})
	}
}

func handleUpdateToken(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		existing, err := d.Store.GetToken(r.Context(), id)
		if err != nil || existing == nil {
			writeWireError(w, http.StatusNotFound, kindNotFound, "token not found", "id")
			return
		}
		if !decodeJSON(w, r, existing) {
			return
		}
		existing.ID = id
		if err := d.Store.UpdateToken(r.Context(), *existing); err != nil {
			writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to update token", "")
			return
		}
		// The verifier's cache entry for this token (if any) is keyed by the
		// raw key's digest, which this handler never sees; it simply expires
		// within cacheTTL and the change takes effect then.
		writeJSON(w, http.StatusOK, existing)
	}
}

func handleDeleteToken(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.Store.DeleteToken(r.Context(), id); err != nil {
			writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to delete token", "")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- users ---

func handleListUsers(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := d.Store.ListUsers(r.Context())
		if err != nil {
			writeWireError(w, http.StatusServiceUnavailable, kindServiceUnavail, "failed to list users", "")
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func handleCreateUser(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u domain.User
		if !decodeJSON(w, r, &u) {
			return
		}
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if err := d.Store.CreateUser(r.Context(), u); err != nil {
			writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to create user", "")
			return
		}
		writeJSON(w, http.StatusCreated, u)
	}
}

func handleUpdateUser(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var u domain.User
		if !decodeJSON(w, r, &u) {
			return
		}
		u.ID = id
		if err := d.Store.UpdateUser(r.Context(), u); err != nil {
			writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to update user", "")
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// --- models / sub-models ---

func handleUpsertModel(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var m domain.Model
		if !decodeJSON(w, r, &m) {
			return
		}
		m.ID = id

		if d.Vault != nil && m.APIKey != "" {
			ref, err := encryptAPIKey(d.Vault, "model:"+m.ID, m.APIKey)
			if err != nil {
				writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to seal api key", "")
				return
			}
			m.APIKey = ref
		}

		if err := d.Store.UpsertModel(r.Context(), m); err != nil {
			writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to upsert model", "")
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func handleDeleteModel(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.Store.DeleteModel(r.Context(), id); err != nil {
			writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to delete model", "")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleUpsertSubModel(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var sm domain.SubModel
		if !decodeJSON(w, r, &sm) {
			return
		}
		sm.ID = id

		if d.Vault != nil && sm.APIKey != "" {
			ref, err := encryptAPIKey(d.Vault, "submodel:"+sm.ID, sm.APIKey)
			if err != nil {
				writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to seal api key", "")
				return
			}
			sm.APIKey = ref
		}

		if err := d.Store.UpsertSubModel(r.Context(), sm); err != nil {
			writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to upsert sub-model", "")
			return
		}
		writeJSON(w, http.StatusOK, sm)
	}
}

func handleDeleteSubModel(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.Store.DeleteSubModel(r.Context(), id); err != nil {
			writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to delete sub-model", "")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- dept budgets / rate-limit config ---

func handleListDeptBudgets(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		budgets, err := d.Store.ListDeptBudgets(r.Context())
		if err != nil {
			writeWireError(w, http.StatusServiceUnavailable, kindServiceUnavail, "failed to list dept budgets", "")
			return
		}
		writeJSON(w, http.StatusOK, budgets)
	}
}

func handleUpsertDeptBudget(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		var db domain.DeptBudget
		if !decodeJSON(w, r, &db) {
			return
		}
		db.DeptName = name
		if err := d.Store.UpsertDeptBudget(r.Context(), db); err != nil {
			writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to upsert dept budget", "")
			return
		}
		writeJSON(w, http.StatusOK, db)
	}
}

func handleSetRateLimitConfig(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg domain.RateLimitConfig
		if !decodeJSON(w, r, &cfg) {
			return
		}
		if err := d.Store.SetRateLimitConfig(r.Context(), cfg); err != nil {
			writeWireError(w, http.StatusInternalServerError, kindServerError, "failed to set rate-limit config", "")
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}
