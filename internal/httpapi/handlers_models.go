package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jordanhubbard/llmgateway/internal/domain"
)

type modelView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Alias   string `json:"alias,omitempty"`
	Object  string `json:"object"`
	Enabled bool   `json:"enabled"`
}

func toModelView(m domain.Model) modelView {
	return modelView{ID: m.ID, Name: m.Name, Alias: m.Alias, Object: "model", Enabled: m.Enabled}
}

// handleListModels returns every enabled model, filtered by the caller
// token's allowedModels restriction when non-empty.
func handleListModels(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFromContext(r.Context())
		if !ok {
			writeWireError(w, http.StatusUnauthorized, kindAuthentication, "missing authenticated principal", "")
			return
		}

		all, err := d.Store.ListModels(r.Context())
		if err != nil {
			writeWireError(w, http.StatusServiceUnavailable, kindServiceUnavail, "failed to list models", "")
			return
		}

		allowed := allowedModelSet(principal.Token.AllowedModels)
		out := make([]modelView, 0, len(all))
		for _, m := range all {
			if !m.Enabled {
				continue
			}
			if allowed != nil && !allowed[m.ID] {
				continue
			}
			out = append(out, toModelView(m))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Object string      `json:"object"`
			Data   []modelView `json:"data"`
		}{Object: "list", Data: out})
	}
}

// handleGetModel fetches a single model by its identifier (id, name, or
// alias), honoring the same allowedModels restriction.
func handleGetModel(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFromContext(r.Context())
		if !ok {
			writeWireError(w, http.StatusUnauthorized, kindAuthentication, "missing authenticated principal", "")
			return
		}

		name := chi.URLParam(r, "name")
		m, err := d.Store.GetModelByIdentifier(r.Context(), name)
		if err != nil {
			writeWireError(w, http.StatusServiceUnavailable, kindServiceUnavail, "failed to look up model", "")
			return
		}
		if m == nil || !m.Enabled {
			writeWireError(w, http.StatusNotFound, kindNotFound, "model not found", "name")
			return
		}

		allowed := allowedModelSet(principal.Token.AllowedModels)
		if allowed != nil && !allowed[m.ID] {
			writeWireError(w, http.StatusForbidden, kindPermission, "model not allowed for this token", "name")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(toModelView(*m))
	}
}

func allowedModelSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
