package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const healthCheckTimeout = 3 * time.Second

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealth reports 503 if either the persistent store or the fast
// counter store cannot be reached.
func handleHealth(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if _, err := d.Store.GetRateLimitConfig(ctx); err != nil {
			writeHealth(w, http.StatusServiceUnavailable, "store unreachable")
			return
		}
		if _, err := d.Counters.Get(ctx, "health:ping"); err != nil {
			writeHealth(w, http.StatusServiceUnavailable, "counter store unreachable")
			return
		}

		writeHealth(w, http.StatusOK, "ok")
	}
}

func writeHealth(w http.ResponseWriter, status int, statusText string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: statusText, Timestamp: time.Now().UTC()})
}
