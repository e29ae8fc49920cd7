package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrOf(t *testing.T, url string) string {
	t.Helper()
	parts := strings.TrimPrefix(url, "http://")
	colonIdx := strings.LastIndex(parts, ":")
	return parts[colonIdx:]
}

func TestRunHealthCheck_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	require.NoError(t, runHealthCheck(addrOf(t, srv.URL)))
}

func TestRunHealthCheck_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := runHealthCheck(addrOf(t, srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check returned status 503")
}

func TestRunHealthCheck_ConnectionError(t *testing.T) {
	// chargen port, unlikely to be in use.
	err := runHealthCheck(":19")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check request failed")
}

func TestRunHealthCheck_InvalidJSON(t *testing.T) {
	// runHealthCheck only checks the status code, so an unparseable body is fine.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("not json {{{"))
	}))
	defer srv.Close()

	require.NoError(t, runHealthCheck(addrOf(t, srv.URL)))
}
