package forwarder

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jordanhubbard/llmgateway/internal/counters"
	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/selector"
	"github.com/stretchr/testify/require"
)

func newTestForwarder() *Forwarder {
	b := selector.NewBreaker(counters.NewFakeStore(), selector.WithThreshold(5), selector.WithCooldown(0))
	return New(http.DefaultClient, b, slog.Default())
}

func TestForwardUnary_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"usage": map[string]int64{"prompt_tokens": 3, "completion_tokens": 7}})
	}))
	defer ts.Close()

	f := newTestForwarder()
	endpoints := []domain.Endpoint{{URL: ts.URL}}
	res, err := f.ForwardUnary(context.Background(), endpoints, map[string]any{"model": "gpt4"}, PathChatCompletions)
	require.NoError(t, err)
	require.Equal(t, int64(3), res.InputTokens)
	require.Equal(t, int64(7), res.OutputTokens)
}

func TestForwardUnary_FailsOverOn502(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"usage": map[string]int64{"prompt_tokens": 1, "completion_tokens": 2}})
	}))
	defer good.Close()

	f := newTestForwarder()
	endpoints := []domain.Endpoint{{URL: bad.URL}, {URL: good.URL}}
	res, err := f.ForwardUnary(context.Background(), endpoints, map[string]any{"model": "gpt4"}, PathChatCompletions)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.OutputTokens)
}

func TestForwardUnary_AllEndpointsDown(t *testing.T) {
	bad1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer bad1.Close()
	bad2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer bad2.Close()

	f := newTestForwarder()
	endpoints := []domain.Endpoint{{URL: bad1.URL}, {URL: bad2.URL}}
	_, err := f.ForwardUnary(context.Background(), endpoints, map[string]any{"model": "gpt4"}, PathChatCompletions)
	require.Error(t, err)
	_, ok := err.(*ServiceUnavailableError)
	require.True(t, ok)
}

func TestForwardUnary_ClientErrorNoFailover(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden"}`))
	}))
	defer ts.Close()
	ts2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("second endpoint should never be tried on a client error")
	}))
	defer ts2.Close()

	f := newTestForwarder()
	endpoints := []domain.Endpoint{{URL: ts.URL}, {URL: ts2.URL}}
	res, err := f.ForwardUnary(context.Background(), endpoints, map[string]any{"model": "gpt4"}, PathChatCompletions)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	require.Equal(t, 1, calls)
}

func TestForwardUnary_ContextWindowRecovery(t *testing.T) {
	attempt := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["max_tokens"]; ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"max_tokens is too large for this model"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"usage": map[string]int64{"prompt_tokens": 1, "completion_tokens": 1}})
	}))
	defer ts.Close()

	f := newTestForwarder()
	endpoints := []domain.Endpoint{{URL: ts.URL}}
	res, err := f.ForwardUnary(context.Background(), endpoints, map[string]any{"model": "gpt4", "max_tokens": 8000}, PathChatCompletions)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, 2, attempt)
}

func TestForwardUnary_MaxTokensTooSmall(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"max_tokens must be at least 1"}`))
	}))
	defer ts.Close()

	f := newTestForwarder()
	endpoints := []domain.Endpoint{{URL: ts.URL}}
	res, err := f.ForwardUnary(context.Background(), endpoints, map[string]any{"model": "gpt4", "max_tokens": 0}, PathChatCompletions)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Contains(t, string(res.Body), "invalid_request_error")
}

func TestForwardStream_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: {\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":9}}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer ts.Close()

	f := newTestForwarder()
	endpoints := []domain.Endpoint{{URL: ts.URL}}
	rec := httptest.NewRecorder()
	res, err := f.ForwardStream(context.Background(), endpoints, map[string]any{"model": "gpt4", "stream": true}, rec)
	require.NoError(t, err)
	require.Equal(t, int64(5), res.InputTokens)
	require.Equal(t, int64(9), res.OutputTokens)
	require.Contains(t, rec.Body.String(), "[DONE]")
}
