package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jordanhubbard/llmgateway/internal/budget"
	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/events"
	"github.com/jordanhubbard/llmgateway/internal/forwarder"
	"github.com/jordanhubbard/llmgateway/internal/quota"
	"github.com/jordanhubbard/llmgateway/internal/reconciler"
	"github.com/jordanhubbard/llmgateway/internal/resolver"
	"github.com/jordanhubbard/llmgateway/internal/selector"
)

// reconcileTimeout bounds the detached goroutine's store/counter round trips
// so a stalled backend never leaks a goroutine past the request lifetime.
const reconcileTimeout = 10 * time.Second

func handleChatCompletions(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handleProxiedRequest(d, w, r, forwarder.PathChatCompletions)
	}
}

func handleEmbeddings(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handleProxiedRequest(d, w, r, forwarder.PathEmbeddings)
	}
}

func handleCompletionsNotImplemented(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeWireError(w, http.StatusNotImplemented, kindNotImplemented, "the completions endpoint is not implemented", "")
	}
}

// handleProxiedRequest runs the full pipeline of §4: quota gate, budget
// gate, model resolution, endpoint selection, forwarding, and detached
// reconciliation. target distinguishes chat/completions from embeddings so
// the forwarder normalizes URLs and parses usage correctly.
func handleProxiedRequest(d Dependencies, w http.ResponseWriter, r *http.Request, target string) {
	start := time.Now()

	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeWireError(w, http.StatusUnauthorized, kindAuthentication, "missing authenticated principal", "")
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeWireError(w, http.StatusBadRequest, kindInvalidRequest, "failed to read request body", "")
		return
	}

	var clientBody map[string]any
	if err := json.Unmarshal(rawBody, &clientBody); err != nil {
		writeWireError(w, http.StatusBadRequest, kindInvalidRequest, "request body must be valid JSON", "")
		return
	}
	modelIdentifier, _ := clientBody["model"].(string)
	if modelIdentifier == "" {
		writeWireError(w, http.StatusBadRequest, kindInvalidRequest, `"model" is required`, "model")
		return
	}

	if err := d.QuotaGate.Check(r.Context(), principal); err != nil {
		var rej *quota.RejectError
		if errors.As(err, &rej) {
			w.Header().Set("Retry-After", strconv.Itoa(rej.RetryAfter))
			writeWireError(w, http.StatusTooManyRequests, kindRateLimit, err.Error(), string(rej.Dim))
			d.Events.Publish(events.Event{Type: events.EventQuotaRejected, TokenID: principal.Token.ID, Dimension: string(rej.Dim)})
			d.Metrics.QuotaRejections.WithLabelValues(string(rej.Dim)).Inc()
			return
		}
		writeWireError(w, http.StatusServiceUnavailable, kindServiceUnavail, "quota check failed", "")
		return
	}

	if err := d.BudgetGate.Check(r.Context(), principal); err != nil {
		var exceeded *budget.ExceededError
		if errors.As(err, &exceeded) {
			writeWireError(w, http.StatusTooManyRequests, kindBudgetExceeded, err.Error(), string(exceeded.Scope))
			d.Events.Publish(events.Event{Type: events.EventBudgetRejected, TokenID: principal.Token.ID, Scope: string(exceeded.Scope)})
			d.Metrics.BudgetRejections.WithLabelValues(string(exceeded.Scope)).Inc()
			return
		}
		writeWireError(w, http.StatusServiceUnavailable, kindServiceUnavail, "budget check failed", "")
		return
	}

	resolved, err := d.Resolver.Resolve(r.Context(), modelIdentifier, principal.Token)
	if err != nil {
		switch {
		case errors.Is(err, resolver.ErrModelNotFound):
			writeWireError(w, http.StatusNotFound, kindNotFound, err.Error(), "model")
		case errors.Is(err, resolver.ErrModelNotAllowed):
			writeWireError(w, http.StatusForbidden, kindPermission, err.Error(), "model")
		default:
			writeWireError(w, http.StatusServiceUnavailable, kindServiceUnavail, "model resolution failed", "")
		}
		return
	}

	endpoints, pickErr := d.Selector.Pick(r.Context(), resolved.Model.ID, resolved.Endpoints)
	if pickErr != nil && !errors.Is(pickErr, selector.ErrNoEndpointAvailable) {
		writeWireError(w, http.StatusServiceUnavailable, kindServiceUnavail, pickErr.Error(), "")
		return
	}

	wantsStream, _ := clientBody["stream"].(bool)

	if wantsStream && target == forwarder.PathChatCompletions {
		result, ferr := d.Forwarder.ForwardStream(r.Context(), endpoints, clientBody, w)
		if ferr != nil {
			handleForwardError(d, w, ferr)
			return
		}
		latencyMs := time.Since(start).Milliseconds()
		go recordAndPublish(d, principal, resolved.Model.ID, rawBody, nil, result.InputTokens, result.OutputTokens, result.StatusCode, latencyMs, "")
		d.Metrics.RequestsTotal.WithLabelValues(resolved.Model.ID, strconv.Itoa(result.StatusCode)).Inc()
		d.Metrics.RequestLatencyMs.WithLabelValues(resolved.Model.ID).Observe(float64(latencyMs))
		return
	}

	result, ferr := d.Forwarder.ForwardUnary(r.Context(), endpoints, clientBody, target)
	if ferr != nil {
		handleForwardError(d, w, ferr)
		return
	}

	latencyMs := time.Since(start).Milliseconds()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)

	errClass := ""
	if result.StatusCode >= 400 {
		errClass = "upstream_client_error"
	}
	go recordAndPublish(d, principal, resolved.Model.ID, rawBody, result.Body, result.InputTokens, result.OutputTokens, result.StatusCode, latencyMs, errClass)
	d.Metrics.RequestsTotal.WithLabelValues(resolved.Model.ID, strconv.Itoa(result.StatusCode)).Inc()
	d.Metrics.RequestLatencyMs.WithLabelValues(resolved.Model.ID).Observe(float64(latencyMs))
}

// handleForwardError maps the two possible forwarder-level errors to their
// wire shapes: a terminal upstream client error is forwarded verbatim, and
// exhausting every endpoint becomes a 503.
func handleForwardError(d Dependencies, w http.ResponseWriter, err error) {
	var clientErr *forwarder.ClientErrorResult
	if errors.As(err, &clientErr) {
		writeUpstreamBody(w, clientErr.StatusCode(), clientErr.Body())
		return
	}
	var svcErr *forwarder.ServiceUnavailableError
	if errors.As(err, &svcErr) {
		writeWireError(w, http.StatusServiceUnavailable, kindServiceUnavail, svcErr.Error(), "")
		return
	}
	writeWireError(w, http.StatusInternalServerError, kindServerError, err.Error(), "")
}

// recordAndPublish is the detached goroutine body run after the client
// response has already been written: it invokes the reconciler (§4.6) and
// publishes the corresponding dashboard event. It must never touch w or r.
func recordAndPublish(d Dependencies, principal domain.Principal, modelID string, reqBody, respBody []byte, inputTokens, outputTokens int64, status int, latencyMs int64, errClass string) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	d.Recorder.Record(ctx, reconciler.Outcome{
		Principal:    principal,
		ModelID:      modelID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		LatencyMs:    latencyMs,
		StatusCode:   status,
		RequestBody:  reqBody,
		ResponseBody: respBody,
		ErrorClass:   errClass,
	})

	if status < 400 {
		d.Events.Publish(events.Event{
			Type: events.EventRequestSuccess, ModelID: modelID, TokenID: principal.Token.ID,
			LatencyMs: float64(latencyMs), InputTokens: inputTokens, OutputTokens: outputTokens,
		})
	} else {
		d.Events.Publish(events.Event{
			Type: events.EventRequestError, ModelID: modelID, TokenID: principal.Token.ID, ErrorClass: errClass,
		})
	}
}
