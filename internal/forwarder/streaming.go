package forwarder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/upstream"
)

// doStream issues one streaming request and normalizes the result. On a 2xx
// response rc is the live body the caller must read and close. On a non-2xx
// response rc is nil and body holds the already-drained error body. err is
// non-nil only for a true network-level failure.
func (f *Forwarder) doStream(ctx context.Context, url string, body map[string]any, headers map[string]string) (rc io.ReadCloser, status int, errBody []byte, err error) {
	stream, reqErr := upstream.DoStreamRequest(ctx, f.client, url, body, headers)
	if reqErr == nil {
		return stream, http.StatusOK, nil, nil
	}
	var se *upstream.StatusError
	if errors.As(reqErr, &se) {
		return nil, se.StatusCode, []byte(se.Body), nil
	}
	return nil, 0, nil, reqErr
}

// ForwardStream implements the streaming path of §4.5. w must support
// http.Flusher for incremental delivery. Once the first upstream byte is
// forwarded, no further failover is attempted: a subsequent upstream error
// only ends the client stream (§4.5, §8 invariant 9).
func (f *Forwarder) ForwardStream(ctx context.Context, endpoints []domain.Endpoint, clientBody map[string]any, w http.ResponseWriter) (*StreamResult, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestDeadline)
	defer cancel()

	hadMaxTokens := hasMaxTokensField(clientBody)
	allowed := allowedEndpointCount(ctx, f.breaker, endpoints)

	var lastErr error
	var lastStatus int
	var lastBody []byte

	for _, ep := range endpoints {
		if allowed > 0 && !f.breaker.Allow(ctx, ep.URL) {
			f.logger.Debug("forwarder: skipping endpoint, breaker open", slog.String("url", ep.URL))
			continue
		}

		url := NormalizeURL(ep.URL, PathChatCompletions)
		upstreamBody := buildUpstreamBody(clientBody, ep.ModelName)
		upstreamBody["stream_options"] = map[string]any{"include_usage": true}
		headers := buildHeaders(ep)

		rc, status, body, err := f.doStream(ctx, url, upstreamBody, headers)
		if err != nil {
			f.breaker.RecordFailure(ctx, ep.URL)
			lastErr, lastStatus, lastBody = err, 0, nil
			continue
		}

		if status >= 200 && status < 300 {
			f.breaker.RecordSuccess(ctx, ep.URL)
			writeSSEHeaders(w)
			prompt, completion := f.streamSSE(ctx, rc, w)
			return &StreamResult{StatusCode: http.StatusOK, InputTokens: prompt, OutputTokens: completion}, nil
		}

		if status != http.StatusBadRequest {
			if status >= 500 {
				f.breaker.RecordFailure(ctx, ep.URL)
				lastErr, lastStatus, lastBody = nil, status, body
				continue
			}
			return nil, &ClientErrorResult{status: status, body: body}
		}

		// Preliminary 400: try the recovery paths before the generic retry.
		outcome := Classify(status, body, hadMaxTokens)
		if outcome == domain.ClientMaxTokensTooSmall {
			return nil, &ClientErrorResult{status: http.StatusBadRequest, body: maxTokensTooSmallBody()}
		}

		retryBody := withoutStreamOptions(upstreamBody)
		if outcome == domain.RecoverableContextWindow {
			retryBody = stripMaxTokensFields(retryBody)
		}
		retryRC, retryStatus, retryBodyBytes, retryErr := f.doStream(ctx, url, retryBody, headers)
		if retryErr != nil {
			// Retry network-failed: return the ORIGINAL error per §4.5.
			return nil, &ClientErrorResult{status: status, body: body}
		}
		if retryStatus >= 200 && retryStatus < 300 {
			f.breaker.RecordSuccess(ctx, ep.URL)
			writeSSEHeaders(w)
			prompt, completion := f.streamSSE(ctx, retryRC, w)
			return &StreamResult{StatusCode: http.StatusOK, InputTokens: prompt, OutputTokens: completion}, nil
		}
		return nil, &ClientErrorResult{status: retryStatus, body: retryBodyBytes}
	}

	return nil, &ServiceUnavailableError{Message: exhaustedMessage(lastErr, lastStatus, lastBody)}
}

// ClientErrorResult signals a terminal (non-retryable, non-failover) client
// error discovered before any bytes were sent to the client, so the caller
// can still write a normal status+body response instead of an SSE stream.
type ClientErrorResult struct {
	status int
	body   []byte
}

func (e *ClientErrorResult) Error() string {
	return fmt.Sprintf("upstream client error (status %d)", e.status)
}

// StatusCode and Body let the httpapi layer recover the terminal response
// shape from the error without a type-specific import cycle.
func (e *ClientErrorResult) StatusCode() int { return e.status }
func (e *ClientErrorResult) Body() []byte    { return e.body }

func withoutStreamOptions(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if k == "stream_options" {
			continue
		}
		out[k] = v
	}
	return out
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// streamSSE reads the upstream SSE body line by line, forwarding each
// complete line to the client and folding any usage object (last-wins) into
// the returned token counts. A read error or EOF simply ends the stream; no
// failover is attempted past this point (§8 invariant 9).
func (f *Forwarder) streamSSE(ctx context.Context, rc io.ReadCloser, w http.ResponseWriter) (promptTokens, completionTokens int64) {
	defer rc.Close()
	flusher, _ := w.(http.Flusher)
	reader := bufio.NewReader(rc)

	for {
		line, readErr := reader.ReadString('\n')
		if len(line) > 0 {
			trimmed := strings.TrimRight(line, "\r\n")
			switch {
			case trimmed == "":
				// frame separator, nothing to forward
			case strings.HasPrefix(trimmed, "data: "):
				payload := strings.TrimPrefix(trimmed, "data: ")
				fmt.Fprintf(w, "data: %s\n\n", payload)
				if payload != "[DONE]" {
					if p, c, ok := extractUsage(payload); ok {
						promptTokens, completionTokens = p, c
					}
				}
			default:
				fmt.Fprintf(w, "%s\n", trimmed)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func extractUsage(payload string) (prompt, completion int64, ok bool) {
	var frame struct {
		Usage *struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(payload), &frame); err != nil || frame.Usage == nil {
		return 0, 0, false
	}
	return frame.Usage.PromptTokens, frame.Usage.CompletionTokens, true
}
