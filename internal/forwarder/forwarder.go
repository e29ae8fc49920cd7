// Package forwarder implements the unary/streaming forwarding state machine
// (§4.5): URL/body normalization, outcome-driven failover across a model's
// endpoint list, and the single context-window auto-recovery retry.
package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/selector"
	"github.com/jordanhubbard/llmgateway/internal/upstream"
)

// RequestDeadline is the overall per-request deadline (§4.5, §5).
const RequestDeadline = 120 * time.Second

// ServiceUnavailableError is returned once every endpoint in the failover
// chain has been exhausted.
type ServiceUnavailableError struct{ Message string }

func (e *ServiceUnavailableError) Error() string { return e.Message }

// UnaryResult is the outcome of a non-streaming forward.
type UnaryResult struct {
	StatusCode   int
	Body         []byte
	InputTokens  int64
	OutputTokens int64
}

// StreamResult is the outcome of a streaming forward whose body has already
// been written to the client.
type StreamResult struct {
	StatusCode   int
	InputTokens  int64
	OutputTokens int64
}

type Forwarder struct {
	client  *http.Client
	breaker *selector.Breaker
	logger  *slog.Logger
}

func New(client *http.Client, breaker *selector.Breaker, logger *slog.Logger) *Forwarder {
	return &Forwarder{client: client, breaker: breaker, logger: logger}
}

func buildUpstreamBody(body map[string]any, modelName string) map[string]any {
	out := make(map[string]any, len(body)+1)
	for k, v := range body {
		out[k] = v
	}
	out["model"] = modelName
	return out
}

func hasMaxTokensField(body map[string]any) bool {
	_, a := body["max_tokens"]
	_, b := body["max_completion_tokens"]
	return a || b
}

func stripMaxTokensFields(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if k == "max_tokens" || k == "max_completion_tokens" {
			continue
		}
		out[k] = v
	}
	return out
}

// buildHeaders applies extraHeaders then the two reserved headers last, so a
// caller-supplied Content-Type/Authorization in extraHeaders never wins.
func buildHeaders(ep domain.Endpoint) map[string]string {
	h := make(map[string]string, len(ep.ExtraHeaders)+2)
	for k, v := range ep.ExtraHeaders {
		h[k] = v
	}
	delete(h, "Content-Type")
	delete(h, "Authorization")
	h["Content-Type"] = "application/json"
	if ep.APIKey != "" {
		h["Authorization"] = "Bearer " + ep.APIKey
	}
	return h
}

func allowedEndpointCount(ctx context.Context, b *selector.Breaker, endpoints []domain.Endpoint) int {
	n := 0
	for _, ep := range endpoints {
		if b.Allow(ctx, ep.URL) {
			n++
		}
	}
	return n
}

func parseUsage(body []byte, target string) (input, output int64) {
	var parsed struct {
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
			TotalTokens      int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, 0
	}
	if target == PathEmbeddings {
		if parsed.Usage.PromptTokens > 0 {
			return parsed.Usage.PromptTokens, 0
		}
		// Open question resolution (§9): attribute total_tokens entirely to
		// input when no prompt_tokens field is present.
		return parsed.Usage.TotalTokens, 0
	}
	return parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens
}

func maxTokensTooSmallBody() []byte {
	return []byte(`{"error":{"type":"invalid_request_error","message":"max_tokens must be at least 1"}}`)
}

// doUnary issues one non-streaming request and normalizes the result into
// (body, status, err) where err is non-nil only for a true network-level
// failure (no response at all).
func (f *Forwarder) doUnary(ctx context.Context, url string, body map[string]any, headers map[string]string) ([]byte, int, error) {
	respBody, err := upstream.DoRequest(ctx, f.client, url, body, headers)
	if err == nil {
		return respBody, http.StatusOK, nil
	}
	var se *upstream.StatusError
	if errors.As(err, &se) {
		return []byte(se.Body), se.StatusCode, nil
	}
	return nil, 0, err
}

// ForwardUnary implements the non-streaming path of §4.5.
func (f *Forwarder) ForwardUnary(ctx context.Context, endpoints []domain.Endpoint, clientBody map[string]any, target string) (*UnaryResult, error) {
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

		url := NormalizeURL(ep.URL, target)
		upstreamBody := buildUpstreamBody(clientBody, ep.ModelName)
		headers := buildHeaders(ep)

		respBody, status, err := f.doUnary(ctx, url, upstreamBody, headers)
		if err != nil {
			f.breaker.RecordFailure(ctx, ep.URL)
			lastErr, lastStatus, lastBody = err, 0, nil
			continue
		}

		switch Classify(status, respBody, hadMaxTokens) {
		case domain.Success:
			f.breaker.RecordSuccess(ctx, ep.URL)
			in, out := parseUsage(respBody, target)
			return &UnaryResult{StatusCode: status, Body: respBody, InputTokens: in, OutputTokens: out}, nil

		case domain.ClientMaxTokensTooSmall:
			return &UnaryResult{StatusCode: http.StatusBadRequest, Body: maxTokensTooSmallBody()}, nil

		case domain.ClientError:
			return &UnaryResult{StatusCode: status, Body: respBody}, nil

		case domain.RecoverableContextWindow:
			retryBody := stripMaxTokensFields(upstreamBody)
			retryRespBody, retryStatus, retryErr := f.doUnary(ctx, url, retryBody, headers)
			if retryErr != nil {
				// Retry network-failed: per §4.5 return the ORIGINAL error.
				return &UnaryResult{StatusCode: status, Body: respBody}, nil
			}
			if Classify(retryStatus, retryRespBody, false) == domain.Success {
				f.breaker.RecordSuccess(ctx, ep.URL)
				in, out := parseUsage(retryRespBody, target)
				return &UnaryResult{StatusCode: retryStatus, Body: retryRespBody, InputTokens: in, OutputTokens: out}, nil
			}
			return &UnaryResult{StatusCode: retryStatus, Body: retryRespBody}, nil

		case domain.ServerErrorOrNetwork:
			f.breaker.RecordFailure(ctx, ep.URL)
			lastErr, lastStatus, lastBody = nil, status, respBody
			continue
		}
	}

	return nil, &ServiceUnavailableError{Message: exhaustedMessage(lastErr, lastStatus, lastBody)}
}

func exhaustedMessage(err error, status int, body []byte) string {
	if err != nil {
		return err.Error()
	}
	if len(body) > 0 {
		return string(body)
	}
	if status != 0 {
		return http.StatusText(status)
	}
	return "no endpoint available"
}
