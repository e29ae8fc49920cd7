package domain

// Outcome is the sum type driving the forwarder's failover loop (§4.5). Each
// upstream attempt produces exactly one of these five variants.
type Outcome int

const (
	// SUCCESS: 2xx. Stream/return to the client; reset the breaker.
	Success Outcome = iota
	// CLIENT_ERROR: 4xx not matching any recovery filter. Forwarded verbatim;
	// never retried, never counted as a breaker failure.
	ClientError
	// CLIENT_MAX_TOKENS_TOO_SMALL: 400 whose body names max_tokens as too
	// small. Replaced with a stable invalid_request_error; no failover.
	ClientMaxTokensTooSmall
	// RECOVERABLE_CONTEXT_WINDOW: 400 matching a context-window filter, with
	// max_tokens/max_completion_tokens present in the original request.
	// Triggers exactly one same-endpoint retry with those fields stripped.
	RecoverableContextWindow
	// SERVER_ERROR_OR_NETWORK: 5xx, timeout, or connection error. Counts as a
	// breaker failure and advances the failover chain.
	ServerErrorOrNetwork
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case ClientError:
		return "client_error"
	case ClientMaxTokensTooSmall:
		return "client_max_tokens_too_small"
	case RecoverableContextWindow:
		return "recoverable_context_window"
	case ServerErrorOrNetwork:
		return "server_error_or_network"
	default:
		return "unknown"
	}
}
