package forwarder

import (
	"strings"

	"github.com/jordanhubbard/llmgateway/internal/domain"
)

// Classify maps one upstream attempt to an Outcome (§4.5). statusCode is the
// HTTP status (0 for a network-level failure with no response at all); body
// is the raw response body; hadMaxTokensField reports whether the original
// client request carried max_tokens or max_completion_tokens, which gates
// RecoverableContextWindow.
func Classify(statusCode int, body []byte, hadMaxTokensField bool) domain.Outcome {
	if statusCode == 0 {
		return domain.ServerErrorOrNetwork
	}
	if statusCode >= 200 && statusCode < 300 {
		return domain.Success
	}
	if statusCode >= 500 {
		return domain.ServerErrorOrNetwork
	}
	if statusCode != 400 {
		return domain.ClientError
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "max_tokens") && strings.Contains(lower, "must be at least") {
		return domain.ClientMaxTokensTooSmall
	}

	if hadMaxTokensField && matchesContextWindowFilter(lower) {
		return domain.RecoverableContextWindow
	}

	return domain.ClientError
}

func matchesContextWindowFilter(lower string) bool {
	if strings.Contains(lower, "contextwindowexceedederror") {
		return true
	}
	if strings.Contains(lower, "max_tokens") && strings.Contains(lower, "too large") {
		return true
	}
	if strings.Contains(lower, "max_completion_tokens") && strings.Contains(lower, "too large") {
		return true
	}
	if strings.Contains(lower, "context length") && strings.Contains(lower, "input tokens") {
		return true
	}
	return false
}
