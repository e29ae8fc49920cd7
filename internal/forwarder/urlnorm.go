package forwarder

import "strings"

// PathChatCompletions and PathEmbeddings are the two upstream paths the
// forwarder targets.
const (
	PathChatCompletions = "/chat/completions"
	PathEmbeddings      = "/embeddings"
)

// NormalizeURL derives the full upstream URL for the given target path from
// a configured base endpoint URL (§4.5). The same base can serve both chat
// completions and embeddings: a base already pointing at one target is left
// alone, and a base ending in /chat/completions is rewritten to /embeddings
// when that's what's being requested.
func NormalizeURL(base, target string) string {
	base = strings.TrimRight(base, "/")

	if target == PathEmbeddings && strings.HasSuffix(base, PathChatCompletions) {
		base = strings.TrimSuffix(base, PathChatCompletions)
	}

	if strings.HasSuffix(base, target) {
		return base
	}
	return base + target
}
