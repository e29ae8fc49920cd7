package reconciler

import (
	"fmt"
	"regexp"
)

const (
	maxRequestLogBytes  = 50_000
	maxResponseLogBytes = 10_000
)

// dataImageURI matches an inline data:image/... URI, whether it stands
// alone in a string value or sits inside an image_url.url field.
var dataImageURI = regexp.MustCompile(`data:image/[a-zA-Z0-9+.-]+;base64,[A-Za-z0-9+/=]+`)

// sanitizeAndTruncate redacts inline base64 image payloads from a request
// or response body before it is written to the audit log (§4.6 effect 6),
// then truncates to maxBytes. Redaction runs before truncation so a huge
// inline image never survives as raw base64 in the truncated prefix.
func sanitizeAndTruncate(body []byte, maxBytes int) string {
	if len(body) == 0 {
		return ""
	}
	redacted := dataImageURI.ReplaceAllFunc(body, func(match []byte) []byte {
		return []byte(fmt.Sprintf("[BASE64_IMAGE:%d chars]", len(match)))
	})
	if len(redacted) <= maxBytes {
		return string(redacted)
	}
	return string(redacted[:maxBytes])
}
