package reconciler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize_RedactsInlineImage(t *testing.T) {
	body := []byte(`{"image_url":{"url":"data:image/png;base64,iVBORw0KGgoAAAANSUhEUg"}}`)
	out := sanitizeAndTruncate(body, maxRequestLogBytes)
	assert.NotContains(t, out, "iVBORw0KGgo")
	assert.Contains(t, out, "[BASE64_IMAGE:")
}

func TestSanitize_LeavesNonImageBodyAlone(t *testing.T) {
	body := []byte(`{"model":"gpt4","messages":[{"role":"user","content":"hi"}]}`)
	out := sanitizeAndTruncate(body, maxRequestLogBytes)
	assert.Equal(t, string(body), out)
}

func TestSanitize_TruncatesLongBody(t *testing.T) {
	body := []byte(strings.Repeat("a", 200))
	out := sanitizeAndTruncate(body, 50)
	assert.Len(t, out, 50)
}

func TestSanitize_EmptyBody(t *testing.T) {
	assert.Equal(t, "", sanitizeAndTruncate(nil, maxRequestLogBytes))
}
