package httpapi

import (
	"encoding/json"
	"net/http"
)

// wireErrorBody is the §6 error shape: {"error":{"type","message","param"?}}.
type wireErrorBody struct {
	Error wireErrorDetail `json:"error"`
}

type wireErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// Error kinds from §6.
const (
	kindAuthentication   = "authentication_error"
	kindPermission       = "permission_error"
	kindInvalidRequest   = "invalid_request_error"
	kindNotFound         = "not_found"
	kindRateLimit        = "rate_limit_exceeded"
	kindBudgetExceeded   = "budget_exceeded"
	kindServiceUnavail   = "service_unavailable"
	kindServerError      = "server_error"
	kindNotImplemented   = "not_implemented"
)

func writeWireError(w http.ResponseWriter, status int, kind, message, param string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(wireErrorBody{Error: wireErrorDetail{Type: kind, Message: message, Param: param}})
}

// writeUpstreamBody forwards an upstream response verbatim: same status
// code, raw body, no re-wrapping (§6, §7 "Upstream 4xx: forwarded verbatim").
func writeUpstreamBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
