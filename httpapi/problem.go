package httpapi

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 9457 error body. ErrorCode is the stable machine key
// clients should branch on; Title and Detail are for humans and may change.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	ErrorCode string `json:"errorCode"`
}

// Error codes returned by this API.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeMFAInvalid         = "AUTH_MFA_INVALID"
	CodeRateLimited        = "AUTH_RATE_LIMITED"
	CodeRefreshInvalid     = "AUTH_REFRESH_INVALID"
	CodeTokenInvalid       = "AUTH_TOKEN_INVALID"
	CodeBadRequest         = "AUTH_BAD_REQUEST"
	CodeStoreUnavailable   = "AUTH_STORE_UNAVAILABLE"
	CodeInternal           = "AUTH_INTERNAL"
)

const problemTypeBase = "https://authcore.dev/problems/"

// NewProblem builds a Problem for one of the codes above.
func NewProblem(status int, code, title string) Problem {
	return Problem{
		Type:      problemTypeBase + code,
		Title:     title,
		Status:    status,
		ErrorCode: code,
	}
}

// WriteProblem renders p with the request path as instance. Problem bodies
// are never cacheable.
func WriteProblem(w http.ResponseWriter, r *http.Request, p Problem) {
	p.Instance = r.URL.Path
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeJSON renders a success body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
