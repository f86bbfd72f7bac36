package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	authcore "github.com/halcyonsec/authcore"
)

// Handler serves the authentication endpoints from one Engine.
type Handler struct {
	engine *authcore.Engine
}

// NewHandler creates a [Handler].
func NewHandler(engine *authcore.Engine) *Handler {
	return &Handler{engine: engine}
}

// Router assembles the full HTTP surface with security headers and request
// logging applied to every route, 404s included.
func (h *Handler) Router(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("POST /refresh", h.handleRefresh)
	mux.HandleFunc("POST /logout", h.handleLogout)
	mux.HandleFunc("GET /validate", h.handleValidate)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /metrics", h.handleMetrics)

	return SecurityHeaders(RequestLogger(logger)(mux))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFAToken string `json:"mfaToken,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

type mfaRequiredResponse struct {
	MFARequired bool   `json:"mfaRequired"`
	MFAType     string `json:"mfaType"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, NewProblem(http.StatusBadRequest, CodeBadRequest, "Malformed request body"))
		return
	}
	if req.Email == "" || req.Password == "" {
		WriteProblem(w, r, NewProblem(http.StatusBadRequest, CodeBadRequest, "Email and password are required"))
		return
	}

	result, err := h.engine.Login(r.Context(), authcore.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		MFACode:  req.MFAToken,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if result.MFARequired {
		writeJSON(w, http.StatusOK, mfaRequiredResponse{MFARequired: true, MFAType: result.MFAType})
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(result.TokenPair))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		WriteProblem(w, r, NewProblem(http.StatusBadRequest, CodeBadRequest, "Refresh token is required"))
		return
	}

	pair, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

type logoutRequest struct {
	// RefreshToken is accepted for wire compatibility; tearing down the
	// session invalidates it without an extra store operation.
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		WriteProblem(w, r, NewProblem(http.StatusUnauthorized, CodeTokenInvalid, "Invalid access token"))
		return
	}

	var req logoutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.engine.Logout(r.Context(), token); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type validateResponse struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"sessionId"`
	TokenID   string `json:"tokenId"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		WriteProblem(w, r, NewProblem(http.StatusUnauthorized, CodeTokenInvalid, "Invalid access token"))
		return
	}

	result, err := h.engine.Validate(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{
		UserID:    result.UserID,
		Email:     result.Email,
		Role:      result.Role,
		SessionID: result.SessionID,
		TokenID:   result.TokenID,
		ExpiresAt: result.ExpiresAt.Unix(),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Ready() {
		WriteProblem(w, r, NewProblem(http.StatusServiceUnavailable, CodeStoreUnavailable, "Service unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.engine.MetricsSnapshot()

	var b strings.Builder
	b.Grow(4096)
	for _, def := range authcore.CounterDefs {
		b.WriteString("# HELP ")
		b.WriteString(def.Name)
		b.WriteByte(' ')
		b.WriteString(def.Help)
		b.WriteByte('\n')
		b.WriteString("# TYPE ")
		b.WriteString(def.Name)
		b.WriteString(" counter\n")
		b.WriteString(def.Name)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(snapshot.Counters[def.ID], 10))
		b.WriteByte('\n')
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

// writeError maps engine errors to Problem responses. Titles stay generic
// on purpose; sub-reasons are already in the logs under the request's
// correlation ID.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rateErr *authcore.RateLimitedError
	if errors.As(err, &rateErr) {
		retryAfter := int64(rateErr.RetryAfter / time.Second)
		if rateErr.RetryAfter%time.Second != 0 {
			retryAfter++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		WriteProblem(w, r, NewProblem(http.StatusTooManyRequests, CodeRateLimited, "Too many attempts"))
		return
	}

	switch {
	case errors.Is(err, authcore.ErrInvalidCredentials):
		WriteProblem(w, r, NewProblem(http.StatusUnauthorized, CodeInvalidCredentials, "Invalid credentials"))
	case errors.Is(err, authcore.ErrMFAInvalid):
		WriteProblem(w, r, NewProblem(http.StatusUnauthorized, CodeMFAInvalid, "Invalid MFA code"))
	case errors.Is(err, authcore.ErrRefreshInvalid), errors.Is(err, authcore.ErrRefreshReuse):
		WriteProblem(w, r, NewProblem(http.StatusUnauthorized, CodeRefreshInvalid, "Invalid refresh token"))
	case errors.Is(err, authcore.ErrAccessInvalid):
		WriteProblem(w, r, NewProblem(http.StatusUnauthorized, CodeTokenInvalid, "Invalid access token"))
	case errors.Is(err, authcore.ErrStoreUnavailable), errors.Is(err, authcore.ErrEngineNotReady):
		WriteProblem(w, r, NewProblem(http.StatusServiceUnavailable, CodeStoreUnavailable, "Service unavailable"))
	default:
		WriteProblem(w, r, NewProblem(http.StatusInternalServerError, CodeInternal, "Internal error"))
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}

func toTokenResponse(pair *authcore.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(time.Until(pair.ExpiresAt) / time.Second),
		TokenType:    pair.TokenType,
	}
}
