// Package middleware provides the bearer-token guard for services that
// mount protected routes next to the auth endpoints.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	authcore "github.com/halcyonsec/authcore"
	"github.com/halcyonsec/authcore/httpapi"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the identity the guard verified for this
// request.
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authcore.AuthResult)
	return res, ok
}

// Guard validates the Authorization bearer token on every request and
// injects the verified [authcore.AuthResult] into the context. Verification
// failures are uniform 401s; store faults are 503s, never a pass.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				unauthorized(w, r)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, r)
				return
			}

			res, err := engine.Validate(r.Context(), token)
			if err != nil {
				if errors.Is(err, authcore.ErrStoreUnavailable) || errors.Is(err, authcore.ErrEngineNotReady) {
					httpapi.WriteProblem(w, r, httpapi.NewProblem(
						http.StatusServiceUnavailable, httpapi.CodeStoreUnavailable, "Service unavailable"))
					return
				}
				unauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteProblem(w, r, httpapi.NewProblem(
		http.StatusUnauthorized, httpapi.CodeTokenInvalid, "Invalid access token"))
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
