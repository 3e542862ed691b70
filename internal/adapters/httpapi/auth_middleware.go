package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// TokenVerifier verifies a session token and returns the account subject.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

var (
	errNoAuthorization = errors.New("missing Authorization header")
	errNotBearer       = errors.New("malformed Authorization header")
	errEmptyBearer     = errors.New("missing bearer token")
)

// bearerToken extracts the token from "Authorization: Bearer <token>". The
// scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, error) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", errNoAuthorization
	}
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok && strings.EqualFold(scheme, "bearer") {
		return "", errEmptyBearer
	}
	if !strings.EqualFold(scheme, "bearer") {
		return "", errNotBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errEmptyBearer
	}
	return token, nil
}

// NewAuthMiddleware admits requests carrying a session token issued by
// POST /v1/session and records the account subject for handlers.
func NewAuthMiddleware(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeAPIError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
				return
			}
			sub, err := v.Verify(r.Context(), token)
			if err != nil {
				writeAPIError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired session token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), sub)))
		})
	}
}

// NewDevAuthMiddleware trusts X-Debug-Subject, falling back to
// defaultSubject. Only wired when AUTH_MODE=dev.
func NewDevAuthMiddleware(defaultSubject string) func(http.Handler) http.Handler {
	fallback := strings.TrimSpace(defaultSubject)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub := strings.TrimSpace(r.Header.Get("X-Debug-Subject"))
			if sub == "" {
				sub = fallback
			}
			if sub == "" {
				writeAPIError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing subject (set X-Debug-Subject)", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), sub)))
		})
	}
}
