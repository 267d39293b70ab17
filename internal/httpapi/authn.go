package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"smspanel.org/internal/auth"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionHeader = "X-Session-Id"
)

// Paths reachable without a token. The auth flow endpoints themselves must be
// public; everything else under /api requires a valid access token plus a
// session past its second factor.
var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
	"/api/v1/auth/register",
	"/api/v1/auth/login",
	"/api/v1/auth/refresh-token",
	"/api/v1/auth/validate-api-key",
}

// Endpoints a half-authenticated session (token issued, second factor still
// pending) may call to finish logging in.
var pendingSessionPaths = []string{
	"/api/v1/auth/verify-2fa",
	"/api/v1/auth/send-2fa-code",
	"/api/v1/auth/send-email-verification",
	"/api/v1/auth/verify-email",
	"/api/v1/auth/logout",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		// Token possession is not enough: the session must exist and have
		// cleared its second factor, except on the completion endpoints.
		sessionID := strings.TrimSpace(r.Header.Get(sessionHeader))
		principal.SessionID = sessionID
		if !isPendingSessionPath(r.URL.Path) {
			if sessionID == "" {
				writeError(w, r, http.StatusUnauthorized, "missing session id")
				return
			}
			if err := a.auth.SessionAuthorized(r.Context(), sessionID); err != nil {
				switch {
				case errors.Is(err, auth.ErrSessionNotFound):
					writeError(w, r, http.StatusUnauthorized, "session not found")
				case errors.Is(err, auth.ErrUnauthorized):
					writeError(w, r, http.StatusUnauthorized, "second factor required")
				default:
					writeError(w, r, http.StatusInternalServerError, "authentication error")
				}
				return
			}
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermissions writes a 403 and returns false unless the request's
// principal holds every named permission.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, perms ...string) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	for _, perm := range perms {
		if !principal.HasPermission(perm) {
			writeError(w, r, http.StatusForbidden, "permission denied")
			return false
		}
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func isPendingSessionPath(path string) bool {
	for _, p := range pendingSessionPaths {
		if path == p {
			return true
		}
	}
	return false
}
