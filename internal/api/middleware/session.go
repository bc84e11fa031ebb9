package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/cyberguard/cyberguard/internal/auth"
	"github.com/cyberguard/cyberguard/internal/errors"
)

// SessionResolver turns a session token into a live session.
type SessionResolver interface {
	Resolve(token string) (*auth.Session, error)
}

// TokenFromRequest returns the session token from the named cookie, or
// from an "Authorization: Bearer" header when no cookie is present.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// Session attaches the caller's session to the request context when the
// request carries a valid token. Requests without one pass through
// unchanged; RequireSession decides whether that is acceptable.
func Session(resolver SessionResolver, cookieName string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r, cookieName)
			if token != "" {
				s, err := resolver.Resolve(token)
				if err == nil {
					r = r.WithContext(auth.WithSession(r.Context(), s))
				} else {
					logger.Debug("Session token rejected",
						"request_id", GetRequestID(r),
						"path", r.URL.Path)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession answers 401 when no session was attached.
func RequireSession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s := auth.SessionFromContext(r.Context()); s == nil || s.UserID == "" {
				err := errors.ErrUnauthenticated()
				WriteError(w, r, http.StatusUnauthorized, err.Code, err.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
