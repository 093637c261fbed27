package http

import (
	"log/slog"
	"net/http"
	"strings"

	"anbor/internal/auth"
)

// roleRank orders roles for gate checks. Admin covers everything a
// Clerk may do, Clerk everything a Viewer may do.
func roleRank(r auth.Role) int {
	switch r {
	case auth.RoleAdmin:
		return 3
	case auth.RoleClerk:
		return 2
	case auth.RoleViewer:
		return 1
	default:
		return 0
	}
}

// requireRole guards an API handler. The caller must present the access
// token of the stored session as a bearer token; the session's role
// must rank at least min.
func (s *Server) requireRole(min auth.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		sess, err := s.auth.RestoreSession(r.Context())
		if err != nil {
			slog.ErrorContext(r.Context(), "Session restore failed", "error", err)
			writeError(w, http.StatusInternalServerError, "session restore failed")
			return
		}
		if sess == nil || sess.AccessToken != token {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "not signed in")
			return
		}

		if roleRank(sess.Role) < roleRank(min) {
			slog.WarnContext(r.Context(), "Role gate rejected request",
				"user_email", sess.Identity.Email,
				"user_role", string(sess.Role),
				"required_role", string(min),
				"path", r.URL.Path)
			writeError(w, http.StatusForbidden, "insufficient role")
			return
		}

		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
