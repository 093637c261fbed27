package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"anbor/internal/auth"
)

// httpNavigator binds the auth manager's redirect side effect to the
// in-flight response.
type httpNavigator struct {
	w http.ResponseWriter
	r *http.Request
}

func (n httpNavigator) RedirectTo(target string) {
	http.Redirect(n.w, n.r, target, http.StatusFound)
}

type sessionResponse struct {
	User userResponse `json:"user"`
	Role string       `json:"role"`
}

type userResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

func sessionToResponse(sess *auth.Session) sessionResponse {
	return sessionResponse{
		User: userResponse{
			ID:      sess.Identity.ID,
			Email:   sess.Identity.Email,
			Name:    sess.Identity.Name,
			Picture: sess.Identity.Picture,
		},
		Role: string(sess.Role),
	}
}

// handleLogin starts the sign-in flow and redirects to the provider's
// consent screen.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	m := s.auth.WithNavigator(httpNavigator{w: w, r: r})
	if err := m.BeginLogin(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Login initiation failed", "error", err)
		writeError(w, http.StatusBadGateway, "could not start sign-in")
		return
	}
}

// handleCallback finishes the sign-in flow with the authorization code
// the provider calls back with.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()

	// The provider reports consent denial and its own failures here.
	if provErr := q.Get("error"); provErr != "" {
		slog.WarnContext(r.Context(), "Provider returned error on callback", "provider_error", provErr)
		http.Redirect(w, r, "/login?error="+url.QueryEscape(provErr), http.StatusFound)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	sess, err := s.auth.CompleteLogin(r.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingVerifier):
			slog.WarnContext(r.Context(), "Callback without pending sign-in", "error", err)
			writeError(w, http.StatusBadRequest, "no sign-in in progress")
		case errors.Is(err, auth.ErrTokenExchange):
			slog.ErrorContext(r.Context(), "Token exchange failed", "error", err)
			writeError(w, http.StatusBadGateway, "token exchange failed")
		case errors.Is(err, auth.ErrUserInfo):
			slog.ErrorContext(r.Context(), "User info fetch failed", "error", err)
			writeError(w, http.StatusBadGateway, "could not load user profile")
		default:
			slog.ErrorContext(r.Context(), "Sign-in failed", "error", err)
			writeError(w, http.StatusInternalServerError, "sign-in failed")
		}
		return
	}

	slog.InfoContext(r.Context(), "User signed in",
		"user_email", sess.Identity.Email,
		"user_role", string(sess.Role))

	writeJSON(w, http.StatusOK, sessionToResponse(sess))
}

// handleLogout clears the stored session and redirects to the login
// entry point.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	m := s.auth.WithNavigator(httpNavigator{w: w, r: r})
	if err := m.Logout(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
}
