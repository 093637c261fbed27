// Package auth implements the Google OAuth 2.0 Authorization Code flow
// with PKCE for a public client (no client secret), plus session
// persistence and domain-based role derivation.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Google endpoint defaults. Overridable through Config for tests and
// non-Google providers speaking the same shape.
const (
	DefaultAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultTokenURL    = "https://oauth2.googleapis.com/token"
	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	callbackPath = "/auth/callback"
	loginPath    = "/login"
)

var defaultScopes = []string{"openid", "profile", "email"}

// Navigator performs the redirect side effect. The HTTP layer binds it to
// an in-flight response; tests record the URL instead.
type Navigator interface {
	RedirectTo(url string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(url string)

func (f NavigatorFunc) RedirectTo(url string) { f(url) }

// Config configures a Manager.
type Config struct {
	// ClientID is the OAuth client identifier registered with the provider.
	ClientID string
	// Origin is the application origin; the redirect URI is fixed as
	// Origin + "/auth/callback" and must match the provider registration.
	Origin string

	// Endpoint overrides; empty values fall back to the Google endpoints.
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// Scopes defaults to "openid profile email".
	Scopes []string
	// Roles maps email domains to roles; nil means DefaultRoleTable.
	Roles RoleTable

	Durable   DurableStore
	Ephemeral EphemeralStore
	Navigator Navigator

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Manager owns the login/logout lifecycle. Construct one per process at
// startup; all methods are safe for the single-flow usage the HTTP layer
// guarantees (one callback handling per authorization code).
type Manager struct {
	clientID    string
	origin      string
	authURL     string
	tokenURL    string
	userInfoURL string
	scopes      []string
	roles       RoleTable
	durable     DurableStore
	ephemeral   EphemeralStore
	nav         Navigator
	httpClient  *http.Client
}

// NewManager validates cfg and builds a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("auth: missing client id")
	}
	if strings.TrimSpace(cfg.Origin) == "" {
		return nil, fmt.Errorf("auth: missing origin")
	}
	if cfg.Durable == nil || cfg.Ephemeral == nil {
		return nil, fmt.Errorf("auth: missing session stores")
	}

	m := &Manager{
		clientID:    cfg.ClientID,
		origin:      strings.TrimRight(cfg.Origin, "/"),
		authURL:     cfg.AuthURL,
		tokenURL:    cfg.TokenURL,
		userInfoURL: cfg.UserInfoURL,
		scopes:      cfg.Scopes,
		roles:       cfg.Roles,
		durable:     cfg.Durable,
		ephemeral:   cfg.Ephemeral,
		nav:         cfg.Navigator,
		httpClient:  cfg.HTTPClient,
	}
	if m.authURL == "" {
		m.authURL = DefaultAuthURL
	}
	if m.tokenURL == "" {
		m.tokenURL = DefaultTokenURL
	}
	if m.userInfoURL == "" {
		m.userInfoURL = DefaultUserInfoURL
	}
	if len(m.scopes) == 0 {
		m.scopes = defaultScopes
	}
	if m.roles == nil {
		m.roles = DefaultRoleTable()
	}
	if m.nav == nil {
		m.nav = NavigatorFunc(func(string) {})
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return m, nil
}

// WithNavigator returns a shallow copy of the manager bound to nav. The
// HTTP handlers use this to point the redirect at the current response.
func (m *Manager) WithNavigator(nav Navigator) *Manager {
	clone := *m
	clone.nav = nav
	return &clone
}

// RedirectURI returns the exact redirect URI sent on both legs of the flow.
func (m *Manager) RedirectURI() string {
	return m.origin + callbackPath
}

// BeginLogin generates fresh PKCE state, stores the verifier in ephemeral
// storage and redirects to the provider's consent screen. On failure no
// verifier is left behind and no redirect happens.
func (m *Manager) BeginLogin(ctx context.Context) error {
	verifier, err := generateVerifier()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitiation, err)
	}
	challenge := challengeFromVerifier(verifier)

	if err := m.ephemeral.Set(ctx, KeyCodeVerifier, verifier); err != nil {
		return fmt.Errorf("%w: store verifier: %v", ErrInitiation, err)
	}

	q := url.Values{}
	q.Set("client_id", m.clientID)
	q.Set("redirect_uri", m.RedirectURI())
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(m.scopes, " "))
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")

	authURL := m.authURL + "?" + q.Encode()
	slog.InfoContext(ctx, "Redirecting to identity provider",
		"component", "auth",
		"operation", "login",
		"redirect_uri", m.RedirectURI())
	m.nav.RedirectTo(authURL)
	return nil
}

// CompleteLogin exchanges the authorization code for tokens, fetches the
// user identity and persists the session. The stored verifier is cleared
// once the exchange resolves, success or not, so a stale verifier can
// never be replayed. Reusing an already-consumed code surfaces
// ErrTokenExchange from the provider.
func (m *Manager) CompleteLogin(ctx context.Context, code string) (*Session, error) {
	verifier, ok, err := m.ephemeral.Get(ctx, KeyCodeVerifier)
	if err != nil {
		return nil, fmt.Errorf("read verifier: %w", err)
	}
	if !ok || verifier == "" {
		return nil, ErrMissingVerifier
	}
	defer func() {
		if derr := m.ephemeral.Delete(ctx, KeyCodeVerifier); derr != nil {
			slog.WarnContext(ctx, "Failed to clear code verifier", "component", "auth", "error", derr)
		}
	}()

	tokens, err := m.exchangeCode(ctx, code, verifier)
	if err != nil {
		return nil, err
	}

	identity, rawIdentity, err := m.fetchUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	// The only place durable session state is written.
	if err := m.durable.Set(ctx, KeyAuthToken, tokens.AccessToken); err != nil {
		return nil, fmt.Errorf("persist access token: %w", err)
	}
	if err := m.durable.Set(ctx, KeyIDToken, tokens.IDToken); err != nil {
		return nil, fmt.Errorf("persist id token: %w", err)
	}
	if err := m.durable.Set(ctx, KeyUserData, rawIdentity); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}

	session := &Session{
		Identity:    *identity,
		AccessToken: tokens.AccessToken,
		IDToken:     tokens.IDToken,
		Role:        m.roles.RoleForEmail(identity.Email),
	}
	slog.InfoContext(ctx, "Login completed",
		"component", "auth",
		"operation", "callback",
		"user_email", identity.Email,
		"user_role", string(session.Role))
	return session, nil
}

func (m *Manager) exchangeCode(ctx context.Context, code, verifier string) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", m.clientID)
	form.Set("redirect_uri", m.RedirectURI())
	form.Set("code", code)
	form.Set("code_verifier", verifier)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTokenExchange, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTokenExchange, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s", ErrTokenExchange, providerErrorDetail(body, resp.StatusCode))
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrTokenExchange, err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token in response", ErrTokenExchange)
	}
	return &tokens, nil
}

func (m *Manager) fetchUserInfo(ctx context.Context, accessToken string) (*Identity, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.userInfoURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build request: %v", ErrUserInfo, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read response: %v", ErrUserInfo, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: %s", ErrUserInfo, providerErrorDetail(body, resp.StatusCode))
	}

	var identity Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, "", fmt.Errorf("%w: decode response: %v", ErrUserInfo, err)
	}
	return &identity, string(body), nil
}

// RestoreSession reconstructs the session from durable storage. Called once
// at startup, not per request. A session exists only when both the access
// token and a well-formed identity record are present; any partial or
// corrupt state is cleared so it cannot resurface, and nil is returned.
func (m *Manager) RestoreSession(ctx context.Context) (*Session, error) {
	token, tokenOK, err := m.durable.Get(ctx, KeyAuthToken)
	if err != nil {
		return nil, fmt.Errorf("read access token: %w", err)
	}
	userData, userOK, err := m.durable.Get(ctx, KeyUserData)
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}

	if !tokenOK || !userOK || token == "" || userData == "" {
		if tokenOK || userOK {
			slog.WarnContext(ctx, "Clearing partial session state",
				"component", "auth", "operation", "restore")
			m.clearDurable(ctx)
		}
		return nil, nil
	}

	var identity Identity
	if err := json.Unmarshal([]byte(userData), &identity); err != nil {
		slog.WarnContext(ctx, "Clearing unreadable session state",
			"component", "auth",
			"operation", "restore",
			"error", fmt.Errorf("%w: %v", ErrMalformedSession, err))
		m.clearDurable(ctx)
		return nil, nil
	}

	idToken, _, err := m.durable.Get(ctx, KeyIDToken)
	if err != nil {
		return nil, fmt.Errorf("read id token: %w", err)
	}

	// Role policy may change between sessions; always recompute.
	return &Session{
		Identity:    identity,
		AccessToken: token,
		IDToken:     idToken,
		Role:        m.roles.RoleForEmail(identity.Email),
	}, nil
}

// Logout clears all durable session state plus any lingering verifier and
// navigates to the login entry point. This is a hard reset: a subsequent
// RestoreSession always reports no session.
func (m *Manager) Logout(ctx context.Context) error {
	m.clearDurable(ctx)
	if err := m.ephemeral.Delete(ctx, KeyCodeVerifier); err != nil {
		slog.WarnContext(ctx, "Failed to clear code verifier", "component", "auth", "error", err)
	}
	slog.InfoContext(ctx, "Logged out", "component", "auth", "operation", "logout")
	m.nav.RedirectTo(m.origin + loginPath)
	return nil
}

// StoredToken returns the persisted access token, if any.
func (m *Manager) StoredToken(ctx context.Context) (string, bool) {
	token, ok, err := m.durable.Get(ctx, KeyAuthToken)
	if err != nil || token == "" {
		return "", false
	}
	return token, ok
}

// IsAuthenticated reports whether a complete session is stored.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	s, err := m.RestoreSession(ctx)
	return err == nil && s != nil
}

func (m *Manager) clearDurable(ctx context.Context) {
	for _, key := range []string{KeyAuthToken, KeyIDToken, KeyUserData} {
		if err := m.durable.Delete(ctx, key); err != nil {
			slog.WarnContext(ctx, "Failed to clear session key",
				"component", "auth", "key", key, "error", err)
		}
	}
}

// providerErrorDetail pulls the provider's error message out of a failed
// response body, falling back to the HTTP status.
func providerErrorDetail(body []byte, status int) string {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.ErrorDescription != "":
			return payload.ErrorDescription
		case payload.Error != "":
			return payload.Error
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}
