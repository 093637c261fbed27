package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// fakeProvider mocks the token and user-info endpoints.
type fakeProvider struct {
	mu            sync.Mutex
	tokenStatus   int
	tokenBody     string
	userStatus    int
	userBody      string
	lastTokenForm url.Values
	lastAuthz     string
	consumedCodes map[string]bool
	singleUse     bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		tokenStatus:   http.StatusOK,
		tokenBody:     `{"access_token":"T","id_token":"I","expires_in":3600,"token_type":"Bearer"}`,
		userStatus:    http.StatusOK,
		userBody:      `{"id":"1","email":"a@admin.yourcompany.com","name":"A","picture":"p","given_name":"A","family_name":"B"}`,
		consumedCodes: make(map[string]bool),
	}
}

func (p *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.lastTokenForm = r.PostForm
		code := r.PostForm.Get("code")
		if p.singleUse && p.consumedCodes[code] {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant","error_description":"code already redeemed"}`)
			return
		}
		p.consumedCodes[code] = true
		w.WriteHeader(p.tokenStatus)
		fmt.Fprint(w, p.tokenBody)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.lastAuthz = r.Header.Get("Authorization")
		w.WriteHeader(p.userStatus)
		fmt.Fprint(w, p.userBody)
	})
	return mux
}

type recordingNavigator struct {
	urls []string
}

func (n *recordingNavigator) RedirectTo(u string) { n.urls = append(n.urls, u) }

type testEnv struct {
	manager   *Manager
	provider  *fakeProvider
	durable   *MemoryStore
	ephemeral *MemoryStore
	nav       *recordingNavigator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	provider := newFakeProvider()
	srv := httptest.NewServer(provider.handler())
	t.Cleanup(srv.Close)

	durable := NewMemoryStore()
	ephemeral := NewMemoryStore()
	nav := &recordingNavigator{}
	manager, err := NewManager(Config{
		ClientID:    "test-client",
		Origin:      "https://anbor.example.com",
		AuthURL:     srv.URL + "/authorize",
		TokenURL:    srv.URL + "/token",
		UserInfoURL: srv.URL + "/userinfo",
		Durable:     durable,
		Ephemeral:   ephemeral,
		Navigator:   nav,
		HTTPClient:  srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &testEnv{manager: manager, provider: provider, durable: durable, ephemeral: ephemeral, nav: nav}
}

// failingStore rejects writes, simulating a broken storage layer.
type failingStore struct {
	*MemoryStore
}

func (s *failingStore) Set(context.Context, string, string) error {
	return errors.New("storage unavailable")
}

func TestNewManagerValidation(t *testing.T) {
	base := Config{
		ClientID:  "c",
		Origin:    "https://x",
		Durable:   NewMemoryStore(),
		Ephemeral: NewMemoryStore(),
	}
	if _, err := NewManager(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for name, mutate := range map[string]func(*Config){
		"no client id": func(c *Config) { c.ClientID = "" },
		"no origin":    func(c *Config) { c.Origin = " " },
		"no durable":   func(c *Config) { c.Durable = nil },
		"no ephemeral": func(c *Config) { c.Ephemeral = nil },
	} {
		cfg := base
		mutate(&cfg)
		if _, err := NewManager(cfg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestBeginLoginBuildsAuthorizationURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if len(env.nav.urls) != 1 {
		t.Fatalf("expected 1 redirect, got %d", len(env.nav.urls))
	}

	u, err := url.Parse(env.nav.urls[0])
	if err != nil {
		t.Fatalf("parse redirect URL: %v", err)
	}
	q := u.Query()
	want := map[string]string{
		"client_id":             "test-client",
		"redirect_uri":          "https://anbor.example.com/auth/callback",
		"response_type":         "code",
		"scope":                 "openid profile email",
		"code_challenge_method": "S256",
		"access_type":           "offline",
		"prompt":                "consent",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("param %s = %q, want %q", k, got, v)
		}
	}

	verifier, ok, _ := env.ephemeral.Get(ctx, KeyCodeVerifier)
	if !ok {
		t.Fatal("verifier not stored by BeginLogin")
	}
	if got := q.Get("code_challenge"); got != challengeFromVerifier(verifier) {
		t.Errorf("challenge %q does not match stored verifier", got)
	}
}

func TestBeginLoginGeneratesFreshVerifiers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	first, _, _ := env.ephemeral.Get(ctx, KeyCodeVerifier)
	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	second, _, _ := env.ephemeral.Get(ctx, KeyCodeVerifier)
	if first == second {
		t.Error("consecutive logins must use distinct verifiers")
	}
}

func TestBeginLoginStorageFailure(t *testing.T) {
	broken := &failingStore{NewMemoryStore()}
	nav := &recordingNavigator{}
	manager, err := NewManager(Config{
		ClientID:  "test-client",
		Origin:    "https://anbor.example.com",
		Durable:   NewMemoryStore(),
		Ephemeral: broken,
		Navigator: nav,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()

	err = manager.BeginLogin(ctx)
	if !errors.Is(err, ErrInitiation) {
		t.Fatalf("got %v, want ErrInitiation", err)
	}
	if len(nav.urls) != 0 {
		t.Error("no redirect may happen when the verifier cannot be stored")
	}
	if broken.Len() != 0 {
		t.Error("ephemeral storage must stay empty on initiation failure")
	}
}

func TestLogoutClearsPendingVerifier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if _, ok, _ := env.ephemeral.Get(ctx, KeyCodeVerifier); !ok {
		t.Fatal("verifier should be pending after BeginLogin")
	}
	if err := env.manager.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, ok, _ := env.ephemeral.Get(ctx, KeyCodeVerifier); ok {
		t.Error("a pending verifier must not survive logout")
	}
}

func TestCompleteLoginWithoutBegin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.CompleteLogin(ctx, "some-code")
	if !errors.Is(err, ErrMissingVerifier) {
		t.Fatalf("got %v, want ErrMissingVerifier", err)
	}
	if env.durable.Len() != 0 {
		t.Error("durable storage must be untouched on missing verifier")
	}
}

func TestCompleteLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	verifier, _, _ := env.ephemeral.Get(ctx, KeyCodeVerifier)

	session, err := env.manager.CompleteLogin(ctx, "good-code")
	if err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}

	if session.AccessToken != "T" || session.IDToken != "I" {
		t.Errorf("unexpected tokens: %+v", session)
	}
	if session.Identity.Email != "a@admin.yourcompany.com" || session.Identity.Name != "A" {
		t.Errorf("unexpected identity: %+v", session.Identity)
	}
	if session.Role != RoleAdmin {
		t.Errorf("role = %v, want Admin", session.Role)
	}

	form := env.provider.lastTokenForm
	if form.Get("grant_type") != "authorization_code" {
		t.Errorf("grant_type = %q", form.Get("grant_type"))
	}
	if form.Get("code") != "good-code" {
		t.Errorf("code = %q", form.Get("code"))
	}
	if form.Get("code_verifier") != verifier {
		t.Error("verifier sent to provider differs from stored one")
	}
	if form.Get("redirect_uri") != "https://anbor.example.com/auth/callback" {
		t.Errorf("redirect_uri = %q", form.Get("redirect_uri"))
	}
	if form.Get("client_secret") != "" {
		t.Error("public client must not send a client secret")
	}
	if env.provider.lastAuthz != "Bearer T" {
		t.Errorf("userinfo authorization = %q", env.provider.lastAuthz)
	}

	if _, ok, _ := env.ephemeral.Get(ctx, KeyCodeVerifier); ok {
		t.Error("verifier must be cleared after a successful exchange")
	}
	for _, key := range []string{KeyAuthToken, KeyIDToken, KeyUserData} {
		if _, ok, _ := env.durable.Get(ctx, key); !ok {
			t.Errorf("durable key %s missing after login", key)
		}
	}
}

func TestCompleteLoginViewerFallback(t *testing.T) {
	env := newTestEnv(t)
	env.provider.userBody = `{"id":"2","email":"a@viewer.example.com","name":"V","picture":"p","given_name":"V","family_name":"W"}`
	ctx := context.Background()

	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	session, err := env.manager.CompleteLogin(ctx, "code")
	if err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}
	if session.Role != RoleViewer {
		t.Errorf("role = %v, want Viewer", session.Role)
	}
}

func TestVerifierClearedOnFailedExchange(t *testing.T) {
	env := newTestEnv(t)
	env.provider.tokenStatus = http.StatusBadRequest
	env.provider.tokenBody = `{"error":"invalid_grant","error_description":"Bad Request"}`
	ctx := context.Background()

	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	_, err := env.manager.CompleteLogin(ctx, "bad-code")
	if !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("got %v, want ErrTokenExchange", err)
	}
	if !strings.Contains(err.Error(), "Bad Request") {
		t.Errorf("error should carry the provider detail, got %q", err)
	}
	if _, ok, _ := env.ephemeral.Get(ctx, KeyCodeVerifier); ok {
		t.Error("verifier must be cleared after a failed exchange")
	}
	if env.durable.Len() != 0 {
		t.Error("durable storage must stay empty on failed exchange")
	}
}

func TestUserInfoFailure(t *testing.T) {
	env := newTestEnv(t)
	env.provider.userStatus = http.StatusInternalServerError
	env.provider.userBody = `{}`
	ctx := context.Background()

	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	_, err := env.manager.CompleteLogin(ctx, "code")
	if !errors.Is(err, ErrUserInfo) {
		t.Fatalf("got %v, want ErrUserInfo", err)
	}
	if env.durable.Len() != 0 {
		t.Error("durable storage must stay empty when the identity fetch fails")
	}
}

func TestConsumedCodeSurfacesTokenExchangeError(t *testing.T) {
	env := newTestEnv(t)
	env.provider.singleUse = true
	ctx := context.Background()

	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if _, err := env.manager.CompleteLogin(ctx, "once"); err != nil {
		t.Fatalf("first CompleteLogin: %v", err)
	}

	// A second invocation with the same, already-consumed code.
	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	_, err := env.manager.CompleteLogin(ctx, "once")
	if !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("got %v, want ErrTokenExchange", err)
	}
}

func TestRestoreSessionPartialState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.durable.Set(ctx, KeyAuthToken, "T"); err != nil {
		t.Fatal(err)
	}
	session, err := env.manager.RestoreSession(ctx)
	if err != nil {
		t.Fatalf("RestoreSession: %v", err)
	}
	if session != nil {
		t.Fatal("partial state must not restore a session")
	}
	if _, ok, _ := env.durable.Get(ctx, KeyAuthToken); ok {
		t.Error("partial auth_token must be cleared")
	}
}

func TestRestoreSessionCorruptIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.durable.Set(ctx, KeyAuthToken, "T")
	env.durable.Set(ctx, KeyIDToken, "I")
	env.durable.Set(ctx, KeyUserData, "{not json")

	session, err := env.manager.RestoreSession(ctx)
	if err != nil {
		t.Fatalf("RestoreSession: %v", err)
	}
	if session != nil {
		t.Fatal("corrupt identity must not restore a session")
	}
	if env.durable.Len() != 0 {
		t.Error("corrupt state must be fully cleared")
	}

	// The corrupt record must not resurface on the next startup.
	session, err = env.manager.RestoreSession(ctx)
	if err != nil || session != nil {
		t.Errorf("second restore: session=%v err=%v, want nil/nil", session, err)
	}
}

func TestLogoutThenRestore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if _, err := env.manager.CompleteLogin(ctx, "code"); err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}
	if err := env.manager.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if got := env.nav.urls[len(env.nav.urls)-1]; got != "https://anbor.example.com/login" {
		t.Errorf("logout redirect = %q", got)
	}
	session, err := env.manager.RestoreSession(ctx)
	if err != nil {
		t.Fatalf("RestoreSession: %v", err)
	}
	if session != nil {
		t.Error("restore after logout must return no session")
	}
	if env.manager.IsAuthenticated(ctx) {
		t.Error("IsAuthenticated must be false after logout")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	created, err := env.manager.CompleteLogin(ctx, "code")
	if err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}

	// Fresh manager over the same durable store, as after a process restart.
	restartNav := &recordingNavigator{}
	restarted, err := NewManager(Config{
		ClientID:  "test-client",
		Origin:    "https://anbor.example.com",
		Durable:   env.durable,
		Ephemeral: NewMemoryStore(),
		Navigator: restartNav,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	for i := 0; i < 3; i++ {
		restored, err := restarted.RestoreSession(ctx)
		if err != nil {
			t.Fatalf("RestoreSession #%d: %v", i, err)
		}
		if restored == nil {
			t.Fatalf("RestoreSession #%d returned nil", i)
		}
		if restored.Identity != created.Identity {
			t.Errorf("identity mismatch: %+v vs %+v", restored.Identity, created.Identity)
		}
		if restored.AccessToken != created.AccessToken || restored.IDToken != created.IDToken {
			t.Error("token mismatch after restore")
		}
		if restored.Role != RoleAdmin {
			t.Errorf("role = %v, want recomputed Admin", restored.Role)
		}
	}
}

func TestRestoreRecomputesRoleUnderNewPolicy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if _, err := env.manager.CompleteLogin(ctx, "code"); err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}

	// Same durable state, different role policy: the stored record carries
	// no role, so the new table wins.
	demoted, err := NewManager(Config{
		ClientID:  "test-client",
		Origin:    "https://anbor.example.com",
		Roles:     RoleTable{},
		Durable:   env.durable,
		Ephemeral: NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	restored, err := demoted.RestoreSession(ctx)
	if err != nil || restored == nil {
		t.Fatalf("RestoreSession: session=%v err=%v", restored, err)
	}
	if restored.Role != RoleViewer {
		t.Errorf("role = %v, want Viewer under empty table", restored.Role)
	}
}

func TestStoredIdentityIsRawProviderPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.manager.BeginLogin(ctx); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if _, err := env.manager.CompleteLogin(ctx, "code"); err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}

	raw, ok, _ := env.durable.Get(ctx, KeyUserData)
	if !ok {
		t.Fatal("user_data not stored")
	}
	var identity Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		t.Fatalf("stored user_data is not valid JSON: %v", err)
	}
	if identity.Email != "a@admin.yourcompany.com" {
		t.Errorf("stored email = %q", identity.Email)
	}
}
