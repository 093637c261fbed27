// Command oauth-init runs the one-time browser consent flow for
// deployments that cannot use a service account. The saved token file is
// what the Sheets ledger picks up through GOOGLE_OAUTH_TOKEN_FILE.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/sheets/v4"
)

const consentTimeout = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := clientConfig()
	if err != nil {
		return err
	}

	port := os.Getenv("OAUTH_REDIRECT_PORT")
	if port == "" {
		port = "8085"
	}
	// The OAuth client must list this redirect URI as authorized.
	cfg.RedirectURL = "http://localhost:" + port + "/callback"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	state, err := randomState()
	if err != nil {
		return fmt.Errorf("generate state: %w", err)
	}

	fmt.Printf("Open this URL to authorize:\n%s\n",
		cfg.AuthCodeURL(state, oauth2.AccessTypeOffline))

	code, err := waitForCode(ctx, port, state)
	if err != nil {
		return err
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}
	return saveToken(tok)
}

// clientConfig reads the OAuth client definition the same way the Sheets
// ledger does, so the token this tool saves is usable there.
func clientConfig() (*oauth2.Config, error) {
	var raw []byte
	switch {
	case os.Getenv("GOOGLE_OAUTH_CLIENT_JSON") != "":
		raw = []byte(os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"))
	case os.Getenv("GOOGLE_OAUTH_CLIENT_FILE") != "":
		b, err := os.ReadFile(os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"))
		if err != nil {
			return nil, fmt.Errorf("read client file: %w", err)
		}
		raw = b
	default:
		return nil, errors.New("set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE")
	}
	cfg, err := google.ConfigFromJSON(raw, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth client: %w", err)
	}
	return cfg, nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// waitForCode serves the redirect URI until the provider delivers an
// authorization code for the expected state, the timeout passes, or the
// user interrupts.
func waitForCode(ctx context.Context, port, state string) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("error") != "":
			http.Error(w, "authorization failed: "+q.Get("error"), http.StatusBadRequest)
			errCh <- fmt.Errorf("provider returned %q", q.Get("error"))
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errCh <- errors.New("state mismatch on callback")
		default:
			fmt.Fprintln(w, "Authorized. You can close this window.")
			codeCh <- q.Get("code")
		}
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	defer srv.Close()

	select {
	case code := <-codeCh:
		return code, nil
	case err := <-errCh:
		return "", err
	case <-time.After(consentTimeout):
		return "", errors.New("authorization timed out")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func saveToken(tok *oauth2.Token) error {
	path := os.Getenv("GOOGLE_OAUTH_TOKEN_FILE")
	if path == "" {
		path = "token.json"
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	fmt.Printf("Saved token to %s\n", path)
	return nil
}
