package auth

import "errors"

var (
	// ErrInitiation means login could not be started; nothing was redirected
	// and no verifier was left behind.
	ErrInitiation = errors.New("login initiation failed")
	// ErrMissingVerifier means a callback arrived without a preceding login
	// in this session (replayed, expired, or opened in a fresh tab).
	ErrMissingVerifier = errors.New("no code verifier found")
	// ErrTokenExchange means the provider rejected the code/verifier pair.
	ErrTokenExchange = errors.New("token exchange failed")
	// ErrUserInfo means the access token was issued but the identity fetch failed.
	ErrUserInfo = errors.New("user info fetch failed")
	// ErrMalformedSession means durable session state was present but unreadable.
	// Restore self-heals by clearing it.
	ErrMalformedSession = errors.New("malformed stored session")
)
