package auth

import (
	"context"
	"crypto/subtle"
	"errors"
)

// Authentication errors.
var (
	// ErrMissingToken indicates no bearer token travels with the context.
	ErrMissingToken = errors.New("auth: missing token")
	// ErrAddressMismatch indicates the token does not prove control of the address.
	ErrAddressMismatch = errors.New("auth: token does not match address")
)

// Authenticator aborts an operation unless the caller has proven control of
// the given address.
type Authenticator interface {
	RequireAuth(ctx context.Context, address string) error
}

type tokenContextKey struct{}

// WithToken returns a context carrying the caller's bearer token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext extracts the bearer token placed by WithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || token == "" {
		return "", false
	}

	return token, true
}

// AllowAll accepts every caller. Use only when the host environment already
// authenticates calls before they reach the engine.
type AllowAll struct{}

// RequireAuth always succeeds.
func (AllowAll) RequireAuth(_ context.Context, _ string) error {
	return nil
}

// Static authenticates against a fixed address-to-token map.
type Static struct {
	// Tokens maps an address to the exact bearer token that proves it.
	Tokens map[string]string
}

// RequireAuth compares the context token against the configured token for
// address using constant-time comparison.
func (s Static) RequireAuth(ctx context.Context, address string) error {
	token, ok := TokenFromContext(ctx)
	if !ok {
		return ErrMissingToken
	}

	expected, ok := s.Tokens[address]
	if !ok {
		return ErrAddressMismatch
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return ErrAddressMismatch
	}

	return nil
}
