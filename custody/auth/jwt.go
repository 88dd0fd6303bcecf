package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

const (
	// AlgHS256 identifies the HMAC-SHA256 signing algorithm.
	AlgHS256 = "HS256"
	// AlgHS384 identifies the HMAC-SHA384 signing algorithm.
	AlgHS384 = "HS384"
	// AlgHS512 identifies the HMAC-SHA512 signing algorithm.
	AlgHS512 = "HS512"

	// jwtPartCount is the number of dot-separated parts in a valid JWT.
	jwtPartCount = 3

	// maxTokenLength bounds token parsing; 8KB is generous for any legitimate JWT.
	maxTokenLength = 8192
)

// JWT verification errors.
var (
	// ErrInvalidToken indicates the token string is malformed or cannot be decoded.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnsupportedAlgorithm indicates the signing algorithm is not supported.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	// ErrSignatureInvalid indicates the HMAC signature does not match.
	ErrSignatureInvalid = errors.New("invalid token signature")
	// ErrTokenExpired indicates the token's exp claim is in the past.
	ErrTokenExpired = errors.New("token has expired")
)

// MapClaims is a convenience alias for an unstructured JWT payload.
type MapClaims = map[string]any

// JWTAuthenticator verifies HMAC-signed bearer tokens whose `sub` claim must
// match the address being authorized.
type JWTAuthenticator struct {
	secret            []byte
	allowedAlgorithms []string
	now               func() time.Time
}

// Compile-time assertion: *JWTAuthenticator implements Authenticator.
var _ Authenticator = (*JWTAuthenticator)(nil)

// JWTOption configures a JWTAuthenticator.
type JWTOption func(*JWTAuthenticator)

// WithAllowedAlgorithms restricts the accepted signing algorithms.
func WithAllowedAlgorithms(algorithms ...string) JWTOption {
	return func(a *JWTAuthenticator) {
		if len(algorithms) > 0 {
			a.allowedAlgorithms = algorithms
		}
	}
}

// WithTimeSource overrides the time source used for exp validation.
func WithTimeSource(now func() time.Time) JWTOption {
	return func(a *JWTAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewJWTAuthenticator creates an authenticator for the given shared secret.
func NewJWTAuthenticator(secret []byte, opts ...JWTOption) (*JWTAuthenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: jwt secret is required")
	}

	authenticator := &JWTAuthenticator{
		secret:            secret,
		allowedAlgorithms: []string{AlgHS256, AlgHS384, AlgHS512},
		now:               func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(authenticator)
	}

	return authenticator, nil
}

// RequireAuth verifies the context token's signature, expiry, and subject.
func (a *JWTAuthenticator) RequireAuth(ctx context.Context, address string) error {
	token, ok := TokenFromContext(ctx)
	if !ok {
		return ErrMissingToken
	}

	claims, err := a.parse(token)
	if err != nil {
		return err
	}

	if exp, ok := extractTime(claims, "exp"); ok && a.now().After(exp) {
		return fmt.Errorf("token expired at %s: %w", exp.Format(time.RFC3339), ErrTokenExpired)
	}

	subject, _ := claims["sub"].(string)
	if subject == "" || subject != address {
		return ErrAddressMismatch
	}

	return nil
}

// SignSubject produces a compact JWT for address, expiring after ttl. It is
// the counterpart of RequireAuth, used by operators to mint guardian tokens.
func SignSubject(address string, secret []byte, algorithm string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := MapClaims{
		"sub": address,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}

	return Sign(claims, algorithm, secret)
}

// Sign produces a compact JWT serialization from the given claims.
func Sign(claims MapClaims, algorithm string, secret []byte) (string, error) {
	hashFunc, err := hashForAlgorithm(algorithm)
	if err != nil {
		return "", err
	}

	header := map[string]string{"alg": algorithm, "typ": "JWT"}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	headerEncoded := base64.RawURLEncoding.EncodeToString(headerJSON)
	payloadEncoded := base64.RawURLEncoding.EncodeToString(claimsJSON)

	signingInput := headerEncoded + "." + payloadEncoded

	sig := computeHMAC([]byte(signingInput), secret, hashFunc)
	sigEncoded := base64.RawURLEncoding.EncodeToString(sig)

	return signingInput + "." + sigEncoded, nil
}

// parse validates and decodes a JWT token string, verifying the algorithm
// whitelist and the HMAC signature with constant-time comparison.
func (a *JWTAuthenticator) parse(tokenString string) (MapClaims, error) {
	if tokenString == "" || len(tokenString) > maxTokenLength {
		return nil, ErrInvalidToken
	}

	parts := strings.Split(tokenString, ".")
	if len(parts) != jwtPartCount {
		return nil, fmt.Errorf("token must have %d parts: %w", jwtPartCount, ErrInvalidToken)
	}

	alg, err := parseAlgorithm(parts[0], a.allowedAlgorithms)
	if err != nil {
		return nil, err
	}

	if err := verifySignature(parts, alg, a.secret); err != nil {
		return nil, err
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", ErrInvalidToken)
	}

	var claims MapClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", ErrInvalidToken)
	}

	return claims, nil
}

func parseAlgorithm(headerPart string, allowedAlgorithms []string) (string, error) {
	headerBytes, err := base64.RawURLEncoding.DecodeString(headerPart)
	if err != nil {
		return "", fmt.Errorf("decode header: %w", ErrInvalidToken)
	}

	var header map[string]any
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return "", fmt.Errorf("unmarshal header: %w", ErrInvalidToken)
	}

	alg, ok := header["alg"].(string)
	if !ok || alg == "" {
		return "", fmt.Errorf("missing alg in header: %w", ErrInvalidToken)
	}

	for _, allowed := range allowedAlgorithms {
		if allowed == alg {
			return alg, nil
		}
	}

	return "", fmt.Errorf("algorithm %q not allowed: %w", alg, ErrUnsupportedAlgorithm)
}

func verifySignature(parts []string, alg string, secret []byte) error {
	hashFunc, err := hashForAlgorithm(alg)
	if err != nil {
		return err
	}

	signingInput := parts[0] + "." + parts[1]
	expectedSig := computeHMAC([]byte(signingInput), secret, hashFunc)

	actualSig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("decode signature: %w", ErrInvalidToken)
	}

	if !hmac.Equal(expectedSig, actualSig) {
		return ErrSignatureInvalid
	}

	return nil
}

func hashForAlgorithm(alg string) (func() hash.Hash, error) {
	switch alg {
	case AlgHS256:
		return sha256.New, nil
	case AlgHS384:
		return sha512.New384, nil
	case AlgHS512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("algorithm %q: %w", alg, ErrUnsupportedAlgorithm)
	}
}

func computeHMAC(data, secret []byte, hashFunc func() hash.Hash) []byte {
	mac := hmac.New(hashFunc, secret)
	mac.Write(data)

	return mac.Sum(nil)
}

// extractTime retrieves a unix-seconds time claim. It supports float64 (the
// default from encoding/json) and json.Number.
func extractTime(claims MapClaims, key string) (time.Time, bool) {
	raw, exists := claims[key]
	if !exists {
		return time.Time{}, false
	}

	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}

		return time.Unix(int64(f), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}
