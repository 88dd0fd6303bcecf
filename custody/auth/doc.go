// Package auth provides the caller-authorization capability consumed by the
// custody engine.
//
// RequireAuth must fail unless the caller has proven control of the given
// address. The proof travels as a bearer token in the request context; the
// JWT authenticator verifies an HMAC-signed token whose subject matches the
// address, while Static and AllowAll cover tests and embedded deployments
// where the host performs authentication itself.
package auth
