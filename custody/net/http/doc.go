// Package http exposes the custody engine over a Fiber HTTP API.
//
// Handlers translate request payloads into engine calls and map domain error
// codes onto HTTP statuses through a single error writer, so every failure
// shares the same response schema.
package http
