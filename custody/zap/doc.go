// Package zap provides a zap-backed implementation of the custody log.Logger
// interface.
//
// When the context carries an active OpenTelemetry span, trace_id and span_id
// are appended to every entry so logs correlate with traces.
package zap
