// Package events publishes custody domain events after a state transition
// commits.
//
// Publishing is best-effort: the engine commits first, then publishes, and a
// failed publish is logged rather than rolling the commit back. The AMQP
// publisher waits for broker confirmation; Nop is used when no broker is
// configured.
package events
