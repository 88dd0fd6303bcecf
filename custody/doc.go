// Package custody defines the shared domain error model for the custody
// policy engine.
//
// Every operation in the engine fails with a typed DomainError carrying a
// stable CST-prefixed code, so callers and transport layers can map failures
// without string matching.
package custody
