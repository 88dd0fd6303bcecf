// Package log defines the logging interface and typed logging fields used
// across the custody engine.
//
// Adapters (such as the zap package) implement Logger so engine and transport
// code can keep logging calls consistent across backends.
package log
