// Package clock abstracts the ledger timestamp source consumed by the
// custody engine.
//
// The engine only needs unix seconds; tests use Manual to drive time
// deterministically across spending-limit buckets.
package clock
