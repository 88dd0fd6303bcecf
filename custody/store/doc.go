// Package store defines the durable keyed store capability consumed by the
// custody engine, plus the key schema for every persisted entity.
//
// Apply commits a batch of entries atomically: either every entry in the
// batch becomes visible or none does. The engine relies on this to keep fund
// reservation and transaction persistence in one unit of work.
//
// Two implementations are provided: Memory (mutex-guarded map, for tests and
// embedding) and Redis (TxPipeline-backed, for service deployments).
package store
