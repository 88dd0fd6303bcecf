// Package engine owns the custody transaction lifecycle: creation, guardian
// approval collection, quorum evaluation, execution, and the emergency kill
// switch.
//
// Every mutating operation runs as one atomic unit of work: all precondition
// gates fire before any mutation, and the resulting entries commit through a
// single store.Apply. A mutex serializes operations, mirroring the
// call-at-a-time semantics of the hosting environment the engine was
// designed for.
package engine
