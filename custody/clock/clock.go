package clock

import (
	"sync/atomic"
	"time"
)

// Clock supplies the ledger timestamp, in unix seconds.
type Clock interface {
	Now() int64
}

// System reads the wall clock.
type System struct{}

// Now returns the current unix timestamp in seconds.
func (System) Now() int64 {
	return time.Now().Unix()
}

// Manual is a settable clock for tests and deterministic replays.
type Manual struct {
	now atomic.Int64
}

// NewManual creates a manual clock starting at now.
func NewManual(now int64) *Manual {
	m := &Manual{}
	m.now.Store(now)

	return m
}

// Now returns the configured timestamp.
func (m *Manual) Now() int64 {
	return m.now.Load()
}

// Set moves the clock to now.
func (m *Manual) Set(now int64) {
	m.now.Store(now)
}

// Advance moves the clock forward by seconds.
func (m *Manual) Advance(seconds int64) {
	m.now.Add(seconds)
}
