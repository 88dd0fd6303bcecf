// Package limits enforces rolling daily and monthly spending caps over
// lazily-created accumulator buckets.
//
// Bucketing is deliberately approximate: day = timestamp/86400 and
// month = day/30, so "months" drift against the calendar. Stored bucket keys
// depend on this arithmetic; switching to calendar-aware bucketing would
// orphan existing accumulators.
package limits
