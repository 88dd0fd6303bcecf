// Package guardian holds the fixed guardian set and per-guardian approval
// statistics.
//
// The set is exactly three guardians, validated at initialization and never
// mutated afterwards except for approval statistics. Per-guardian daily and
// monthly limits are stored for data-model fidelity but are not consulted by
// any enforcement path; only system-wide limits gate spending.
package guardian
