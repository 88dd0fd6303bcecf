package limits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openvault/custody-engine/custody"
	"github.com/openvault/custody-engine/custody/store"
)

const (
	secondsPerDay = 86400
	daysPerMonth  = 30
)

// System is the immutable system-wide limit configuration.
type System struct {
	DailyLimit           decimal.Decimal `json:"dailyLimit"`
	MonthlyLimit         decimal.Decimal `json:"monthlyLimit"`
	HighValueThreshold   decimal.Decimal `json:"highValueThreshold"`
	RequiredApprovals    uint32          `json:"requiredApprovals"`
	HotWalletPercentage  uint32          `json:"hotWalletPercentage"`
	ColdWalletPercentage uint32          `json:"coldWalletPercentage"`
}

// Validate checks initialization constraints on the configuration.
func (s System) Validate() error {
	if s.HotWalletPercentage+s.ColdWalletPercentage != 100 {
		return custody.NewDomainError(
			custody.ErrorInvalidConfiguration,
			"systemLimits",
			"hot and cold wallet percentages must sum to 100",
		)
	}

	return nil
}

// Entry marshals the configuration into a store entry.
func (s System) Entry() (store.Entry, error) {
	value, err := json.Marshal(s)
	if err != nil {
		return store.Entry{}, fmt.Errorf("marshal system limits: %w", err)
	}

	return store.Entry{Key: store.KeySystemLimits, Value: value}, nil
}

// Day converts a unix timestamp in seconds to its day bucket.
func Day(now int64) uint64 {
	return uint64(now) / secondsPerDay
}

// Month converts a day bucket to its approximate month bucket.
func Month(day uint64) uint64 {
	return day / daysPerMonth
}

// Enforcer reads and writes spend accumulators through the keyed store.
type Enforcer struct {
	store store.Store
}

// NewEnforcer creates an enforcer over the given store.
func NewEnforcer(s store.Store) *Enforcer {
	return &Enforcer{store: s}
}

// Check fails with LimitExceeded when amount, added to the current day or
// month accumulator, would breach the respective cap.
func (e *Enforcer) Check(ctx context.Context, sys System, amount decimal.Decimal, now int64) error {
	day := Day(now)

	dailySpent, err := e.spent(ctx, store.DailySpentKey(day))
	if err != nil {
		return err
	}

	if dailySpent.Add(amount).GreaterThan(sys.DailyLimit) {
		return custody.NewDomainError(custody.ErrorLimitExceeded, "dailyLimit", "transaction exceeds the daily spending limit")
	}

	monthlySpent, err := e.spent(ctx, store.MonthlySpentKey(Month(day)))
	if err != nil {
		return err
	}

	if monthlySpent.Add(amount).GreaterThan(sys.MonthlyLimit) {
		return custody.NewDomainError(custody.ErrorLimitExceeded, "monthlyLimit", "transaction exceeds the monthly spending limit")
	}

	return nil
}

// Record returns the day and month accumulator entries advanced by amount.
// It is called exactly once per executed transaction, as part of the execute
// commit, never on creation.
func (e *Enforcer) Record(ctx context.Context, amount decimal.Decimal, now int64) ([]store.Entry, error) {
	day := Day(now)
	month := Month(day)

	entries := make([]store.Entry, 0, 2)

	for _, key := range []string{store.DailySpentKey(day), store.MonthlySpentKey(month)} {
		spent, err := e.spent(ctx, key)
		if err != nil {
			return nil, err
		}

		value, err := json.Marshal(spent.Add(amount))
		if err != nil {
			return nil, fmt.Errorf("marshal spend bucket %q: %w", key, err)
		}

		entries = append(entries, store.Entry{Key: key, Value: value})
	}

	return entries, nil
}

// DailySpent returns the accumulated spend for the day bucket containing now.
func (e *Enforcer) DailySpent(ctx context.Context, now int64) (decimal.Decimal, error) {
	return e.spent(ctx, store.DailySpentKey(Day(now)))
}

// MonthlySpent returns the accumulated spend for the month bucket containing now.
func (e *Enforcer) MonthlySpent(ctx context.Context, now int64) (decimal.Decimal, error) {
	return e.spent(ctx, store.MonthlySpentKey(Month(Day(now))))
}

func (e *Enforcer) spent(ctx context.Context, key string) (decimal.Decimal, error) {
	raw, err := e.store.Get(ctx, key)
	if errors.Is(err, store.ErrKeyNotFound) {
		return decimal.Zero, nil
	}

	if err != nil {
		return decimal.Zero, err
	}

	var spent decimal.Decimal
	if err := json.Unmarshal(raw, &spent); err != nil {
		return decimal.Zero, custody.NewDomainError(custody.ErrorDataCorruption, "spending", "cannot decode spend bucket")
	}

	return spent, nil
}
