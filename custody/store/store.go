package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrKeyNotFound is returned by Get when the key has never been written.
var ErrKeyNotFound = errors.New("store: key not found")

// Entry is a single key/value pair in an atomic batch.
type Entry struct {
	Key   string
	Value []byte
}

// Store is the durable keyed store capability.
//
// Get returns ErrKeyNotFound for absent keys. Apply writes all entries as one
// all-or-nothing commit.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Has(ctx context.Context, key string) (bool, error)
	Apply(ctx context.Context, entries ...Entry) error
}

// Fixed keys for singleton engine state.
const (
	// KeyInitialized marks that initialization has completed.
	KeyInitialized = "custody:initialized"
	// KeySystemLimits holds the immutable system-wide limit configuration.
	KeySystemLimits = "custody:system_limits"
	// KeyTransactionCounter holds the last allocated transaction id.
	KeyTransactionCounter = "custody:transaction_counter"
	// KeyGuardians holds the guardian map keyed by address.
	KeyGuardians = "custody:guardians"
	// KeyGuardianCount holds the fixed guardian count.
	KeyGuardianCount = "custody:guardian_count"
	// KeyHotWallet holds the hot wallet address.
	KeyHotWallet = "custody:wallet:hot"
	// KeyColdWallet holds the cold wallet address.
	KeyColdWallet = "custody:wallet:cold"
	// KeyEmergencyMode holds the global emergency flag.
	KeyEmergencyMode = "custody:emergency:mode"
	// KeyEmergencyInitiator holds the guardian that raised the emergency.
	KeyEmergencyInitiator = "custody:emergency:initiator"
)

// WalletKey returns the key for per-wallet info.
func WalletKey(address string) string {
	return "custody:wallet:info:" + address
}

// TransactionKey returns the key for a transaction record.
func TransactionKey(id uint64) string {
	return fmt.Sprintf("custody:transaction:%d", id)
}

// DailySpentKey returns the key for a daily spend accumulator bucket.
func DailySpentKey(day uint64) string {
	return fmt.Sprintf("custody:spent:day:%d", day)
}

// MonthlySpentKey returns the key for a monthly spend accumulator bucket.
func MonthlySpentKey(month uint64) string {
	return fmt.Sprintf("custody:spent:month:%d", month)
}
