package guardian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openvault/custody-engine/custody"
	"github.com/openvault/custody-engine/custody/store"
)

// RequiredCount is the fixed size of the guardian set.
const RequiredCount = 3

// Guardian is an authorized approver identity with activity flag and
// approval statistics.
type Guardian struct {
	Address       string          `json:"address"`
	Role          string          `json:"role"`
	IsActive      bool            `json:"isActive"`
	DailyLimit    decimal.Decimal `json:"dailyLimit"`
	MonthlyLimit  decimal.Decimal `json:"monthlyLimit"`
	ApprovalCount uint32          `json:"approvalCount"`
	LastApproval  int64           `json:"lastApproval"`
}

// ValidateSet checks the initialization guardian set: exactly RequiredCount
// guardians with non-blank, unique addresses.
func ValidateSet(guardians []Guardian) error {
	if len(guardians) != RequiredCount {
		return custody.NewDomainError(
			custody.ErrorInvalidConfiguration,
			"guardians",
			fmt.Sprintf("must have exactly %d guardians, got %d", RequiredCount, len(guardians)),
		)
	}

	seen := make(map[string]struct{}, len(guardians))

	for i, g := range guardians {
		field := fmt.Sprintf("guardians[%d]", i)
		if strings.TrimSpace(g.Address) == "" {
			return custody.NewDomainError(custody.ErrorInvalidConfiguration, field+".address", "address is required")
		}

		if _, exists := seen[g.Address]; exists {
			return custody.NewDomainError(custody.ErrorInvalidConfiguration, field+".address", "duplicate guardian address")
		}

		seen[g.Address] = struct{}{}
	}

	return nil
}

// RecordApproval returns the guardian with approval statistics advanced to now.
func RecordApproval(g Guardian, now int64) Guardian {
	g.ApprovalCount++
	g.LastApproval = now

	return g
}

// Registry reads and writes the guardian map through the keyed store.
type Registry struct {
	store store.Store
}

// NewRegistry creates a registry over the given store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// All returns the full guardian map keyed by address.
func (r *Registry) All(ctx context.Context) (map[string]Guardian, error) {
	raw, err := r.store.Get(ctx, store.KeyGuardians)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, custody.NewDomainError(custody.ErrorNotInitialized, "guardians", "guardian set is not initialized")
	}

	if err != nil {
		return nil, err
	}

	var guardians map[string]Guardian
	if err := json.Unmarshal(raw, &guardians); err != nil {
		return nil, custody.NewDomainError(custody.ErrorDataCorruption, "guardians", "cannot decode guardian set")
	}

	return guardians, nil
}

// Lookup returns the guardian registered under address.
func (r *Registry) Lookup(ctx context.Context, address string) (Guardian, error) {
	guardians, err := r.All(ctx)
	if err != nil {
		return Guardian{}, err
	}

	g, ok := guardians[address]
	if !ok {
		return Guardian{}, custody.NewDomainError(custody.ErrorNotAGuardian, "guardian", "address is not a registered guardian")
	}

	return g, nil
}

// Entry marshals the guardian map into a store entry.
func Entry(guardians map[string]Guardian) (store.Entry, error) {
	value, err := json.Marshal(guardians)
	if err != nil {
		return store.Entry{}, fmt.Errorf("marshal guardians: %w", err)
	}

	return store.Entry{Key: store.KeyGuardians, Value: value}, nil
}
