package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openvault/custody-engine/custody"
	"github.com/openvault/custody-engine/custody/store"
)

// Kind classifies a wallet by exposure.
type Kind string

const (
	// KindHot identifies the online operational wallet.
	KindHot Kind = "HOT"
	// KindCold identifies the offline reserve wallet.
	KindCold Kind = "COLD"
)

// Info contains the balance state of one custody wallet.
type Info struct {
	Address         string          `json:"address"`
	Kind            Kind            `json:"kind"`
	Balance         decimal.Decimal `json:"balance"`
	ReservedBalance decimal.Decimal `json:"reservedBalance"`
	IsActive        bool            `json:"isActive"`
}

// New creates an active wallet with zero balances.
func New(address string, kind Kind) Info {
	return Info{
		Address:         address,
		Kind:            kind,
		Balance:         decimal.Zero,
		ReservedBalance: decimal.Zero,
		IsActive:        true,
	}
}

// Reserve earmarks amount against the wallet. The balance itself is not
// reduced until Settle.
func Reserve(info Info, amount decimal.Decimal) (Info, error) {
	if !amount.IsPositive() {
		return Info{}, custody.NewDomainError(custody.ErrorInvalidAmount, "amount", "amount must be greater than zero")
	}

	if info.Balance.LessThan(amount) {
		return Info{}, custody.NewDomainError(custody.ErrorInsufficientFunds, "amount", "wallet balance cannot cover the amount")
	}

	info.ReservedBalance = info.ReservedBalance.Add(amount)

	return info, nil
}

// Settle releases a reservation and the matching balance together, on
// transaction execution.
func Settle(info Info, amount decimal.Decimal) (Info, error) {
	if !amount.IsPositive() {
		return Info{}, custody.NewDomainError(custody.ErrorInvalidAmount, "amount", "amount must be greater than zero")
	}

	info.Balance = info.Balance.Sub(amount)
	info.ReservedBalance = info.ReservedBalance.Sub(amount)

	if info.Balance.IsNegative() || info.ReservedBalance.IsNegative() {
		return Info{}, custody.NewDomainError(
			custody.ErrorDataCorruption,
			"amount",
			"settlement would drive balance or reservation negative",
		)
	}

	return info, nil
}

// Ledger reads and writes wallet info through the keyed store.
type Ledger struct {
	store store.Store
}

// NewLedger creates a ledger over the given store.
func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// Info returns the wallet registered under address.
func (l *Ledger) Info(ctx context.Context, address string) (Info, error) {
	raw, err := l.store.Get(ctx, store.WalletKey(address))
	if errors.Is(err, store.ErrKeyNotFound) {
		return Info{}, custody.NewDomainError(custody.ErrorWalletNotFound, "wallet", "wallet not found")
	}

	if err != nil {
		return Info{}, err
	}

	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, custody.NewDomainError(custody.ErrorDataCorruption, "wallet", "cannot decode wallet info")
	}

	return info, nil
}

// Balance returns the balance of the wallet registered under address.
func (l *Ledger) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	info, err := l.Info(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}

	return info.Balance, nil
}

// Entry marshals wallet info into a store entry.
func Entry(info Info) (store.Entry, error) {
	value, err := json.Marshal(info)
	if err != nil {
		return store.Entry{}, fmt.Errorf("marshal wallet %s: %w", info.Address, err)
	}

	return store.Entry{Key: store.WalletKey(info.Address), Value: value}, nil
}
