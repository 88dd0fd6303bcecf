package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openvault/custody-engine/custody/store"
)

// TxType classifies the business intent of a transaction.
type TxType string

const (
	// TypePayment is an outbound payment to a third party.
	TypePayment TxType = "PAYMENT"
	// TypeRebalance moves funds between the hot and cold wallets.
	TypeRebalance TxType = "REBALANCE"
	// TypeWithdrawal moves funds out of custody entirely.
	TypeWithdrawal TxType = "WITHDRAWAL"
	// TypeEmergency is an emergency transfer.
	TypeEmergency TxType = "EMERGENCY"
)

// TxStatus is the lifecycle state of a transaction.
//
// Transitions in scope:
//
//	Pending → Executed                          (no approval required)
//	AwaitingApproval → Approved → Executed      (quorum path)
//
// Failed and Cancelled exist in the type but no operation produces them;
// they are reachable-in-type-only, kept for record compatibility.
type TxStatus string

const (
	// StatusPending marks a transaction created without an approval requirement.
	StatusPending TxStatus = "PENDING"
	// StatusAwaitingApproval marks a transaction collecting guardian approvals.
	StatusAwaitingApproval TxStatus = "AWAITING_APPROVAL"
	// StatusApproved marks a transaction that reached quorum.
	StatusApproved TxStatus = "APPROVED"
	// StatusExecuted marks a settled transaction; terminal.
	StatusExecuted TxStatus = "EXECUTED"
	// StatusFailed is reachable-in-type-only.
	StatusFailed TxStatus = "FAILED"
	// StatusCancelled is reachable-in-type-only.
	StatusCancelled TxStatus = "CANCELLED"
)

// Transaction is one requested transfer and its approval record. Identity is
// the monotonically increasing id, starting at 1; records are never deleted.
type Transaction struct {
	ID               uint64          `json:"id"`
	FromWallet       string          `json:"fromWallet"`
	ToAddress        string          `json:"toAddress"`
	Amount           decimal.Decimal `json:"amount"`
	Memo             string          `json:"memo"`
	Type             TxType          `json:"type"`
	Status           TxStatus        `json:"status"`
	Approvals        []string        `json:"approvals"`
	CreatedAt        int64           `json:"createdAt"`
	ExecutedAt       *int64          `json:"executedAt,omitempty"`
	RequiresApproval bool            `json:"requiresApproval"`
}

// HasApprovalFrom reports whether the guardian already approved.
func (t Transaction) HasApprovalFrom(address string) bool {
	for _, approver := range t.Approvals {
		if approver == address {
			return true
		}
	}

	return false
}

func transactionEntry(tx Transaction) (store.Entry, error) {
	value, err := json.Marshal(tx)
	if err != nil {
		return store.Entry{}, fmt.Errorf("marshal transaction %d: %w", tx.ID, err)
	}

	return store.Entry{Key: store.TransactionKey(tx.ID), Value: value}, nil
}
