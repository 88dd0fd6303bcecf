package events

import (
	"context"

	"github.com/shopspring/decimal"
)

// Type identifies a custody domain event.
type Type string

const (
	// TypeTransactionCreated fires when a transaction is persisted awaiting approval.
	TypeTransactionCreated Type = "custody.transaction.created"
	// TypeTransactionExecuted fires when a transaction settles.
	TypeTransactionExecuted Type = "custody.transaction.executed"
	// TypeEmergencyActivated fires when a guardian trips the kill switch.
	TypeEmergencyActivated Type = "custody.emergency.activated"
)

// Event is one custody domain event.
type Event struct {
	Type          Type            `json:"type"`
	TransactionID uint64          `json:"transactionId,omitempty"`
	Wallet        string          `json:"wallet,omitempty"`
	Amount        decimal.Decimal `json:"amount,omitempty"`
	Initiator     string          `json:"initiator,omitempty"`
	OccurredAt    int64           `json:"occurredAt"`
}

// Publisher delivers custody domain events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop drops all events.
type Nop struct{}

// Publish drops the event.
func (Nop) Publish(_ context.Context, _ Event) error { return nil }

// Close is a no-op.
func (Nop) Close() error { return nil }
