package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openvault/custody-engine/custody"
	"github.com/openvault/custody-engine/custody/auth"
	"github.com/openvault/custody-engine/custody/clock"
	"github.com/openvault/custody-engine/custody/events"
	"github.com/openvault/custody-engine/custody/guardian"
	"github.com/openvault/custody-engine/custody/limits"
	"github.com/openvault/custody-engine/custody/log"
	"github.com/openvault/custody-engine/custody/store"
	"github.com/openvault/custody-engine/custody/wallet"
)

// tracerName identifies engine spans.
const tracerName = "custody.engine"

// ErrStoreRequired indicates the engine was built without a store.
var ErrStoreRequired = errors.New("engine: store is required")

// Config wires the engine's capabilities. Store is mandatory; a nil Auth
// defaults to AllowAll (host-authenticated deployments), Clock to the system
// clock, Logger to nop, and Events to the nop publisher.
type Config struct {
	Store  store.Store
	Auth   auth.Authenticator
	Clock  clock.Clock
	Logger log.Logger
	Events events.Publisher
}

// Service is the custody policy engine. All mutating operations are
// serialized by an internal mutex and commit through a single store.Apply.
type Service struct {
	mu sync.Mutex

	store  store.Store
	auth   auth.Authenticator
	clock  clock.Clock
	logger log.Logger
	events events.Publisher
	tracer trace.Tracer

	registry *guardian.Registry
	ledger   *wallet.Ledger
	enforcer *limits.Enforcer
}

// New creates an engine from cfg.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}

	if cfg.Auth == nil {
		cfg.Auth = auth.AllowAll{}
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}

	return &Service{
		store:    cfg.Store,
		auth:     cfg.Auth,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		events:   cfg.Events,
		tracer:   otel.Tracer(tracerName),
		registry: guardian.NewRegistry(cfg.Store),
		ledger:   wallet.NewLedger(cfg.Store),
		enforcer: limits.NewEnforcer(cfg.Store),
	}, nil
}

// InitializeInput carries the one-time initialization payload.
type InitializeInput struct {
	Guardians  []guardian.Guardian
	HotWallet  string
	ColdWallet string
	Limits     limits.System
}

// Initialize sets up the guardian set, the two wallets, and the system
// limits. It can succeed at most once.
func (s *Service) Initialize(ctx context.Context, input InitializeInput) error {
	ctx, span := s.tracer.Start(ctx, "engine.initialize")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	initialized, err := s.store.Has(ctx, store.KeyInitialized)
	if err != nil {
		return err
	}

	if initialized {
		return custody.NewDomainError(custody.ErrorAlreadyInitialized, "", "engine is already initialized")
	}

	if err := guardian.ValidateSet(input.Guardians); err != nil {
		return err
	}

	if err := input.Limits.Validate(); err != nil {
		return err
	}

	if strings.TrimSpace(input.HotWallet) == "" || strings.TrimSpace(input.ColdWallet) == "" {
		return custody.NewDomainError(custody.ErrorInvalidConfiguration, "wallets", "hot and cold wallet addresses are required")
	}

	if input.HotWallet == input.ColdWallet {
		return custody.NewDomainError(custody.ErrorInvalidConfiguration, "wallets", "hot and cold wallets must be distinct")
	}

	guardians := make(map[string]guardian.Guardian, len(input.Guardians))
	for _, g := range input.Guardians {
		guardians[g.Address] = g
	}

	guardiansEntry, err := guardian.Entry(guardians)
	if err != nil {
		return err
	}

	limitsEntry, err := input.Limits.Entry()
	if err != nil {
		return err
	}

	hotEntry, err := wallet.Entry(wallet.New(input.HotWallet, wallet.KindHot))
	if err != nil {
		return err
	}

	coldEntry, err := wallet.Entry(wallet.New(input.ColdWallet, wallet.KindCold))
	if err != nil {
		return err
	}

	entries := []store.Entry{
		guardiansEntry,
		limitsEntry,
		hotEntry,
		coldEntry,
		jsonEntry(store.KeyGuardianCount, uint32(guardian.RequiredCount)),
		jsonEntry(store.KeyHotWallet, input.HotWallet),
		jsonEntry(store.KeyColdWallet, input.ColdWallet),
		jsonEntry(store.KeyTransactionCounter, uint64(0)),
		jsonEntry(store.KeyEmergencyMode, false),
		jsonEntry(store.KeyInitialized, true),
	}

	if err := s.store.Apply(ctx, entries...); err != nil {
		return err
	}

	s.logger.Log(ctx, log.LevelInfo, "custody engine initialized",
		log.Int("guardians", len(input.Guardians)),
		log.String("hot_wallet", input.HotWallet),
		log.String("cold_wallet", input.ColdWallet),
	)

	return nil
}

// CreateTransactionInput carries a transaction creation request.
type CreateTransactionInput struct {
	FromWallet string
	ToAddress  string
	Amount     decimal.Decimal
	Memo       string
	Type       TxType
}

// CreateTransaction validates the request, reserves funds, and persists the
// transaction. Transactions above the high-value threshold or drawing from
// the cold wallet await guardian approval; everything else executes in the
// same unit of work. Returns the allocated transaction id.
func (s *Service) CreateTransaction(ctx context.Context, input CreateTransactionInput) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "engine.create_transaction")
	defer span.End()

	txID, event, err := s.createTransaction(ctx, span, input)
	if err != nil {
		return 0, err
	}

	// Published after the mutex is released: the commit already happened, and
	// a slow broker confirmation must not stall other engine operations.
	s.publish(ctx, event)

	return txID, nil
}

func (s *Service) createTransaction(ctx context.Context, span trace.Span, input CreateTransactionInput) (uint64, events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitialized(ctx); err != nil {
		return 0, events.Event{}, err
	}

	if err := s.requireOperational(ctx); err != nil {
		return 0, events.Event{}, err
	}

	if !input.Amount.IsPositive() {
		return 0, events.Event{}, custody.NewDomainError(custody.ErrorInvalidAmount, "amount", "amount must be greater than zero")
	}

	info, err := s.ledger.Info(ctx, input.FromWallet)
	if err != nil {
		return 0, events.Event{}, err
	}

	if info.Balance.LessThan(input.Amount) {
		return 0, events.Event{}, custody.NewDomainError(custody.ErrorInsufficientFunds, "amount", "wallet balance cannot cover the amount")
	}

	sys, err := s.systemLimits(ctx)
	if err != nil {
		return 0, events.Event{}, err
	}

	requiresApproval := input.Amount.GreaterThan(sys.HighValueThreshold) || info.Kind == wallet.KindCold
	now := s.clock.Now()

	// Spending caps gate only the approval-required path; sub-threshold hot
	// wallet transfers bypass them.
	if requiresApproval {
		if err := s.enforcer.Check(ctx, sys, input.Amount, now); err != nil {
			return 0, events.Event{}, err
		}
	}

	counter, err := s.transactionCounter(ctx)
	if err != nil {
		return 0, events.Event{}, err
	}

	txID := counter + 1

	reserved, err := wallet.Reserve(info, input.Amount)
	if err != nil {
		return 0, events.Event{}, err
	}

	tx := Transaction{
		ID:               txID,
		FromWallet:       input.FromWallet,
		ToAddress:        input.ToAddress,
		Amount:           input.Amount,
		Memo:             input.Memo,
		Type:             input.Type,
		Status:           StatusAwaitingApproval,
		Approvals:        []string{},
		CreatedAt:        now,
		RequiresApproval: requiresApproval,
	}

	entries := []store.Entry{jsonEntry(store.KeyTransactionCounter, txID)}

	if requiresApproval {
		walletEntry, err := wallet.Entry(reserved)
		if err != nil {
			return 0, events.Event{}, err
		}

		txEntry, err := transactionEntry(tx)
		if err != nil {
			return 0, events.Event{}, err
		}

		entries = append(entries, walletEntry, txEntry)
	} else {
		tx.Status = StatusPending

		executionEntries, err := s.executionEntries(ctx, &tx, reserved, now)
		if err != nil {
			return 0, events.Event{}, err
		}

		entries = append(entries, executionEntries...)
	}

	if err := s.store.Apply(ctx, entries...); err != nil {
		return 0, events.Event{}, err
	}

	span.SetAttributes(
		attribute.Int64("custody.tx_id", int64(txID)),
		attribute.Bool("custody.requires_approval", requiresApproval),
	)
	s.logger.Log(ctx, log.LevelInfo, "transaction created",
		log.Uint64("tx_id", txID),
		log.String("from_wallet", input.FromWallet),
		log.String("status", string(tx.Status)),
		log.Bool("requires_approval", requiresApproval),
	)

	event := events.Event{
		Type:          eventTypeFor(tx.Status),
		TransactionID: txID,
		Wallet:        input.FromWallet,
		Amount:        input.Amount,
		OccurredAt:    now,
	}

	return txID, event, nil
}

// ApproveTransaction records a guardian approval and executes the
// transaction when quorum is reached. Returns whether this call reached
// quorum.
func (s *Service) ApproveTransaction(ctx context.Context, guardianAddress string, txID uint64) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "engine.approve_transaction")
	defer span.End()

	if err := s.auth.RequireAuth(ctx, guardianAddress); err != nil {
		return false, custody.NewDomainError(custody.ErrorUnauthorized, "guardian", "caller has not proven control of the guardian address")
	}

	quorumReached, event, err := s.approveTransaction(ctx, span, guardianAddress, txID)
	if err != nil {
		return false, err
	}

	// Published after the mutex is released, so broker confirmation cannot
	// stall other engine operations.
	if quorumReached {
		s.publish(ctx, event)
	}

	return quorumReached, nil
}

func (s *Service) approveTransaction(
	ctx context.Context,
	span trace.Span,
	guardianAddress string,
	txID uint64,
) (bool, events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitialized(ctx); err != nil {
		return false, events.Event{}, err
	}

	if err := s.requireOperational(ctx); err != nil {
		return false, events.Event{}, err
	}

	guardians, err := s.registry.All(ctx)
	if err != nil {
		return false, events.Event{}, err
	}

	g, ok := guardians[guardianAddress]
	if !ok {
		return false, events.Event{}, custody.NewDomainError(custody.ErrorNotAGuardian, "guardian", "address is not a registered guardian")
	}

	if !g.IsActive {
		return false, events.Event{}, custody.NewDomainError(custody.ErrorGuardianInactive, "guardian", "guardian is not active")
	}

	tx, err := s.transaction(ctx, txID)
	if err != nil {
		return false, events.Event{}, err
	}

	if tx.HasApprovalFrom(guardianAddress) {
		return false, events.Event{}, custody.NewDomainError(custody.ErrorDuplicateApproval, "guardian", "guardian already approved this transaction")
	}

	if tx.Status != StatusAwaitingApproval {
		return false, events.Event{}, custody.NewDomainError(custody.ErrorInvalidTransactionState, "transaction", "transaction is not awaiting approval")
	}

	now := s.clock.Now()

	tx.Approvals = append(tx.Approvals, guardianAddress)
	guardians[guardianAddress] = guardian.RecordApproval(g, now)

	sys, err := s.systemLimits(ctx)
	if err != nil {
		return false, events.Event{}, err
	}

	quorumReached := uint32(len(tx.Approvals)) >= sys.RequiredApprovals

	guardiansEntry, err := guardian.Entry(guardians)
	if err != nil {
		return false, events.Event{}, err
	}

	entries := []store.Entry{guardiansEntry}

	if quorumReached {
		tx.Status = StatusApproved

		info, err := s.ledger.Info(ctx, tx.FromWallet)
		if err != nil {
			return false, events.Event{}, err
		}

		executionEntries, err := s.executionEntries(ctx, &tx, info, now)
		if err != nil {
			return false, events.Event{}, err
		}

		entries = append(entries, executionEntries...)
	} else {
		txEntry, err := transactionEntry(tx)
		if err != nil {
			return false, events.Event{}, err
		}

		entries = append(entries, txEntry)
	}

	if err := s.store.Apply(ctx, entries...); err != nil {
		return false, events.Event{}, err
	}

	span.SetAttributes(
		attribute.Int64("custody.tx_id", int64(txID)),
		attribute.Bool("custody.quorum_reached", quorumReached),
	)
	s.logger.Log(ctx, log.LevelInfo, "transaction approved",
		log.Uint64("tx_id", txID),
		log.String("guardian", guardianAddress),
		log.Int("approvals", len(tx.Approvals)),
		log.Bool("quorum_reached", quorumReached),
	)

	event := events.Event{
		Type:          events.TypeTransactionExecuted,
		TransactionID: txID,
		Wallet:        tx.FromWallet,
		Amount:        tx.Amount,
		OccurredAt:    now,
	}

	return quorumReached, event, nil
}

// executionEntries settles funds on info, records the spend buckets, and
// marks tx executed, returning the entries for the caller's commit. Callers
// guarantee info already carries the reservation for tx, and the
// status-guarded entry points make this reachable at most once per id.
func (s *Service) executionEntries(ctx context.Context, tx *Transaction, info wallet.Info, now int64) ([]store.Entry, error) {
	settled, err := wallet.Settle(info, tx.Amount)
	if err != nil {
		return nil, err
	}

	walletEntry, err := wallet.Entry(settled)
	if err != nil {
		return nil, err
	}

	spendEntries, err := s.enforcer.Record(ctx, tx.Amount, now)
	if err != nil {
		return nil, err
	}

	tx.Status = StatusExecuted
	executedAt := now
	tx.ExecutedAt = &executedAt

	txEntry, err := transactionEntry(*tx)
	if err != nil {
		return nil, err
	}

	entries := make([]store.Entry, 0, 2+len(spendEntries))
	entries = append(entries, walletEntry, txEntry)
	entries = append(entries, spendEntries...)

	return entries, nil
}

// ---------------------------------------------------------------------------
// Read-only queries (never gated by emergency mode)
// ---------------------------------------------------------------------------

// Transaction returns the transaction registered under id.
func (s *Service) Transaction(ctx context.Context, txID uint64) (Transaction, error) {
	return s.transaction(ctx, txID)
}

// Guardian returns the guardian registered under address.
func (s *Service) Guardian(ctx context.Context, address string) (guardian.Guardian, error) {
	return s.registry.Lookup(ctx, address)
}

// WalletBalance returns the balance of the wallet registered under address.
func (s *Service) WalletBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return s.ledger.Balance(ctx, address)
}

// HotBalance returns the hot wallet balance.
func (s *Service) HotBalance(ctx context.Context) (decimal.Decimal, error) {
	return s.namedWalletBalance(ctx, store.KeyHotWallet)
}

// ColdBalance returns the cold wallet balance.
func (s *Service) ColdBalance(ctx context.Context) (decimal.Decimal, error) {
	return s.namedWalletBalance(ctx, store.KeyColdWallet)
}

// SystemLimits returns the immutable limit configuration.
func (s *Service) SystemLimits(ctx context.Context) (limits.System, error) {
	return s.systemLimits(ctx)
}

// TransactionCounter returns the last allocated transaction id.
func (s *Service) TransactionCounter(ctx context.Context) (uint64, error) {
	return s.transactionCounter(ctx)
}

func (s *Service) namedWalletBalance(ctx context.Context, key string) (decimal.Decimal, error) {
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, store.ErrKeyNotFound) {
		return decimal.Zero, custody.NewDomainError(custody.ErrorNotInitialized, "wallet", "engine is not initialized")
	}

	if err != nil {
		return decimal.Zero, err
	}

	var address string
	if err := json.Unmarshal(raw, &address); err != nil {
		return decimal.Zero, custody.NewDomainError(custody.ErrorDataCorruption, "wallet", "cannot decode wallet address")
	}

	return s.ledger.Balance(ctx, address)
}

// ---------------------------------------------------------------------------
// Internal state accessors
// ---------------------------------------------------------------------------

func (s *Service) requireInitialized(ctx context.Context) error {
	initialized, err := s.store.Has(ctx, store.KeyInitialized)
	if err != nil {
		return err
	}

	if !initialized {
		return custody.NewDomainError(custody.ErrorNotInitialized, "", "engine is not initialized")
	}

	return nil
}

func (s *Service) requireOperational(ctx context.Context) error {
	tripped, err := s.emergencyTripped(ctx)
	if err != nil {
		return err
	}

	if tripped {
		return custody.NewDomainError(custody.ErrorEmergencyActive, "", "emergency mode is active")
	}

	return nil
}

func (s *Service) transaction(ctx context.Context, txID uint64) (Transaction, error) {
	raw, err := s.store.Get(ctx, store.TransactionKey(txID))
	if errors.Is(err, store.ErrKeyNotFound) {
		return Transaction{}, custody.NewDomainError(custody.ErrorTransactionNotFound, "transaction", "transaction not found")
	}

	if err != nil {
		return Transaction{}, err
	}

	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return Transaction{}, custody.NewDomainError(custody.ErrorDataCorruption, "transaction", "cannot decode transaction")
	}

	return tx, nil
}

func (s *Service) systemLimits(ctx context.Context) (limits.System, error) {
	raw, err := s.store.Get(ctx, store.KeySystemLimits)
	if errors.Is(err, store.ErrKeyNotFound) {
		return limits.System{}, custody.NewDomainError(custody.ErrorNotInitialized, "systemLimits", "engine is not initialized")
	}

	if err != nil {
		return limits.System{}, err
	}

	var sys limits.System
	if err := json.Unmarshal(raw, &sys); err != nil {
		return limits.System{}, custody.NewDomainError(custody.ErrorDataCorruption, "systemLimits", "cannot decode system limits")
	}

	return sys, nil
}

func (s *Service) transactionCounter(ctx context.Context) (uint64, error) {
	raw, err := s.store.Get(ctx, store.KeyTransactionCounter)
	if errors.Is(err, store.ErrKeyNotFound) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	var counter uint64
	if err := json.Unmarshal(raw, &counter); err != nil {
		return 0, custody.NewDomainError(custody.ErrorDataCorruption, "counter", "cannot decode transaction counter")
	}

	return counter, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Log(ctx, log.LevelWarn, "event publish failed",
			log.String("event_type", string(event.Type)),
			log.Err(err),
		)
	}
}

func eventTypeFor(status TxStatus) events.Type {
	if status == StatusExecuted {
		return events.TypeTransactionExecuted
	}

	return events.TypeTransactionCreated
}

func jsonEntry(key string, value any) store.Entry {
	raw, err := json.Marshal(value)
	if err != nil {
		// All callers pass marshal-safe primitives.
		panic(fmt.Sprintf("marshal %q: %v", key, err))
	}

	return store.Entry{Key: key, Value: raw}
}
