package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/custody-engine/custody"
	"github.com/openvault/custody-engine/custody/auth"
	"github.com/openvault/custody-engine/custody/clock"
	"github.com/openvault/custody-engine/custody/engine"
	"github.com/openvault/custody-engine/custody/events"
	"github.com/openvault/custody-engine/custody/guardian"
	"github.com/openvault/custody-engine/custody/limits"
	"github.com/openvault/custody-engine/custody/store"
	"github.com/openvault/custody-engine/custody/wallet"
)

const (
	hotAddress  = "GHOT000000000000000000000000000000000000"
	coldAddress = "GCOLD00000000000000000000000000000000000"

	guardianAlice = "GALICE0000000000000000000000000000000000"
	guardianBob   = "GBOB000000000000000000000000000000000000"
	guardianCarol = "GCAROL0000000000000000000000000000000000"

	testEpoch = int64(1_700_000_000)
)

type harness struct {
	svc   *engine.Service
	store *store.Memory
	clock *clock.Manual
}

func newHarness(t *testing.T, opts ...func(*engine.Config)) *harness {
	t.Helper()

	memory := store.NewMemory()
	manual := clock.NewManual(testEpoch)

	cfg := engine.Config{
		Store: memory,
		Clock: manual,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	svc, err := engine.New(cfg)
	require.NoError(t, err)

	return &harness{svc: svc, store: memory, clock: manual}
}

func defaultGuardians() []guardian.Guardian {
	return []guardian.Guardian{
		{Address: guardianAlice, Role: "CEO", IsActive: true, DailyLimit: dec(5000), MonthlyLimit: dec(50000)},
		{Address: guardianBob, Role: "CFO", IsActive: true, DailyLimit: dec(5000), MonthlyLimit: dec(50000)},
		{Address: guardianCarol, Role: "CTO", IsActive: true, DailyLimit: dec(5000), MonthlyLimit: dec(50000)},
	}
}

func defaultLimits() limits.System {
	return limits.System{
		DailyLimit:           dec(10000),
		MonthlyLimit:         dec(100000),
		HighValueThreshold:   dec(1000),
		RequiredApprovals:    2,
		HotWalletPercentage:  20,
		ColdWalletPercentage: 80,
	}
}

func (h *harness) initialize(t *testing.T) {
	t.Helper()

	err := h.svc.Initialize(context.Background(), engine.InitializeInput{
		Guardians:  defaultGuardians(),
		HotWallet:  hotAddress,
		ColdWallet: coldAddress,
		Limits:     defaultLimits(),
	})
	require.NoError(t, err)
}

// fund overwrites a wallet's balance directly in the store, standing in for
// the deposit flow that lives outside the engine.
func (h *harness) fund(t *testing.T, address string, kind wallet.Kind, balance decimal.Decimal) {
	t.Helper()

	info := wallet.New(address, kind)
	info.Balance = balance

	entry, err := wallet.Entry(info)
	require.NoError(t, err)
	require.NoError(t, h.store.Apply(context.Background(), entry))
}

func (h *harness) walletInfo(t *testing.T, address string) wallet.Info {
	t.Helper()

	info, err := wallet.NewLedger(h.store).Info(context.Background(), address)
	require.NoError(t, err)

	return info
}

func dec(value int64) decimal.Decimal {
	return decimal.NewFromInt(value)
}

// ---------------------------------------------------------------------------
// Initialize
// ---------------------------------------------------------------------------

func TestInitialize(t *testing.T) {
	t.Parallel()

	t.Run("succeeds once and records the full configuration", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)

		ctx := context.Background()

		counter, err := h.svc.TransactionCounter(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), counter)

		sys, err := h.svc.SystemLimits(ctx)
		require.NoError(t, err)
		assert.True(t, sys.HighValueThreshold.Equal(dec(1000)))
		assert.Equal(t, uint32(2), sys.RequiredApprovals)

		g, err := h.svc.Guardian(ctx, guardianAlice)
		require.NoError(t, err)
		assert.Equal(t, "CEO", g.Role)
		assert.True(t, g.IsActive)
		assert.Equal(t, uint32(0), g.ApprovalCount)

		hot, err := h.svc.HotBalance(ctx)
		require.NoError(t, err)
		assert.True(t, hot.IsZero())

		cold, err := h.svc.ColdBalance(ctx)
		require.NoError(t, err)
		assert.True(t, cold.IsZero())

		state, err := h.svc.EmergencyMode(ctx)
		require.NoError(t, err)
		assert.False(t, state.Active)
	})

	t.Run("second call fails with AlreadyInitialized", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)

		err := h.svc.Initialize(context.Background(), engine.InitializeInput{
			Guardians:  defaultGuardians(),
			HotWallet:  hotAddress,
			ColdWallet: coldAddress,
			Limits:     defaultLimits(),
		})
		assert.Equal(t, custody.ErrorAlreadyInitialized, custody.CodeOf(err))
	})

	t.Run("rejects invalid configurations", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name   string
			mutate func(*engine.InitializeInput)
		}{
			{
				name: "wrong guardian count",
				mutate: func(in *engine.InitializeInput) {
					in.Guardians = in.Guardians[:2]
				},
			},
			{
				name: "duplicate guardian address",
				mutate: func(in *engine.InitializeInput) {
					in.Guardians[1].Address = in.Guardians[0].Address
				},
			},
			{
				name: "blank guardian address",
				mutate: func(in *engine.InitializeInput) {
					in.Guardians[2].Address = "  "
				},
			},
			{
				name: "percentages do not sum to 100",
				mutate: func(in *engine.InitializeInput) {
					in.Limits.HotWalletPercentage = 30
				},
			},
			{
				name: "blank hot wallet",
				mutate: func(in *engine.InitializeInput) {
					in.HotWallet = ""
				},
			},
			{
				name: "hot and cold wallets equal",
				mutate: func(in *engine.InitializeInput) {
					in.ColdWallet = in.HotWallet
				},
			},
		}

		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				h := newHarness(t)

				input := engine.InitializeInput{
					Guardians:  defaultGuardians(),
					HotWallet:  hotAddress,
					ColdWallet: coldAddress,
					Limits:     defaultLimits(),
				}
				tt.mutate(&input)

				err := h.svc.Initialize(context.Background(), input)
				assert.Equal(t, custody.ErrorInvalidConfiguration, custody.CodeOf(err))

				// A rejected initialization must leave no partial state.
				initialized, hasErr := h.store.Has(context.Background(), store.KeyInitialized)
				require.NoError(t, hasErr)
				assert.False(t, initialized)
			})
		}
	})
}

// ---------------------------------------------------------------------------
// CreateTransaction
// ---------------------------------------------------------------------------

func TestCreateTransaction(t *testing.T) {
	t.Parallel()

	t.Run("fails before initialization", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)

		_, err := h.svc.CreateTransaction(context.Background(), engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(100),
			Type:       engine.TypePayment,
		})
		assert.Equal(t, custody.ErrorNotInitialized, custody.CodeOf(err))
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)

		for _, amount := range []decimal.Decimal{decimal.Zero, dec(-5)} {
			_, err := h.svc.CreateTransaction(context.Background(), engine.CreateTransactionInput{
				FromWallet: hotAddress,
				ToAddress:  "GDEST",
				Amount:     amount,
				Type:       engine.TypePayment,
			})
			assert.Equal(t, custody.ErrorInvalidAmount, custody.CodeOf(err))
		}
	})

	t.Run("rejects unknown wallets", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)

		_, err := h.svc.CreateTransaction(context.Background(), engine.CreateTransactionInput{
			FromWallet: "GNOWHERE",
			ToAddress:  "GDEST",
			Amount:     dec(100),
			Type:       engine.TypePayment,
		})
		assert.Equal(t, custody.ErrorWalletNotFound, custody.CodeOf(err))
	})

	t.Run("rejects amounts above the wallet balance", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(50))

		_, err := h.svc.CreateTransaction(context.Background(), engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(100),
			Type:       engine.TypePayment,
		})
		assert.Equal(t, custody.ErrorInsufficientFunds, custody.CodeOf(err))
	})

	t.Run("sub-threshold hot transfer executes immediately", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(10000))

		ctx := context.Background()

		txID, err := h.svc.CreateTransaction(ctx, engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(500),
			Type:       engine.TypePayment,
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), txID)

		tx, err := h.svc.Transaction(ctx, txID)
		require.NoError(t, err)
		assert.Equal(t, engine.StatusExecuted, tx.Status)
		assert.False(t, tx.RequiresApproval)
		require.NotNil(t, tx.ExecutedAt)
		assert.Equal(t, testEpoch, *tx.ExecutedAt)

		info := h.walletInfo(t, hotAddress)
		assert.True(t, info.Balance.Equal(dec(9500)))
		assert.True(t, info.ReservedBalance.IsZero())
	})

	t.Run("amount equal to the threshold does not require approval", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(10000))

		txID, err := h.svc.CreateTransaction(context.Background(), engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(1000),
			Type:       engine.TypePayment,
		})
		require.NoError(t, err)

		tx, err := h.svc.Transaction(context.Background(), txID)
		require.NoError(t, err)
		assert.Equal(t, engine.StatusExecuted, tx.Status)
		assert.False(t, tx.RequiresApproval)
	})

	t.Run("amount above the threshold reserves funds and awaits approval", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(10000))

		txID, err := h.svc.CreateTransaction(context.Background(), engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(2000),
			Type:       engine.TypePayment,
		})
		require.NoError(t, err)

		tx, err := h.svc.Transaction(context.Background(), txID)
		require.NoError(t, err)
		assert.Equal(t, engine.StatusAwaitingApproval, tx.Status)
		assert.True(t, tx.RequiresApproval)
		assert.Empty(t, tx.Approvals)
		assert.Nil(t, tx.ExecutedAt)

		info := h.walletInfo(t, hotAddress)
		assert.True(t, info.Balance.Equal(dec(10000)))
		assert.True(t, info.ReservedBalance.Equal(dec(2000)))
	})

	t.Run("cold wallet transfers always require approval", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, coldAddress, wallet.KindCold, dec(10000))

		txID, err := h.svc.CreateTransaction(context.Background(), engine.CreateTransactionInput{
			FromWallet: coldAddress,
			ToAddress:  "GDEST",
			Amount:     dec(10),
			Type:       engine.TypeRebalance,
		})
		require.NoError(t, err)

		tx, err := h.svc.Transaction(context.Background(), txID)
		require.NoError(t, err)
		assert.Equal(t, engine.StatusAwaitingApproval, tx.Status)
		assert.True(t, tx.RequiresApproval)
	})

	t.Run("transaction ids are sequential starting at 1", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(10000))

		for want := uint64(1); want <= 3; want++ {
			txID, err := h.svc.CreateTransaction(context.Background(), engine.CreateTransactionInput{
				FromWallet: hotAddress,
				ToAddress:  "GDEST",
				Amount:     dec(10),
				Type:       engine.TypePayment,
			})
			require.NoError(t, err)
			assert.Equal(t, want, txID)
		}

		counter, err := h.svc.TransactionCounter(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(3), counter)
	})
}

// ---------------------------------------------------------------------------
// Spending limits
// ---------------------------------------------------------------------------

func TestSpendingLimits(t *testing.T) {
	t.Parallel()

	t.Run("approval-required creation at the daily cap succeeds", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(100000))

		_, err := h.svc.CreateTransaction(context.Background(), engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(10000),
			Type:       engine.TypePayment,
		})
		assert.NoError(t, err)
	})

	t.Run("one over the daily cap fails with LimitExceeded", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(100000))

		_, err := h.svc.CreateTransaction(context.Background(), engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(10001),
			Type:       engine.TypePayment,
		})
		assert.Equal(t, custody.ErrorLimitExceeded, custody.CodeOf(err))
	})

	t.Run("executed spend counts against the next high-value creation", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(100000))

		ctx := context.Background()

		// Auto-executed transfer records 900 against today's bucket.
		_, err := h.svc.CreateTransaction(ctx, engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(900),
			Type:       engine.TypePayment,
		})
		require.NoError(t, err)

		// 900 + 9200 > 10000.
		_, err = h.svc.CreateTransaction(ctx, engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(9200),
			Type:       engine.TypePayment,
		})
		assert.Equal(t, custody.ErrorLimitExceeded, custody.CodeOf(err))

		// 900 + 9100 == 10000 fits exactly.
		_, err = h.svc.CreateTransaction(ctx, engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(9100),
			Type:       engine.TypePayment,
		})
		assert.NoError(t, err)
	})

	t.Run("a new day resets the daily bucket", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(100000))

		ctx := context.Background()

		_, err := h.svc.CreateTransaction(ctx, engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(900),
			Type:       engine.TypePayment,
		})
		require.NoError(t, err)

		h.clock.Advance(86400)

		_, err = h.svc.CreateTransaction(ctx, engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(9500),
			Type:       engine.TypePayment,
		})
		assert.NoError(t, err)
	})
}

// ---------------------------------------------------------------------------
// ApproveTransaction
// ---------------------------------------------------------------------------

func createAwaiting(t *testing.T, h *harness, amount decimal.Decimal) uint64 {
	t.Helper()

	txID, err := h.svc.CreateTransaction(context.Background(), engine.CreateTransactionInput{
		FromWallet: hotAddress,
		ToAddress:  "GDEST",
		Amount:     amount,
		Type:       engine.TypePayment,
	})
	require.NoError(t, err)

	return txID
}

func TestApproveTransaction(t *testing.T) {
	t.Parallel()

	t.Run("rejects non-guardians", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(10000))
		txID := createAwaiting(t, h, dec(2000))

		_, err := h.svc.ApproveTransaction(context.Background(), "GSTRANGER", txID)
		assert.Equal(t, custody.ErrorNotAGuardian, custody.CodeOf(err))
	})

	t.Run("rejects inactive guardians", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)

		guardians := defaultGuardians()
		guardians[2].IsActive = false

		err := h.svc.Initialize(context.Background(), engine.InitializeInput{
			Guardians:  guardians,
			HotWallet:  hotAddress,
			ColdWallet: coldAddress,
			Limits:     defaultLimits(),
		})
		require.NoError(t, err)

		h.fund(t, hotAddress, wallet.KindHot, dec(10000))
		txID := createAwaiting(t, h, dec(2000))

		_, err = h.svc.ApproveTransaction(context.Background(), guardianCarol, txID)
		assert.Equal(t, custody.ErrorGuardianInactive, custody.CodeOf(err))
	})

	t.Run("rejects unknown transactions", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)

		_, err := h.svc.ApproveTransaction(context.Background(), guardianAlice, 42)
		assert.Equal(t, custody.ErrorTransactionNotFound, custody.CodeOf(err))
	})

	t.Run("rejects a duplicate approval from the same guardian", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(10000))
		txID := createAwaiting(t, h, dec(2000))

		ctx := context.Background()

		quorum, err := h.svc.ApproveTransaction(ctx, guardianAlice, txID)
		require.NoError(t, err)
		assert.False(t, quorum)

		_, err = h.svc.ApproveTransaction(ctx, guardianAlice, txID)
		assert.Equal(t, custody.ErrorDuplicateApproval, custody.CodeOf(err))

		// The failed duplicate must not advance state.
		tx, err := h.svc.Transaction(ctx, txID)
		require.NoError(t, err)
		assert.Len(t, tx.Approvals, 1)
		assert.Equal(t, engine.StatusAwaitingApproval, tx.Status)
	})

	t.Run("rejects approval of an executed transaction", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(10000))
		txID := createAwaiting(t, h, dec(2000))

		ctx := context.Background()

		_, err := h.svc.ApproveTransaction(ctx, guardianAlice, txID)
		require.NoError(t, err)

		quorum, err := h.svc.ApproveTransaction(ctx, guardianBob, txID)
		require.NoError(t, err)
		require.True(t, quorum)

		_, err = h.svc.ApproveTransaction(ctx, guardianCarol, txID)
		assert.Equal(t, custody.ErrorInvalidTransactionState, custody.CodeOf(err))
	})

	t.Run("quorum executes the transaction and settles the reservation", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(10000))
		txID := createAwaiting(t, h, dec(2000))

		ctx := context.Background()

		quorum, err := h.svc.ApproveTransaction(ctx, guardianAlice, txID)
		require.NoError(t, err)
		assert.False(t, quorum)

		// One approval in: still awaiting, reservation intact.
		info := h.walletInfo(t, hotAddress)
		assert.True(t, info.Balance.Equal(dec(10000)))
		assert.True(t, info.ReservedBalance.Equal(dec(2000)))

		quorum, err = h.svc.ApproveTransaction(ctx, guardianBob, txID)
		require.NoError(t, err)
		assert.True(t, quorum)

		tx, err := h.svc.Transaction(ctx, txID)
		require.NoError(t, err)
		assert.Equal(t, engine.StatusExecuted, tx.Status)
		assert.Equal(t, []string{guardianAlice, guardianBob}, tx.Approvals)
		require.NotNil(t, tx.ExecutedAt)

		info = h.walletInfo(t, hotAddress)
		assert.True(t, info.Balance.Equal(dec(8000)))
		assert.True(t, info.ReservedBalance.IsZero())
	})

	t.Run("approval advances guardian statistics", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(10000))
		txID := createAwaiting(t, h, dec(2000))

		ctx := context.Background()

		h.clock.Set(testEpoch + 60)

		_, err := h.svc.ApproveTransaction(ctx, guardianAlice, txID)
		require.NoError(t, err)

		g, err := h.svc.Guardian(ctx, guardianAlice)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), g.ApprovalCount)
		assert.Equal(t, testEpoch+60, g.LastApproval)
	})

	t.Run("unauthenticated caller is rejected before any state read", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, func(cfg *engine.Config) {
			cfg.Auth = auth.Static{Tokens: map[string]string{guardianAlice: "token-alice"}}
		})
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(10000))
		txID := createAwaiting(t, h, dec(2000))

		_, err := h.svc.ApproveTransaction(context.Background(), guardianAlice, txID)
		assert.Equal(t, custody.ErrorUnauthorized, custody.CodeOf(err))

		ctx := auth.WithToken(context.Background(), "token-alice")
		quorum, err := h.svc.ApproveTransaction(ctx, guardianAlice, txID)
		require.NoError(t, err)
		assert.False(t, quorum)
	})
}

// ---------------------------------------------------------------------------
// Emergency mode
// ---------------------------------------------------------------------------

func TestEmergencyShutdown(t *testing.T) {
	t.Parallel()

	t.Run("requires an active registered guardian", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)

		err := h.svc.EmergencyShutdown(context.Background(), "GSTRANGER")
		assert.Equal(t, custody.ErrorNotAGuardian, custody.CodeOf(err))
	})

	t.Run("blocks creation and approval but not queries", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)
		h.fund(t, hotAddress, wallet.KindHot, dec(10000))
		txID := createAwaiting(t, h, dec(2000))

		ctx := context.Background()

		require.NoError(t, h.svc.EmergencyShutdown(ctx, guardianAlice))

		state, err := h.svc.EmergencyMode(ctx)
		require.NoError(t, err)
		assert.True(t, state.Active)
		assert.Equal(t, guardianAlice, state.Initiator)

		_, err = h.svc.CreateTransaction(ctx, engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(10),
			Type:       engine.TypePayment,
		})
		assert.Equal(t, custody.ErrorEmergencyActive, custody.CodeOf(err))

		_, err = h.svc.ApproveTransaction(ctx, guardianBob, txID)
		assert.Equal(t, custody.ErrorEmergencyActive, custody.CodeOf(err))

		// Queries stay available, including the pending transaction.
		tx, err := h.svc.Transaction(ctx, txID)
		require.NoError(t, err)
		assert.Equal(t, engine.StatusAwaitingApproval, tx.Status)

		balance, err := h.svc.HotBalance(ctx)
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec(10000)))
	})

	t.Run("a later activation records the most recent initiator", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		h.initialize(t)

		ctx := context.Background()

		require.NoError(t, h.svc.EmergencyShutdown(ctx, guardianAlice))
		require.NoError(t, h.svc.EmergencyShutdown(ctx, guardianBob))

		state, err := h.svc.EmergencyMode(ctx)
		require.NoError(t, err)
		assert.True(t, state.Active)
		assert.Equal(t, guardianBob, state.Initiator)
	})
}

// ---------------------------------------------------------------------------
// Event publishing
// ---------------------------------------------------------------------------

// stallingPublisher blocks its first Publish until released, standing in for
// a broker that is slow to confirm.
type stallingPublisher struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (p *stallingPublisher) Publish(_ context.Context, _ events.Event) error {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()

	if first {
		close(p.entered)
		<-p.release
	}

	return nil
}

func (p *stallingPublisher) Close() error { return nil }

func TestPublishDoesNotBlockEngineOperations(t *testing.T) {
	t.Parallel()

	pub := &stallingPublisher{entered: make(chan struct{}), release: make(chan struct{})}

	h := newHarness(t, func(cfg *engine.Config) {
		cfg.Events = pub
	})
	h.initialize(t)
	h.fund(t, hotAddress, wallet.KindHot, dec(10000))

	ctx := context.Background()

	firstDone := make(chan error, 1)

	go func() {
		_, err := h.svc.CreateTransaction(ctx, engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(100),
			Type:       engine.TypePayment,
		})
		firstDone <- err
	}()

	<-pub.entered

	// The first transaction committed and is waiting on broker confirmation.
	// A second transaction must not queue behind that wait.
	secondDone := make(chan error, 1)

	go func() {
		_, err := h.svc.CreateTransaction(ctx, engine.CreateTransactionInput{
			FromWallet: hotAddress,
			ToAddress:  "GDEST",
			Amount:     dec(200),
			Type:       engine.TypePayment,
		})
		secondDone <- err
	}()

	select {
	case err := <-secondDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("transaction stalled behind an in-flight event publish")
	}

	close(pub.release)
	require.NoError(t, <-firstDone)

	counter, err := h.svc.TransactionCounter(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), counter)
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestEndToEndCustodyFlow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.initialize(t)
	h.fund(t, hotAddress, wallet.KindHot, dec(10000))

	ctx := context.Background()

	// Low-value payment executes in one step.
	lowID, err := h.svc.CreateTransaction(ctx, engine.CreateTransactionInput{
		FromWallet: hotAddress,
		ToAddress:  "GDEST",
		Amount:     dec(500),
		Memo:       "supplier invoice",
		Type:       engine.TypePayment,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), lowID)

	balance, err := h.svc.HotBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(9500)))

	// High-value payment goes through the approval flow.
	highID, err := h.svc.CreateTransaction(ctx, engine.CreateTransactionInput{
		FromWallet: hotAddress,
		ToAddress:  "GDEST",
		Amount:     dec(2000),
		Memo:       "quarterly settlement",
		Type:       engine.TypeWithdrawal,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), highID)

	info := h.walletInfo(t, hotAddress)
	assert.True(t, info.Balance.Equal(dec(9500)))
	assert.True(t, info.ReservedBalance.Equal(dec(2000)))

	quorum, err := h.svc.ApproveTransaction(ctx, guardianAlice, highID)
	require.NoError(t, err)
	assert.False(t, quorum)

	quorum, err = h.svc.ApproveTransaction(ctx, guardianBob, highID)
	require.NoError(t, err)
	assert.True(t, quorum)

	tx, err := h.svc.Transaction(ctx, highID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusExecuted, tx.Status)

	info = h.walletInfo(t, hotAddress)
	assert.True(t, info.Balance.Equal(dec(7500)))
	assert.True(t, info.ReservedBalance.IsZero())

	counter, err := h.svc.TransactionCounter(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), counter)
}
