package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/openvault/custody-engine/custody"
	"github.com/openvault/custody-engine/custody/engine"
	"github.com/openvault/custody-engine/custody/guardian"
	"github.com/openvault/custody-engine/custody/limits"
	"github.com/openvault/custody-engine/custody/log"
)

// Handler exposes the custody engine operations.
type Handler struct {
	engine *engine.Service
	logger log.Logger
}

// NewHandler creates a handler over the given engine.
func NewHandler(svc *engine.Service, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Handler{engine: svc, logger: logger}
}

// GuardianInput is one guardian in the initialization payload.
type GuardianInput struct {
	Address      string          `json:"address"`
	Role         string          `json:"role"`
	DailyLimit   decimal.Decimal `json:"dailyLimit"`
	MonthlyLimit decimal.Decimal `json:"monthlyLimit"`
}

// InitializeRequest is the one-time initialization payload.
type InitializeRequest struct {
	Guardians  []GuardianInput `json:"guardians"`
	HotWallet  string          `json:"hotWallet"`
	ColdWallet string          `json:"coldWallet"`
	Limits     limits.System   `json:"limits"`
}

// Initialize handles POST /v1/initialize.
func (h *Handler) Initialize(c *fiber.Ctx) error {
	var req InitializeRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondError(c, custody.NewDomainError(custody.ErrorInvalidInput, "body", "cannot parse request body"))
	}

	guardians := make([]guardian.Guardian, len(req.Guardians))
	for i, g := range req.Guardians {
		guardians[i] = guardian.Guardian{
			Address:      g.Address,
			Role:         g.Role,
			IsActive:     true,
			DailyLimit:   g.DailyLimit,
			MonthlyLimit: g.MonthlyLimit,
		}
	}

	err := h.engine.Initialize(c.UserContext(), engine.InitializeInput{
		Guardians:  guardians,
		HotWallet:  req.HotWallet,
		ColdWallet: req.ColdWallet,
		Limits:     req.Limits,
	})
	if err != nil {
		return RespondError(c, err)
	}

	return Created(c, fiber.Map{"initialized": true})
}

// CreateTransactionRequest is the transaction creation payload.
type CreateTransactionRequest struct {
	FromWallet string          `json:"fromWallet"`
	ToAddress  string          `json:"toAddress"`
	Amount     decimal.Decimal `json:"amount"`
	Memo       string          `json:"memo"`
	Type       engine.TxType   `json:"type"`
}

// CreateTransaction handles POST /v1/transactions.
func (h *Handler) CreateTransaction(c *fiber.Ctx) error {
	var req CreateTransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondError(c, custody.NewDomainError(custody.ErrorInvalidInput, "body", "cannot parse request body"))
	}

	txID, err := h.engine.CreateTransaction(c.UserContext(), engine.CreateTransactionInput{
		FromWallet: req.FromWallet,
		ToAddress:  req.ToAddress,
		Amount:     req.Amount,
		Memo:       req.Memo,
		Type:       req.Type,
	})
	if err != nil {
		return RespondError(c, err)
	}

	tx, err := h.engine.Transaction(c.UserContext(), txID)
	if err != nil {
		return RespondError(c, err)
	}

	return Created(c, fiber.Map{"transactionId": txID, "transaction": tx})
}

// ApproveTransactionRequest carries the approving guardian address.
type ApproveTransactionRequest struct {
	Guardian string `json:"guardian"`
}

// ApproveTransaction handles POST /v1/transactions/:id/approvals.
func (h *Handler) ApproveTransaction(c *fiber.Ctx) error {
	txID, err := parseTransactionID(c)
	if err != nil {
		return RespondError(c, err)
	}

	var req ApproveTransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondError(c, custody.NewDomainError(custody.ErrorInvalidInput, "body", "cannot parse request body"))
	}

	quorumReached, err := h.engine.ApproveTransaction(c.UserContext(), req.Guardian, txID)
	if err != nil {
		return RespondError(c, err)
	}

	tx, err := h.engine.Transaction(c.UserContext(), txID)
	if err != nil {
		return RespondError(c, err)
	}

	return OK(c, fiber.Map{"quorumReached": quorumReached, "transaction": tx})
}

// EmergencyShutdownRequest carries the initiating guardian address.
type EmergencyShutdownRequest struct {
	Guardian string `json:"guardian"`
}

// EmergencyShutdown handles POST /v1/emergency.
func (h *Handler) EmergencyShutdown(c *fiber.Ctx) error {
	var req EmergencyShutdownRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondError(c, custody.NewDomainError(custody.ErrorInvalidInput, "body", "cannot parse request body"))
	}

	if err := h.engine.EmergencyShutdown(c.UserContext(), req.Guardian); err != nil {
		return RespondError(c, err)
	}

	return OK(c, fiber.Map{"active": true, "initiator": req.Guardian})
}

// GetTransaction handles GET /v1/transactions/:id.
func (h *Handler) GetTransaction(c *fiber.Ctx) error {
	txID, err := parseTransactionID(c)
	if err != nil {
		return RespondError(c, err)
	}

	tx, err := h.engine.Transaction(c.UserContext(), txID)
	if err != nil {
		return RespondError(c, err)
	}

	return OK(c, tx)
}

// GetTransactionCounter handles GET /v1/transactions/counter.
func (h *Handler) GetTransactionCounter(c *fiber.Ctx) error {
	counter, err := h.engine.TransactionCounter(c.UserContext())
	if err != nil {
		return RespondError(c, err)
	}

	return OK(c, fiber.Map{"counter": counter})
}

// GetGuardian handles GET /v1/guardians/:address.
func (h *Handler) GetGuardian(c *fiber.Ctx) error {
	g, err := h.engine.Guardian(c.UserContext(), c.Params("address"))
	if err != nil {
		return RespondError(c, err)
	}

	return OK(c, g)
}

// GetWalletBalance handles GET /v1/wallets/:address/balance.
func (h *Handler) GetWalletBalance(c *fiber.Ctx) error {
	balance, err := h.engine.WalletBalance(c.UserContext(), c.Params("address"))
	if err != nil {
		return RespondError(c, err)
	}

	return OK(c, fiber.Map{"balance": balance})
}

// GetHotBalance handles GET /v1/wallets/hot/balance.
func (h *Handler) GetHotBalance(c *fiber.Ctx) error {
	balance, err := h.engine.HotBalance(c.UserContext())
	if err != nil {
		return RespondError(c, err)
	}

	return OK(c, fiber.Map{"balance": balance})
}

// GetColdBalance handles GET /v1/wallets/cold/balance.
func (h *Handler) GetColdBalance(c *fiber.Ctx) error {
	balance, err := h.engine.ColdBalance(c.UserContext())
	if err != nil {
		return RespondError(c, err)
	}

	return OK(c, fiber.Map{"balance": balance})
}

// GetSystemLimits handles GET /v1/limits.
func (h *Handler) GetSystemLimits(c *fiber.Ctx) error {
	sys, err := h.engine.SystemLimits(c.UserContext())
	if err != nil {
		return RespondError(c, err)
	}

	return OK(c, sys)
}

// GetEmergencyMode handles GET /v1/emergency.
func (h *Handler) GetEmergencyMode(c *fiber.Ctx) error {
	state, err := h.engine.EmergencyMode(c.UserContext())
	if err != nil {
		return RespondError(c, err)
	}

	return OK(c, state)
}

func parseTransactionID(c *fiber.Ctx) (uint64, error) {
	txID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return 0, custody.NewDomainError(custody.ErrorInvalidInput, "id", "transaction id must be a positive integer")
	}

	return txID, nil
}
