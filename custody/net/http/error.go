package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/openvault/custody-engine/custody"
)

// statusByCode maps custody domain error codes onto HTTP statuses.
var statusByCode = map[custody.ErrorCode]int{
	custody.ErrorAlreadyInitialized:      fiber.StatusConflict,
	custody.ErrorInvalidConfiguration:    fiber.StatusBadRequest,
	custody.ErrorNotInitialized:          fiber.StatusConflict,
	custody.ErrorEmergencyActive:         fiber.StatusLocked,
	custody.ErrorInvalidAmount:           fiber.StatusBadRequest,
	custody.ErrorWalletNotFound:          fiber.StatusNotFound,
	custody.ErrorInsufficientFunds:       fiber.StatusUnprocessableEntity,
	custody.ErrorLimitExceeded:           fiber.StatusUnprocessableEntity,
	custody.ErrorNotAGuardian:            fiber.StatusNotFound,
	custody.ErrorGuardianInactive:        fiber.StatusForbidden,
	custody.ErrorTransactionNotFound:     fiber.StatusNotFound,
	custody.ErrorDuplicateApproval:       fiber.StatusConflict,
	custody.ErrorInvalidTransactionState: fiber.StatusConflict,
	custody.ErrorUnauthorized:            fiber.StatusUnauthorized,
	custody.ErrorInvalidInput:            fiber.StatusBadRequest,
	custody.ErrorDataCorruption:          fiber.StatusInternalServerError,
}

// titleByCode gives each domain code a stable human-readable title.
var titleByCode = map[custody.ErrorCode]string{
	custody.ErrorAlreadyInitialized:      "Already Initialized",
	custody.ErrorInvalidConfiguration:    "Invalid Configuration",
	custody.ErrorNotInitialized:          "Not Initialized",
	custody.ErrorEmergencyActive:         "Emergency Mode Active",
	custody.ErrorInvalidAmount:           "Invalid Amount",
	custody.ErrorWalletNotFound:          "Wallet Not Found",
	custody.ErrorInsufficientFunds:       "Insufficient Funds",
	custody.ErrorLimitExceeded:           "Spending Limit Exceeded",
	custody.ErrorNotAGuardian:            "Not A Guardian",
	custody.ErrorGuardianInactive:        "Guardian Inactive",
	custody.ErrorTransactionNotFound:     "Transaction Not Found",
	custody.ErrorDuplicateApproval:       "Duplicate Approval",
	custody.ErrorInvalidTransactionState: "Invalid Transaction State",
	custody.ErrorUnauthorized:            "Unauthorized",
	custody.ErrorInvalidInput:            "Invalid Input",
	custody.ErrorDataCorruption:          "Data Corruption",
}

// RespondError maps err onto the ErrorResponse schema. Domain errors carry
// their own code and status; anything else becomes an opaque 500 so internal
// details never leak.
func RespondError(c *fiber.Ctx, err error) error {
	var domainErr custody.DomainError
	if errors.As(err, &domainErr) {
		status, ok := statusByCode[domainErr.Code]
		if !ok {
			status = fiber.StatusInternalServerError
		}

		title, ok := titleByCode[domainErr.Code]
		if !ok {
			title = "Custody Error"
		}

		return WriteError(c, status, string(domainErr.Code), title, domainErr.Message)
	}

	return WriteError(c, fiber.StatusInternalServerError, "internal_error", "Internal Error", "internal server error")
}
