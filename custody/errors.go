package custody

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable domain error code used by custody operations.
type ErrorCode string

const (
	// ErrorAlreadyInitialized indicates the engine was initialized before.
	ErrorAlreadyInitialized ErrorCode = "CST-0001"
	// ErrorInvalidConfiguration indicates invalid initialization input
	// (guardian count, wallet percentages).
	ErrorInvalidConfiguration ErrorCode = "CST-0002"
	// ErrorNotInitialized indicates the engine has not been initialized yet.
	ErrorNotInitialized ErrorCode = "CST-0003"
	// ErrorEmergencyActive indicates emergency mode blocks the operation.
	ErrorEmergencyActive ErrorCode = "CST-0004"
	// ErrorInvalidAmount indicates a non-positive transfer amount.
	ErrorInvalidAmount ErrorCode = "CST-0005"
	// ErrorWalletNotFound indicates the referenced wallet does not exist.
	ErrorWalletNotFound ErrorCode = "CST-0006"
	// ErrorInsufficientFunds indicates the wallet balance cannot cover the amount.
	ErrorInsufficientFunds ErrorCode = "CST-0007"
	// ErrorLimitExceeded indicates a daily or monthly spending cap would be breached.
	ErrorLimitExceeded ErrorCode = "CST-0008"
	// ErrorNotAGuardian indicates the caller is not a registered guardian.
	ErrorNotAGuardian ErrorCode = "CST-0009"
	// ErrorGuardianInactive indicates the guardian exists but is deactivated.
	ErrorGuardianInactive ErrorCode = "CST-0010"
	// ErrorTransactionNotFound indicates the transaction id is unknown.
	ErrorTransactionNotFound ErrorCode = "CST-0011"
	// ErrorDuplicateApproval indicates the guardian already approved this transaction.
	ErrorDuplicateApproval ErrorCode = "CST-0012"
	// ErrorInvalidTransactionState indicates the transaction is not awaiting approval.
	ErrorInvalidTransactionState ErrorCode = "CST-0013"
	// ErrorUnauthorized indicates the caller failed to prove control of the address.
	ErrorUnauthorized ErrorCode = "CST-0014"
	// ErrorInvalidInput indicates request payload validation failed.
	ErrorInvalidInput ErrorCode = "CST-0015"
	// ErrorDataCorruption indicates persisted engine state cannot be decoded.
	ErrorDataCorruption ErrorCode = "CST-0016"
)

// DomainError represents a structured custody domain error.
type DomainError struct {
	Code    ErrorCode
	Field   string
	Message string
}

// Error returns the formatted domain error string.
func (e DomainError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
}

// NewDomainError creates a domain error with code, field, and message.
func NewDomainError(code ErrorCode, field, message string) error {
	return DomainError{Code: code, Field: field, Message: message}
}

// CodeOf extracts the domain error code from err, or an empty code when err
// is not a DomainError.
func CodeOf(err error) ErrorCode {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}

	return ""
}
