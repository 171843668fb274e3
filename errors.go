package dca

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrAccountNotFound is returned when an operation requires a registered
	// account and the owner has never called SetUpAccount.
	ErrAccountNotFound = errors.New("account not found in registry")
	// ErrInsufficientBalance is returned when a deduction would push a
	// prepaid execution-fee balance below zero.
	ErrInsufficientBalance = errors.New("insufficient swap balance")
	// ErrUnauthorized is returned when a privileged operation is attempted
	// by an identity other than the configured executor.
	ErrUnauthorized = errors.New("caller is not the executor")
	// ErrInvalidInterval is returned when an execution interval is not
	// strictly positive.
	ErrInvalidInterval = errors.New("interval must be positive")
	// ErrInvalidAmount is returned when a swap amount or deposit is nil or
	// not strictly positive.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// ScanError is returned when an external probe (token balance, allowance,
// gas price) fails while evaluating a single account during a scan. The
// account is skipped, not the whole scan.
type ScanError struct {
	Owner common.Address
	Err   error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan: failed to evaluate account %s: %v", e.Owner.Hex(), e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// ExecutionError indicates a failure in the keeper's post-swap bookkeeping
// (advancing the schedule or deducting the fee) for a due account.
type ExecutionError struct {
	Owner common.Address
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("keeper: execution failed for account %s: %v", e.Owner.Hex(), e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// determineErrorType maps an error to the label used by the errors metric.
func determineErrorType(err error) string {
	var scanErr *ScanError
	var execErr *ExecutionError
	switch {
	case errors.As(err, &scanErr):
		return "scan"
	case errors.As(err, &execErr):
		return "execution"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "unknown"
	}
}
