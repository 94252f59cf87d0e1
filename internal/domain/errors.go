package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrLockHeld       = errors.New("lock already held")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidInput   = errors.New("invalid input")

	ErrDailyCapExceeded        = errors.New("daily funding cap exceeded")
	ErrInsufficientPoolBalance = errors.New("insufficient pool balance")
	ErrIssueAlreadyFunded      = errors.New("issue already funded")
	ErrInvalidState            = errors.New("invalid state transition")
	ErrAlreadyClaimed          = errors.New("reward already claimed")
	ErrDistributionInProgress  = errors.New("distribution in progress")
	ErrChainExecutionFailed    = errors.New("chain execution failed")
)

// ChainFailureKind classifies a failed chain execution.
type ChainFailureKind string

const (
	ChainReverted        ChainFailureKind = "reverted"
	ChainTimeout         ChainFailureKind = "timeout"
	ChainInsufficientGas ChainFailureKind = "insufficient_gas"
)

// ChainError is the typed failure reported by a ChainAdapter. It unwraps to
// ErrChainExecutionFailed so callers can match either the category or the
// concrete kind.
type ChainError struct {
	Kind   ChainFailureKind
	TxHash string
	Err    error
}

func (e *ChainError) Error() string {
	msg := fmt.Sprintf("chain execution %s", e.Kind)
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ChainError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrChainExecutionFailed, e.Err}
	}
	return []error{ErrChainExecutionFailed}
}

// Retryable reports whether the failure may be retried automatically. Only
// timeouts qualify; a revert needs an operator to look at it before funds
// move again.
func (e *ChainError) Retryable() bool {
	return e.Kind == ChainTimeout
}

// errorCodes maps sentinels to stable machine-readable codes.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidAddress, "invalid_address"},
	{ErrInvalidInput, "invalid_input"},
	{ErrUnauthorized, "unauthorized"},
	{ErrDailyCapExceeded, "daily_cap_exceeded"},
	{ErrInsufficientPoolBalance, "insufficient_pool_balance"},
	{ErrIssueAlreadyFunded, "issue_already_funded"},
	{ErrInvalidState, "invalid_state"},
	{ErrAlreadyClaimed, "already_claimed"},
	{ErrDistributionInProgress, "distribution_in_progress"},
	{ErrLockHeld, "distribution_in_progress"},
	{ErrChainExecutionFailed, "chain_execution_failed"},
	{ErrNotFound, "not_found"},
	{ErrRateLimited, "rate_limited"},
}

// ErrorCode returns the code of the first sentinel err matches, or
// "internal".
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal"
}
