package withdraw

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ligun0805/yield-desk/internal/chain"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrWalletNotConfigured = errors.New("wallet not configured")
	ErrInsufficientGas     = errors.New("treasury needs gas funding")
	ErrInsufficientBalance = errors.New("insufficient treasury balance")
	ErrWithdrawalFailed    = errors.New("withdrawal failed")
)

// NotConfiguredError means no signing account could be obtained.
type NotConfiguredError struct {
	Treasury string
	Hint     string
	Err      error
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("%v: %v", ErrWalletNotConfigured, e.Err)
}

func (e *NotConfiguredError) Unwrap() []error { return []error{ErrWalletNotConfigured, e.Err} }

// InsufficientGasError means the treasury is below the minimum gas balance. Amounts are in wei.
type InsufficientGasError struct {
	Treasury    string
	Current     *big.Int
	Required    *big.Int
	Recommended *big.Int
	Hint        string
}

func (e *InsufficientGasError) Error() string {
	return fmt.Sprintf("%v: balance %s ETH, minimum %s ETH", ErrInsufficientGas, chain.FormatETH(e.Current), chain.FormatETH(e.Required))
}

func (e *InsufficientGasError) Is(target error) bool { return target == ErrInsufficientGas }

// InsufficientBalanceError means the balance can't cover amount plus the gas reserve. Amounts are in wei.
type InsufficientBalanceError struct {
	Balance         *big.Int
	Requested       *big.Int
	Reserve         *big.Int
	MaxWithdrawable *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%v: balance %s ETH, requested %s ETH + reserve %s ETH",
		ErrInsufficientBalance, chain.FormatETH(e.Balance), chain.FormatETH(e.Requested), chain.FormatETH(e.Reserve))
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// FailedError wraps any failure after funding checks passed. TxHash is set once a broadcast happened.
type FailedError struct {
	TxHash string
	Hint   string
	Err    error
}

func (e *FailedError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%v (tx %s): %v", ErrWithdrawalFailed, e.TxHash, e.Err)
	}
	return fmt.Sprintf("%v: %v", ErrWithdrawalFailed, e.Err)
}

func (e *FailedError) Unwrap() []error { return []error{ErrWithdrawalFailed, e.Err} }
