package ledger

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrInsufficientBalance occurs when an account lacks the asset units to
	// cover a requested withdrawal.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrAccountingUnderflow indicates a committed mutation would drive a
	// balance, bank total, or the exposure figure negative. The operation
	// fails loudly instead of wrapping or clamping.
	ErrAccountingUnderflow = errors.New("ledger: accounting underflow")
)

// Counters are monotonic operation totals kept for observability only.
type Counters struct {
	Deposits    uint64
	Withdrawals uint64
}

// Ledger owns per-account per-asset vault balances, per-asset bank totals,
// and the incrementally maintained bank-wide USD exposure. Each Apply call is
// atomic: balance, total, exposure and counters move together or not at all.
// Balance sufficiency is a caller precondition for ApplyWithdraw; the ledger
// only guards against arithmetic underflow. Entries are created zero-valued
// on first use and never destroyed.
type Ledger interface {
	ApplyDeposit(ctx context.Context, account, asset string, amount, converted *big.Int) error
	ApplyWithdraw(ctx context.Context, account, asset string, amount, converted *big.Int) error
	// RevertWithdraw restores the state committed by a matching ApplyWithdraw
	// after a settlement failure, so the caller observes failure atomicity.
	RevertWithdraw(ctx context.Context, account, asset string, amount, converted *big.Int) error

	Balance(ctx context.Context, account, asset string) (*big.Int, error)
	BankTotal(ctx context.Context, asset string) (*big.Int, error)
	Exposure(ctx context.Context) (*big.Int, error)
	Counters(ctx context.Context) (Counters, error)
}

func validAmounts(amount, converted *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("ledger: amount must be positive")
	}
	if converted == nil || converted.Sign() < 0 {
		return errors.New("ledger: converted amount must be non-negative")
	}
	return nil
}
