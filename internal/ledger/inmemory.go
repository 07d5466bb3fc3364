package ledger

import (
	"context"
	"math/big"
	"sync"
)

type inMemoryLedger struct {
	mu        sync.RWMutex
	balances  map[string]*big.Int // account|asset -> units
	totals    map[string]*big.Int // asset -> units
	exposure  *big.Int            // reference currency, 8 decimals
	deposits  uint64
	withdraws uint64
}

// NewInMemory creates a concurrency-safe in-memory ledger used in development
// and unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances: make(map[string]*big.Int),
		totals:   make(map[string]*big.Int),
		exposure: big.NewInt(0),
	}
}

func vaultKey(account, asset string) string {
	return account + "|" + asset
}

func (l *inMemoryLedger) ApplyDeposit(_ context.Context, account, asset string, amount, converted *big.Int) error {
	if err := validAmounts(amount, converted); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := vaultKey(account, asset)
	balance := l.amountAt(l.balances, key)
	total := l.amountAt(l.totals, asset)

	l.balances[key] = new(big.Int).Add(balance, amount)
	l.totals[asset] = new(big.Int).Add(total, amount)
	l.exposure = new(big.Int).Add(l.exposure, converted)
	l.deposits++
	return nil
}

func (l *inMemoryLedger) ApplyWithdraw(_ context.Context, account, asset string, amount, converted *big.Int) error {
	if err := validAmounts(amount, converted); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := vaultKey(account, asset)
	newBalance := new(big.Int).Sub(l.amountAt(l.balances, key), amount)
	newTotal := new(big.Int).Sub(l.amountAt(l.totals, asset), amount)
	newExposure := new(big.Int).Sub(l.exposure, converted)
	if newBalance.Sign() < 0 || newTotal.Sign() < 0 || newExposure.Sign() < 0 {
		return ErrAccountingUnderflow
	}

	l.balances[key] = newBalance
	l.totals[asset] = newTotal
	l.exposure = newExposure
	l.withdraws++
	return nil
}

func (l *inMemoryLedger) RevertWithdraw(_ context.Context, account, asset string, amount, converted *big.Int) error {
	if err := validAmounts(amount, converted); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := vaultKey(account, asset)
	l.balances[key] = new(big.Int).Add(l.amountAt(l.balances, key), amount)
	l.totals[asset] = new(big.Int).Add(l.amountAt(l.totals, asset), amount)
	l.exposure = new(big.Int).Add(l.exposure, converted)
	if l.withdraws > 0 {
		l.withdraws--
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, account, asset string) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.amountAt(l.balances, vaultKey(account, asset))), nil
}

func (l *inMemoryLedger) BankTotal(_ context.Context, asset string) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.amountAt(l.totals, asset)), nil
}

func (l *inMemoryLedger) Exposure(_ context.Context) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.exposure), nil
}

func (l *inMemoryLedger) Counters(_ context.Context) (Counters, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Counters{Deposits: l.deposits, Withdrawals: l.withdraws}, nil
}

// amountAt reads a sparse entry without materializing it. Callers hold l.mu.
func (l *inMemoryLedger) amountAt(m map[string]*big.Int, key string) *big.Int {
	if v, ok := m[key]; ok {
		return v
	}
	return big.NewInt(0)
}
