package ledger

import "math/big"

// SeedVault is a test helper that credits an account's vault and the matching
// bank total when using the in-memory ledger, preserving the sum invariant.
func SeedVault(l Ledger, account, asset string, amount *big.Int) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		key := vaultKey(account, asset)
		mem.balances[key] = new(big.Int).Add(mem.amountAt(mem.balances, key), amount)
		mem.totals[asset] = new(big.Int).Add(mem.amountAt(mem.totals, asset), amount)
	}
}

// SeedExposure is a test helper that sets the tracked exposure directly.
func SeedExposure(l Ledger, exposure *big.Int) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.exposure = new(big.Int).Set(exposure)
	}
}
