package custody

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/vaultbank/vaultbank/internal/access"
	"github.com/vaultbank/vaultbank/internal/assets"
	"github.com/vaultbank/vaultbank/internal/feeds"
	"github.com/vaultbank/vaultbank/internal/ledger"
	"github.com/vaultbank/vaultbank/internal/logging"
	"github.com/vaultbank/vaultbank/internal/oracle"
)

type movement struct {
	asset   string
	account string
	amount  *big.Int
}

// fakeGateway is a scriptable settlement double. The TransferOut hook lets
// tests simulate callbacks from the settlement layer.
type fakeGateway struct {
	mu            sync.Mutex
	failIn        bool
	failOut       bool
	ins           []movement
	outs          []movement
	onTransferOut func(ctx context.Context)
}

func (g *fakeGateway) TransferIn(_ context.Context, asset, from string, amount *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failIn {
		return errors.New("fake gateway: transfer in refused")
	}
	g.ins = append(g.ins, movement{asset: asset, account: from, amount: new(big.Int).Set(amount)})
	return nil
}

func (g *fakeGateway) TransferOut(ctx context.Context, asset, to string, amount *big.Int) error {
	g.mu.Lock()
	hook := g.onTransferOut
	fail := g.failOut
	g.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	if fail {
		return errors.New("fake gateway: transfer out refused")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outs = append(g.outs, movement{asset: asset, account: to, amount: new(big.Int).Set(amount)})
	return nil
}

type fixture struct {
	svc      *Service
	led      ledger.Ledger
	adapter  *oracle.Static
	gateway  *fakeGateway
	registry *feeds.Registry
	assets   assets.Registry
}

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad test amount " + s)
	}
	return v
}

// newFixture builds a service over the in-memory ledger with a 20000 USD
// exposure cap and a 1-native per-transaction withdrawal ceiling, plus a
// registered 8-decimal token USDX priced at 1 USD.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry, err := feeds.NewRegistry("native-usd")
	if err != nil {
		t.Fatalf("feed registry: %v", err)
	}
	adapter := oracle.NewStatic()
	assetRegistry := assets.NewMemoryRegistry()
	controller, err := access.NewMemoryController("ops")
	if err != nil {
		t.Fatalf("access controller: %v", err)
	}
	led := ledger.NewInMemory()
	gateway := &fakeGateway{}

	converter := NewConverter(registry, adapter, assetRegistry)
	svc, err := NewService(Limits{
		PerTxWithdrawLimit: wei("1000000000000000000"), // 1 native unit
		GlobalExposureCap:  wei("2000000000000"),       // 20000.00000000 USD
	}, led, converter, registry, assetRegistry, controller, gateway, logging.Discard())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	// Native at 2000.00000000 USD.
	adapter.SetRound("native-usd", big.NewInt(200_000_000_000), 1_700_000_000, 1)

	ctx := context.Background()
	if err := assetRegistry.Register(ctx, "USDX", 8); err != nil {
		t.Fatalf("register USDX: %v", err)
	}
	if err := registry.Bind("USDX", "usdx-usd"); err != nil {
		t.Fatalf("bind USDX: %v", err)
	}
	// USDX at 1.00000000 USD.
	adapter.SetRound("usdx-usd", big.NewInt(100_000_000), 1_700_000_000, 1)

	return &fixture{svc: svc, led: led, adapter: adapter, gateway: gateway, registry: registry, assets: assetRegistry}
}

func (f *fixture) exposure(t *testing.T) *big.Int {
	t.Helper()
	exposure, err := f.led.Exposure(context.Background())
	if err != nil {
		t.Fatalf("exposure: %v", err)
	}
	return exposure
}

func (f *fixture) balance(t *testing.T, account, asset string) *big.Int {
	t.Helper()
	balance, err := f.led.Balance(context.Background(), account, asset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func TestDepositGlobalCapScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 5 native units are worth exactly 10000.00000000 USD at 2000 USD each.
	half := wei("5000000000000000000")
	for i := 0; i < 2; i++ {
		if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: assets.Native, Amount: half}); err != nil {
			t.Fatalf("deposit %d: %v", i+1, err)
		}
	}
	if got := f.exposure(t); got.Cmp(wei("2000000000000")) != 0 {
		t.Fatalf("expected exposure at cap, got %s", got)
	}

	// Bank is exactly at the cap; anything with positive value must fail.
	_, err := f.svc.Deposit(ctx, DepositInput{Account: "bob", Asset: assets.Native, Amount: wei("1000000000000")})
	if !errors.Is(err, ErrGlobalCapExceeded) {
		t.Fatalf("expected global cap exceeded, got %v", err)
	}
	if got := f.balance(t, "bob", assets.Native); got.Sign() != 0 {
		t.Fatalf("rejected deposit credited balance %s", got)
	}
	if got := f.exposure(t); got.Cmp(wei("2000000000000")) != 0 {
		t.Fatalf("rejected deposit moved exposure to %s", got)
	}
}

func TestDepositCapBoundaryInclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Exactly the cap in one deposit: 10 native = 20000 USD.
	if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: assets.Native, Amount: wei("10000000000000000000")}); err != nil {
		t.Fatalf("deposit landing at cap must be accepted: %v", err)
	}

	f2 := newFixture(t)
	// One priced unit above the cap must be rejected outright.
	_, err := f2.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: assets.Native, Amount: wei("10000000000000000001")})
	if !errors.Is(err, ErrGlobalCapExceeded) {
		t.Fatalf("expected global cap exceeded, got %v", err)
	}
}

func TestDepositTokenPullsFundsAfterEnforcement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(50_000_000_000)})
	if err != nil {
		t.Fatalf("token deposit: %v", err)
	}
	if result.ValueUSD.Int64() != 50_000_000_000 {
		t.Fatalf("unexpected USD value %s", result.ValueUSD)
	}
	if len(f.gateway.ins) != 1 || f.gateway.ins[0].asset != "USDX" {
		t.Fatalf("expected one token pull, got %+v", f.gateway.ins)
	}

	// A cap rejection must never pull funds.
	_, err = f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: "USDX", Amount: wei("10000000000000")})
	if !errors.Is(err, ErrGlobalCapExceeded) {
		t.Fatalf("expected cap rejection, got %v", err)
	}
	if len(f.gateway.ins) != 1 {
		t.Fatalf("rejected deposit pulled funds: %+v", f.gateway.ins)
	}
}

func TestNativeDepositRejectionRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Native deposits carry settled funds; a cap rejection must push them back.
	_, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: assets.Native, Amount: wei("20000000000000000000")})
	if !errors.Is(err, ErrGlobalCapExceeded) {
		t.Fatalf("expected cap rejection, got %v", err)
	}
	if len(f.gateway.outs) != 1 {
		t.Fatalf("expected one refund, got %+v", f.gateway.outs)
	}
	refund := f.gateway.outs[0]
	if refund.account != "alice" || refund.asset != assets.Native || refund.amount.Cmp(wei("20000000000000000000")) != 0 {
		t.Fatalf("unexpected refund %+v", refund)
	}
	if got := f.exposure(t); got.Sign() != 0 {
		t.Fatalf("rejected native deposit moved exposure to %s", got)
	}
}

func TestWithdrawPerTxLimitScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Limit is 1 native = 2000.00000000 USD at the current price. Fund alice
	// with plenty of USDX so only the limit can reject.
	if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: "USDX", Amount: wei("1000000000000")}); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	// Worth 2000.00000001 USD: one reference unit over the converted limit.
	_, err := f.svc.Withdraw(ctx, WithdrawInput{Account: "alice", Asset: "USDX", Amount: wei("200000000001")})
	if !errors.Is(err, ErrPerTxLimitExceeded) {
		t.Fatalf("expected per-tx limit exceeded, got %v", err)
	}

	// Exactly at the limit succeeds.
	if _, err := f.svc.Withdraw(ctx, WithdrawInput{Account: "alice", Asset: "USDX", Amount: wei("200000000000")}); err != nil {
		t.Fatalf("withdrawal at the limit must be accepted: %v", err)
	}
}

func TestWithdrawLimitRejectedRegardlessOfBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No balance at all: the limit check still fires first.
	_, err := f.svc.Withdraw(ctx, WithdrawInput{Account: "ghost", Asset: "USDX", Amount: wei("999900000000000")})
	if !errors.Is(err, ErrPerTxLimitExceeded) {
		t.Fatalf("expected per-tx limit exceeded, got %v", err)
	}
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(100_000_000)}); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	_, err := f.svc.Withdraw(ctx, WithdrawInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(200_000_000)})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if got := f.balance(t, "alice", "USDX"); got.Int64() != 100_000_000 {
		t.Fatalf("balance changed on rejected withdrawal: %s", got)
	}
}

func TestWithdrawSettlementFailureIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(100_000_000_000)}); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	exposureBefore := f.exposure(t)
	f.gateway.failOut = true

	_, err := f.svc.Withdraw(ctx, WithdrawInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(50_000_000_000)})
	if err == nil {
		t.Fatalf("expected settlement failure")
	}
	if got := f.balance(t, "alice", "USDX"); got.Int64() != 100_000_000_000 {
		t.Fatalf("settlement failure leaked balance change: %s", got)
	}
	if got := f.exposure(t); got.Cmp(exposureBefore) != 0 {
		t.Fatalf("settlement failure leaked exposure change: %s", got)
	}
	counters, _ := f.led.Counters(ctx)
	if counters.Withdrawals != 0 {
		t.Fatalf("settlement failure leaked counter change: %+v", counters)
	}
}

func TestZeroAmountAlwaysInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, asset := range []string{assets.Native, "USDX"} {
		if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: asset, Amount: big.NewInt(0)}); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("deposit %s: expected invalid amount, got %v", asset, err)
		}
		if _, err := f.svc.Withdraw(ctx, WithdrawInput{Account: "alice", Asset: asset, Amount: big.NewInt(0)}); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("withdraw %s: expected invalid amount, got %v", asset, err)
		}
	}
	if got := f.exposure(t); got.Sign() != 0 {
		t.Fatalf("zero-amount requests touched state: exposure %s", got)
	}
	counters, _ := f.led.Counters(ctx)
	if counters.Deposits != 0 || counters.Withdrawals != 0 {
		t.Fatalf("zero-amount requests moved counters: %+v", counters)
	}
}

func TestUnboundFeedThenBindAndRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.assets.Register(ctx, "GEM", 18); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: "GEM", Amount: wei("1000000000000000000")})
	if !errors.Is(err, feeds.ErrFeedUnavailable) {
		t.Fatalf("expected feed unavailable, got %v", err)
	}

	if err := f.svc.BindFeed(ctx, "ops", "GEM", "gem-usd"); err != nil {
		t.Fatalf("bind feed: %v", err)
	}
	f.adapter.SetRound("gem-usd", big.NewInt(500_000_000), 1_700_000_000, 1)

	if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: "GEM", Amount: wei("1000000000000000000")}); err != nil {
		t.Fatalf("deposit after binding: %v", err)
	}
}

func TestStaleFeedBlocksEveryOperation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(100_000_000)}); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	exposureBefore := f.exposure(t)

	// updatedAt == 0 marks the answer as untimed.
	f.adapter.SetRound("usdx-usd", big.NewInt(100_000_000), 0, 2)

	if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(100_000_000)}); !errors.Is(err, ErrStaleOrInvalidFeed) {
		t.Fatalf("deposit: expected stale feed, got %v", err)
	}
	if _, err := f.svc.Withdraw(ctx, WithdrawInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(100_000_000)}); !errors.Is(err, ErrStaleOrInvalidFeed) {
		t.Fatalf("withdraw: expected stale feed, got %v", err)
	}
	if _, err := f.svc.BankTotalUSD(ctx, "USDX"); !errors.Is(err, ErrStaleOrInvalidFeed) {
		t.Fatalf("view: expected stale feed, got %v", err)
	}
	if got := f.exposure(t); got.Cmp(exposureBefore) != 0 {
		t.Fatalf("stale feed rejections moved exposure to %s", got)
	}
}

func TestExposureUnderflowOnPriceDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Deposit 1 native at 2000 USD, then the price rises to 5000 USD: half a
	// unit now converts to more than the whole residual exposure.
	if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: assets.Native, Amount: wei("1000000000000000000")}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.adapter.SetRound("native-usd", big.NewInt(500_000_000_000), 1_700_000_100, 2)

	_, err := f.svc.Withdraw(ctx, WithdrawInput{Account: "alice", Asset: assets.Native, Amount: wei("500000000000000000")})
	if !errors.Is(err, ledger.ErrAccountingUnderflow) {
		t.Fatalf("expected accounting underflow, got %v", err)
	}
	if got := f.balance(t, "alice", assets.Native); got.Cmp(wei("1000000000000000000")) != 0 {
		t.Fatalf("underflow rejection changed balance: %s", got)
	}
}

func TestReentrantCallbackRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(10_000_000_000)}); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	var reentrantErr error
	f.gateway.onTransferOut = func(ctx context.Context) {
		_, reentrantErr = f.svc.Withdraw(ctx, WithdrawInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(1_000_000)})
	}

	if _, err := f.svc.Withdraw(ctx, WithdrawInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(5_000_000_000)}); err != nil {
		t.Fatalf("outer withdraw: %v", err)
	}
	if !errors.Is(reentrantErr, ErrReentrantCall) {
		t.Fatalf("expected reentrant call rejection, got %v", reentrantErr)
	}
}

func TestBankTotalUSDDivergesFromTrackedExposure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: assets.Native, Amount: wei("1000000000000000000")}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Price moves from 2000 to 3000: the live view follows, the tracked
	// exposure keeps its deposit-time mark.
	f.adapter.SetRound("native-usd", big.NewInt(300_000_000_000), 1_700_000_100, 2)

	live, err := f.svc.BankTotalUSD(ctx, assets.Native)
	if err != nil {
		t.Fatalf("bank total usd: %v", err)
	}
	tracked, _ := f.svc.Exposure(ctx)
	if live.Cmp(wei("300000000000")) != 0 {
		t.Fatalf("expected live value 300000000000, got %s", live)
	}
	if tracked.Cmp(wei("200000000000")) != 0 {
		t.Fatalf("expected tracked exposure 200000000000, got %s", tracked)
	}
}

func TestCountersTrackCommittedOperationsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(10_000_000_000)}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.svc.Withdraw(ctx, WithdrawInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(1_000_000_000)}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// Two rejections that must not count.
	f.svc.Deposit(ctx, DepositInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(0)})                 // nolint:errcheck
	f.svc.Withdraw(ctx, WithdrawInput{Account: "alice", Asset: "USDX", Amount: big.NewInt(999_000_000_000)}) // nolint:errcheck

	counters, err := f.svc.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters.Deposits != 1 || counters.Withdrawals != 1 {
		t.Fatalf("unexpected counters %+v", counters)
	}
}

func TestAdminGatingOnFeedAndAssetOps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.BindFeed(ctx, "mallory", "GEM", "gem-usd"); !errors.Is(err, access.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	if err := f.svc.RegisterAsset(ctx, "mallory", "GEM", 18); !errors.Is(err, access.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}

	if err := f.svc.GrantAdmin(ctx, "ops", "mallory"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := f.svc.RegisterAsset(ctx, "mallory", "GEM", 18); err != nil {
		t.Fatalf("register after grant: %v", err)
	}
	if err := f.svc.BindFeed(ctx, "mallory", "GEM", "gem-usd"); err != nil {
		t.Fatalf("bind after grant: %v", err)
	}
}

func TestVaultTotalsInvariantAcrossMixedOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deposits := []struct {
		account string
		amount  int64
	}{
		{"alice", 40_000_000_000},
		{"bob", 25_000_000_000},
		{"carol", 10_000_000_000},
	}
	for _, d := range deposits {
		if _, err := f.svc.Deposit(ctx, DepositInput{Account: d.account, Asset: "USDX", Amount: big.NewInt(d.amount)}); err != nil {
			t.Fatalf("deposit %s: %v", d.account, err)
		}
	}
	if _, err := f.svc.Withdraw(ctx, WithdrawInput{Account: "bob", Asset: "USDX", Amount: big.NewInt(5_000_000_000)}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	sum := big.NewInt(0)
	for _, account := range []string{"alice", "bob", "carol"} {
		sum.Add(sum, f.balance(t, account, "USDX"))
	}
	total, _ := f.svc.BankTotal(ctx, "USDX")
	if sum.Cmp(total) != 0 {
		t.Fatalf("sum of vaults %s != bank total %s", sum, total)
	}
}
