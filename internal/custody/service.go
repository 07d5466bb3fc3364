package custody

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultbank/vaultbank/internal/access"
	"github.com/vaultbank/vaultbank/internal/assets"
	"github.com/vaultbank/vaultbank/internal/feeds"
	"github.com/vaultbank/vaultbank/internal/ledger"
	"github.com/vaultbank/vaultbank/internal/metrics"
	"github.com/vaultbank/vaultbank/internal/settlement"
)

// Limits are the two security-critical caps, fixed at construction. They are
// deliberately not reachable from any admin operation.
type Limits struct {
	// PerTxWithdrawLimit is denominated in native smallest units and is
	// converted through the native feed on every withdrawal check.
	PerTxWithdrawLimit *big.Int
	// GlobalExposureCap is denominated in reference currency units
	// (8 decimals) and bounds the tracked bank-wide exposure.
	GlobalExposureCap *big.Int
}

// Service orchestrates deposits and withdrawals over the ledger, converter,
// settlement gateway and access controller. Operations are strictly serial
// per instance: a mutex admits one request at a time, and an in-progress
// marker on the outgoing context rejects re-entrant calls from oracle or
// settlement callbacks instead of deadlocking.
type Service struct {
	mu        sync.Mutex
	ledger    ledger.Ledger
	converter *Converter
	feeds     *feeds.Registry
	assets    assets.Registry
	access    access.Controller
	gateway   settlement.Gateway
	logger    *slog.Logger
	limits    Limits
}

// NewService builds the custody service. Both limits must be positive.
func NewService(limits Limits, backend ledger.Ledger, converter *Converter, registry *feeds.Registry,
	assetRegistry assets.Registry, controller access.Controller, gateway settlement.Gateway,
	logger *slog.Logger) (*Service, error) {
	if limits.PerTxWithdrawLimit == nil || limits.PerTxWithdrawLimit.Sign() <= 0 {
		return nil, fmt.Errorf("custody: per-transaction withdraw limit must be positive")
	}
	if limits.GlobalExposureCap == nil || limits.GlobalExposureCap.Sign() <= 0 {
		return nil, fmt.Errorf("custody: global exposure cap must be positive")
	}
	return &Service{
		ledger:    backend,
		converter: converter,
		feeds:     registry,
		assets:    assetRegistry,
		access:    controller,
		gateway:   gateway,
		logger:    logger,
		limits: Limits{
			PerTxWithdrawLimit: new(big.Int).Set(limits.PerTxWithdrawLimit),
			GlobalExposureCap:  new(big.Int).Set(limits.GlobalExposureCap),
		},
	}, nil
}

type inFlightKey struct{}

// enter serializes mutating operations and stamps the context so re-entrant
// calls made from within an external call fail fast with ErrReentrantCall.
func (s *Service) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(inFlightKey{}) != nil {
		return nil, nil, ErrReentrantCall
	}
	s.mu.Lock()
	return context.WithValue(ctx, inFlightKey{}, struct{}{}), s.mu.Unlock, nil
}

// DepositInput captures a deposit request. Native deposits arrive with funds
// already settled; token deposits are pulled through the gateway after the
// cap check passes.
type DepositInput struct {
	Account string
	Asset   string
	Amount  *big.Int
}

// WithdrawInput captures a withdrawal request. To defaults to the account.
type WithdrawInput struct {
	Account string
	Asset   string
	Amount  *big.Int
	To      string
}

// OperationResult is the domain outcome of a committed deposit or withdrawal.
type OperationResult struct {
	TransactionID string
	Account       string
	Asset         string
	Amount        *big.Int
	ValueUSD      *big.Int
	Balance       *big.Int
	CompletedAt   time.Time
}

// Deposit runs the Validating -> Converting -> Enforcing -> Committing
// pipeline for a deposit. A rejected native deposit refunds the already
// received funds through the gateway before surfacing the rejection.
func (s *Service) Deposit(ctx context.Context, in DepositInput) (OperationResult, error) {
	ctx, release, err := s.enter(ctx)
	if err != nil {
		metrics.Operations.WithLabelValues("deposit", "reentrant").Inc()
		return OperationResult{}, err
	}
	defer release()

	account := strings.TrimSpace(in.Account)
	asset := assets.Normalize(in.Asset)
	if account == "" {
		return OperationResult{}, fmt.Errorf("custody: account is required")
	}
	native := asset == assets.Native
	if in.Amount == nil || in.Amount.Sign() <= 0 {
		return s.rejectDeposit(ctx, native, account, asset, in.Amount, ErrInvalidAmount)
	}
	amount := new(big.Int).Set(in.Amount)

	converted, err := s.converter.Convert(ctx, asset, amount)
	if err != nil {
		return s.rejectDeposit(ctx, native, account, asset, amount, err)
	}

	exposure, err := s.ledger.Exposure(ctx)
	if err != nil {
		return s.rejectDeposit(ctx, native, account, asset, amount, err)
	}
	// Boundary is inclusive: landing exactly at the cap is accepted.
	if new(big.Int).Add(exposure, converted).Cmp(s.limits.GlobalExposureCap) > 0 {
		return s.rejectDeposit(ctx, native, account, asset, amount, ErrGlobalCapExceeded)
	}

	if !native {
		if err := s.gateway.TransferIn(ctx, asset, account, amount); err != nil {
			metrics.Operations.WithLabelValues("deposit", "transfer_failed").Inc()
			return OperationResult{}, fmt.Errorf("%w: %v", settlement.ErrTransferFailed, err)
		}
	}

	if err := s.ledger.ApplyDeposit(ctx, account, asset, amount, converted); err != nil {
		// Funds were already received; push them back before failing.
		s.refund(ctx, account, asset, amount)
		metrics.Operations.WithLabelValues("deposit", "ledger_error").Inc()
		return OperationResult{}, err
	}

	balance, err := s.ledger.Balance(ctx, account, asset)
	if err != nil {
		balance = big.NewInt(0)
	}
	s.observeExposure(ctx)
	metrics.Operations.WithLabelValues("deposit", "committed").Inc()

	result := OperationResult{
		TransactionID: uuid.NewString(),
		Account:       account,
		Asset:         asset,
		Amount:        amount,
		ValueUSD:      converted,
		Balance:       balance,
		CompletedAt:   time.Now().UTC(),
	}
	s.logger.Info("deposit committed",
		slog.String("tx_id", result.TransactionID),
		slog.String("account", account),
		slog.String("asset", asset),
		slog.String("amount", amount.String()),
		slog.String("value_usd", converted.String()),
	)
	return result, nil
}

// Withdraw runs the withdrawal pipeline. Accounting commits before the
// settlement call; a settlement failure reverts the committed debit so the
// caller observes zero state change.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (OperationResult, error) {
	ctx, release, err := s.enter(ctx)
	if err != nil {
		metrics.Operations.WithLabelValues("withdraw", "reentrant").Inc()
		return OperationResult{}, err
	}
	defer release()

	account := strings.TrimSpace(in.Account)
	asset := assets.Normalize(in.Asset)
	if account == "" {
		return OperationResult{}, fmt.Errorf("custody: account is required")
	}
	if in.Amount == nil || in.Amount.Sign() <= 0 {
		metrics.Operations.WithLabelValues("withdraw", "invalid_amount").Inc()
		return OperationResult{}, ErrInvalidAmount
	}
	amount := new(big.Int).Set(in.Amount)
	to := strings.TrimSpace(in.To)
	if to == "" {
		to = account
	}

	// The nominal ceiling is native-denominated; both sides of the limit
	// check use live prices so enforcement tracks native price drift too.
	limitUSD, err := s.converter.Convert(ctx, assets.Native, s.limits.PerTxWithdrawLimit)
	if err != nil {
		metrics.Operations.WithLabelValues("withdraw", "feed_error").Inc()
		return OperationResult{}, err
	}
	converted, err := s.converter.Convert(ctx, asset, amount)
	if err != nil {
		metrics.Operations.WithLabelValues("withdraw", "feed_error").Inc()
		return OperationResult{}, err
	}
	if converted.Cmp(limitUSD) > 0 {
		metrics.Operations.WithLabelValues("withdraw", "limit_exceeded").Inc()
		return OperationResult{}, ErrPerTxLimitExceeded
	}

	balance, err := s.ledger.Balance(ctx, account, asset)
	if err != nil {
		return OperationResult{}, err
	}
	if balance.Cmp(amount) < 0 {
		metrics.Operations.WithLabelValues("withdraw", "insufficient_balance").Inc()
		return OperationResult{}, ledger.ErrInsufficientBalance
	}

	if err := s.ledger.ApplyWithdraw(ctx, account, asset, amount, converted); err != nil {
		metrics.Operations.WithLabelValues("withdraw", "ledger_error").Inc()
		return OperationResult{}, err
	}

	if err := s.gateway.TransferOut(ctx, asset, to, amount); err != nil {
		if rerr := s.ledger.RevertWithdraw(ctx, account, asset, amount, converted); rerr != nil {
			// The debit is committed but the units never moved and the revert
			// failed too; this state demands operator intervention.
			s.logger.Error("withdraw revert failed after settlement failure",
				slog.String("account", account),
				slog.String("asset", asset),
				slog.String("amount", amount.String()),
				slog.Any("settlement_error", err),
				slog.Any("revert_error", rerr),
			)
		}
		metrics.Operations.WithLabelValues("withdraw", "transfer_failed").Inc()
		return OperationResult{}, fmt.Errorf("%w: %v", settlement.ErrTransferFailed, err)
	}

	remaining, err := s.ledger.Balance(ctx, account, asset)
	if err != nil {
		remaining = big.NewInt(0)
	}
	s.observeExposure(ctx)
	metrics.Operations.WithLabelValues("withdraw", "committed").Inc()

	result := OperationResult{
		TransactionID: uuid.NewString(),
		Account:       account,
		Asset:         asset,
		Amount:        amount,
		ValueUSD:      converted,
		Balance:       remaining,
		CompletedAt:   time.Now().UTC(),
	}
	s.logger.Info("withdrawal committed",
		slog.String("tx_id", result.TransactionID),
		slog.String("account", account),
		slog.String("asset", asset),
		slog.String("amount", amount.String()),
		slog.String("value_usd", converted.String()),
		slog.String("to", to),
	)
	return result, nil
}

// rejectDeposit surfaces a deposit rejection. Native deposits already carry
// settled funds, so the rejection refunds them first.
func (s *Service) rejectDeposit(ctx context.Context, native bool, account, asset string, amount *big.Int, cause error) (OperationResult, error) {
	if native && amount != nil && amount.Sign() > 0 {
		s.refund(ctx, account, asset, amount)
	}
	metrics.Operations.WithLabelValues("deposit", "rejected").Inc()
	return OperationResult{}, cause
}

func (s *Service) refund(ctx context.Context, account, asset string, amount *big.Int) {
	if err := s.gateway.TransferOut(ctx, asset, account, amount); err != nil {
		s.logger.Error("deposit refund failed",
			slog.String("account", account),
			slog.String("asset", asset),
			slog.String("amount", amount.String()),
			slog.Any("error", err),
		)
	}
}

func (s *Service) observeExposure(ctx context.Context) {
	exposure, err := s.ledger.Exposure(ctx)
	if err != nil {
		return
	}
	metrics.SetExposure(exposure)
}

// BindFeed binds a price feed handle for an asset. Admin only.
func (s *Service) BindFeed(ctx context.Context, actor, asset, handle string) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	if err := s.feeds.Bind(asset, handle); err != nil {
		return err
	}
	s.logger.Info("feed bound",
		slog.String("actor", actor),
		slog.String("asset", assets.Normalize(asset)),
		slog.String("feed", handle),
	)
	return nil
}

// FeedBindings returns the current feed bindings. Admin only.
func (s *Service) FeedBindings(ctx context.Context, actor string) (map[string]string, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return s.feeds.Bindings(), nil
}

// RegisterAsset records a token's decimal precision. Admin only.
func (s *Service) RegisterAsset(ctx context.Context, actor, asset string, decimals uint8) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	if err := s.assets.Register(ctx, asset, decimals); err != nil {
		return err
	}
	s.logger.Info("asset registered",
		slog.String("actor", actor),
		slog.String("asset", assets.Normalize(asset)),
		slog.Int("decimals", int(decimals)),
	)
	return nil
}

// GrantAdmin adds an account to the admin set; authorization is delegated to
// the access controller.
func (s *Service) GrantAdmin(ctx context.Context, actor, account string) error {
	return s.access.Grant(ctx, actor, account)
}

// RevokeAdmin removes an account from the admin set.
func (s *Service) RevokeAdmin(ctx context.Context, actor, account string) error {
	return s.access.Revoke(ctx, actor, account)
}

func (s *Service) requireAdmin(ctx context.Context, actor string) error {
	ok, err := s.access.IsAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", access.ErrNotAuthorized, strings.TrimSpace(actor))
	}
	return nil
}

// Balance returns the vault balance for (account, asset).
func (s *Service) Balance(ctx context.Context, account, asset string) (*big.Int, error) {
	return s.ledger.Balance(ctx, strings.TrimSpace(account), assets.Normalize(asset))
}

// BankTotal returns the aggregate units held for an asset.
func (s *Service) BankTotal(ctx context.Context, asset string) (*big.Int, error) {
	return s.ledger.BankTotal(ctx, assets.Normalize(asset))
}

// BankTotalUSD re-derives the reference value of an asset's bank total at the
// current price. It can fail with feed errors and can differ from the
// incrementally tracked exposure; the divergence is intentional.
func (s *Service) BankTotalUSD(ctx context.Context, asset string) (*big.Int, error) {
	symbol := assets.Normalize(asset)
	total, err := s.ledger.BankTotal(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if total.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return s.converter.Convert(ctx, symbol, total)
}

// Exposure returns the tracked bank-wide USD exposure.
func (s *Service) Exposure(ctx context.Context) (*big.Int, error) {
	return s.ledger.Exposure(ctx)
}

// GlobalExposureCap returns a copy of the immutable cap.
func (s *Service) GlobalExposureCap() *big.Int {
	return new(big.Int).Set(s.limits.GlobalExposureCap)
}

// PerTxWithdrawLimit returns a copy of the immutable native-denominated
// withdrawal ceiling.
func (s *Service) PerTxWithdrawLimit() *big.Int {
	return new(big.Int).Set(s.limits.PerTxWithdrawLimit)
}

// Counters returns the monotonic deposit/withdraw totals.
func (s *Service) Counters(ctx context.Context) (ledger.Counters, error) {
	return s.ledger.Counters(ctx)
}

// Assets lists the registered assets.
func (s *Service) Assets(ctx context.Context) ([]assets.Info, error) {
	return s.assets.List(ctx)
}
