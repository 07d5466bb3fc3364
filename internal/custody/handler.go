package custody

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vaultbank/vaultbank/internal/access"
	"github.com/vaultbank/vaultbank/internal/assets"
	"github.com/vaultbank/vaultbank/internal/feeds"
	"github.com/vaultbank/vaultbank/internal/ledger"
	"github.com/vaultbank/vaultbank/internal/settlement"
)

// Handler exposes the custody HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a custody handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Deposit handles POST /accounts/:account/deposits.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	account := c.Params("account")
	var req DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Deposit(c.UserContext(), DepositInput{
		Account: account,
		Asset:   req.Asset,
		Amount:  amount,
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toOperationResponse(result))
}

// Withdraw handles POST /accounts/:account/withdrawals.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	account := c.Params("account")
	var req WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Withdraw(c.UserContext(), WithdrawInput{
		Account: account,
		Asset:   req.Asset,
		Amount:  amount,
		To:      req.To,
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toOperationResponse(result))
}

// Balance handles GET /accounts/:account/balances/:asset.
func (h *Handler) Balance(c *fiber.Ctx) error {
	account := c.Params("account")
	asset := c.Params("asset")

	balance, err := h.service.Balance(c.UserContext(), account, asset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(BalanceResponse{
		Account: account,
		Asset:   assets.Normalize(asset),
		Balance: balance.String(),
	})
}

// Assets handles GET /assets.
func (h *Handler) Assets(c *fiber.Ctx) error {
	infos, err := h.service.Assets(c.UserContext())
	if err != nil {
		return httpError(err)
	}
	out := make([]AssetResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, AssetResponse{Asset: info.Symbol, Decimals: info.Decimals})
	}
	return c.JSON(out)
}

// BankTotal handles GET /assets/:asset/total.
func (h *Handler) BankTotal(c *fiber.Ctx) error {
	asset := c.Params("asset")
	total, err := h.service.BankTotal(c.UserContext(), asset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(TotalResponse{Asset: assets.Normalize(asset), Total: total.String()})
}

// BankTotalUSD handles GET /assets/:asset/total-usd. The value is re-derived
// at the live price and therefore shares the converter's failure modes.
func (h *Handler) BankTotalUSD(c *fiber.Ctx) error {
	asset := c.Params("asset")
	total, err := h.service.BankTotal(c.UserContext(), asset)
	if err != nil {
		return httpError(err)
	}
	value, err := h.service.BankTotalUSD(c.UserContext(), asset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(TotalResponse{
		Asset:    assets.Normalize(asset),
		Total:    total.String(),
		ValueUSD: formatUSD(value),
	})
}

// Exposure handles GET /exposure.
func (h *Handler) Exposure(c *fiber.Ctx) error {
	exposure, err := h.service.Exposure(c.UserContext())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(ExposureResponse{
		ExposureUSD: formatUSD(exposure),
		CapUSD:      formatUSD(h.service.GlobalExposureCap()),
	})
}

// Counters handles GET /counters.
func (h *Handler) Counters(c *fiber.Ctx) error {
	counters, err := h.service.Counters(c.UserContext())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(CountersResponse{Deposits: counters.Deposits, Withdrawals: counters.Withdrawals})
}

// BindFeed handles PUT /admin/feeds/:asset.
func (h *Handler) BindFeed(c *fiber.Ctx) error {
	var req BindFeedRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.BindFeed(c.UserContext(), actor(c), c.Params("asset"), req.Feed); err != nil {
		return httpError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// FeedBindings handles GET /admin/feeds.
func (h *Handler) FeedBindings(c *fiber.Ctx) error {
	bindings, err := h.service.FeedBindings(c.UserContext(), actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(bindings)
}

// RegisterAsset handles POST /admin/assets.
func (h *Handler) RegisterAsset(c *fiber.Ctx) error {
	var req RegisterAssetRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.RegisterAsset(c.UserContext(), actor(c), req.Asset, req.Decimals); err != nil {
		return httpError(err)
	}
	return c.SendStatus(http.StatusCreated)
}

// GrantAdmin handles POST /admin/admins/:account.
func (h *Handler) GrantAdmin(c *fiber.Ctx) error {
	if err := h.service.GrantAdmin(c.UserContext(), actor(c), c.Params("account")); err != nil {
		return httpError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// RevokeAdmin handles DELETE /admin/admins/:account.
func (h *Handler) RevokeAdmin(c *fiber.Ctx) error {
	if err := h.service.RevokeAdmin(c.UserContext(), actor(c), c.Params("account")); err != nil {
		return httpError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func actor(c *fiber.Ctx) string {
	if account, ok := c.Locals("account").(string); ok {
		return account
	}
	return ""
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, errors.New("amount is required")
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	return amount, nil
}

// httpError maps domain sentinels onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, assets.ErrInvalidAsset):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, assets.ErrUnknownAsset):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrNotAuthorized):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrGlobalCapExceeded),
		errors.Is(err, ErrPerTxLimitExceeded),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, feeds.ErrFeedUnavailable),
		errors.Is(err, feeds.ErrNativeFixed),
		errors.Is(err, ledger.ErrAccountingUnderflow),
		errors.Is(err, ErrReentrantCall):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrStaleOrInvalidFeed),
		errors.Is(err, settlement.ErrTransferFailed):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
