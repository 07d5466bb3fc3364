package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vaultbank/vaultbank/internal/custody"
)

// RegisterCustodyRoutes wires the public custody surface. Deposits and
// withdrawals additionally pass through the per-account rate limiter.
func RegisterCustodyRoutes(r fiber.Router, h *custody.Handler, rateLimit fiber.Handler) {
	r.Post("/accounts/:account/deposits", rateLimit, h.Deposit)
	r.Post("/accounts/:account/withdrawals", rateLimit, h.Withdraw)
	r.Get("/accounts/:account/balances/:asset", h.Balance)

	r.Get("/assets", h.Assets)
	r.Get("/assets/:asset/total", h.BankTotal)
	r.Get("/assets/:asset/total-usd", h.BankTotalUSD)

	r.Get("/exposure", h.Exposure)
	r.Get("/counters", h.Counters)
}
